// Package workflow implements the saga orchestration engine: versioned
// workflow definitions, dependency-ordered step scheduling with retries
// and conditional skipping, and compensation of committed work in
// reverse completion order when an execution fails or is cancelled.
//
// The Engine is the entry point. Each admitted execution is driven by
// exactly one Coordinator, which serializes all state changes through a
// single run loop and persists every step attempt to an ExecutionStore,
// so an execution can be rebuilt after a crash from its step log alone.
package workflow
