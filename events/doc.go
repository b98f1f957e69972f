// Package events defines the lifecycle event model and the Publisher
// port through which the engine announces execution transitions to an
// external bus. Publish failures are logged by the caller and never
// block or fail an execution.
package events
