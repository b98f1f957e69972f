// Package store provides the execution store backends: an in-memory
// store for development and tests, a Redis store for distributed
// deployments, and a GORM store covering postgres, mysql, and sqlite.
//
// All backends implement workflow.ExecutionStore with the same
// semantics: executions are created once, step records are append-only,
// and status changes go through an optimistic version check.
package store
