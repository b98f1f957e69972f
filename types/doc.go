// Package types defines shared primitives for the SagaFlow engine:
// the structured error taxonomy used across validation, execution,
// compensation, and coordinator fault handling.
package types
