// Package testutil provides shared fixtures and helpers for tests that
// exercise the engine from outside the workflow package.
package testutil
