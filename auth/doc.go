// Package auth defines the Authorizer port consulted before executions
// are submitted, read, or cancelled, plus allow-all, static-table, and
// JWT scope-based implementations.
package auth
