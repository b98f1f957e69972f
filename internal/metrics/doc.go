// Package metrics provides the prometheus collector for engine
// instrumentation: execution outcomes, step attempts, retries,
// compensations, and event publish failures.
package metrics
