// Command sagaflow runs the workflow orchestration service: it loads
// workflow definitions, starts the engine, and exposes an operational
// endpoint for health checks and Prometheus metrics.
package main
