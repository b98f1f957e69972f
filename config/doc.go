// Package config provides the configuration model for the SagaFlow
// service and a loader that layers defaults, a YAML file, and
// environment variable overrides.
package config
