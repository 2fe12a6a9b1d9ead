// Package observability provides structured logging and Prometheus metrics
// for the perch service. Loggers are injected at construction time; nothing
// in this package relies on process-global mutable state.
package observability
