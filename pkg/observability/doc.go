// Package observability bundles the operational concerns shared by every
// part of the access core: structured JSON logging over log/slog, Prometheus
// metrics, optional OpenTelemetry tracing, dependency health checks, and
// coordinated graceful shutdown.
//
// The package is intentionally free of domain imports so that access, cache,
// events, and audit can all depend on it without cycles.
package observability
