/*
Package observability provides the metrics and tracing used by the action core.

Metrics are prometheus collectors registered on a caller-supplied registerer;
tracing uses OpenTelemetry and defaults to the global tracer provider, which is
a no-op until the host installs one.
*/
package observability
