// Package observability builds the zap logger and the Prometheus collectors
// used across the gateway.
//
// Metrics implements the observer interfaces of the transport, dedup and
// retry packages so those packages stay free of Prometheus imports.
package observability
