// Package metrics exposes Prometheus collectors for the Roku bridge:
// commands dispatched, vendor failures, poll outcomes and latency, device
// availability, browse image cache efficiency and HTTP API traffic.
//
// When metrics are disabled New returns a no-op Recorder so callers never
// need nil checks.
package metrics
