// Package metric provides Prometheus metrics for captoken.
//
// A Registry owns its own prometheus.Registry so tests can create
// independent instances; Handler serves it on /metrics.
package metric
