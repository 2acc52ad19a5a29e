// Package metrics exposes Prometheus metrics for the whisper tracker.
package metrics
