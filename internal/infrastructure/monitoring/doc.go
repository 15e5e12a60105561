// Package monitoring provides Prometheus metrics for the workspace store and
// its HTTP surface: request counters and latency histograms, workspace
// lifecycle counters, entity operation counters, and reap sweep outcomes.
package monitoring
