// Package logging provides structured logging using uber/zap.
//
// Two modes, selected by configuration:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for human readability
//
// The store logs at Info for lifecycle events (workspace created, reaped,
// imported), at Warn for recovered conditions (corrupt entity skipped during
// a listing, best-effort reap failures), and at Error for surfaced failures.
package logging
