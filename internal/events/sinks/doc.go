// Package sinks provides events.Sink implementations that turn engine events
// into logs, Prometheus metrics and run-history rows.
package sinks
