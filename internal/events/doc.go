// Package events defines the closed set of events published by the import
// engine, a synchronous Bus that delivers them to subscribers, and a Hub that
// batches them asynchronously into Sinks (logs, metrics, run history).
//
// The Bus runs every handler inside its own recover guard, so a misbehaving
// subscriber never prevents its siblings from seeing the event. The Hub never
// blocks the publisher: when its buffer is full, events are dropped and a
// rate-limited warning is logged.
package events
