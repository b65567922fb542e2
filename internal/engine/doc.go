// Package engine drives a bulk import run: the run state machine, the item
// queue, the batch scheduler with per-item retries, the results aggregator
// and snapshot persistence.
//
// All engine state is guarded by a single mutex. Events are collected while
// the lock is held and published after it is released, so subscribers may call
// back into the engine. Processor calls, backoff sleeps and pacing sleeps all
// run without the lock.
package engine
