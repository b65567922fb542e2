package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-importer/internal/events"
	"github.com/JakeFAU/bulk-importer/internal/importer"
)

// ErrRejected is returned by Run when the run cannot start in the current state.
var ErrRejected = errors.New("operation rejected in current state")

const cancelledByUser = "Cancelled by user"

// Start begins or resumes processing. It is honored only from Ready or Paused
// and returns immediately; the drain loop runs in the background until the
// queue is exhausted or the run is paused or cancelled. ctx supplies values
// such as trace context; its cancellation does not stop the run.
func (e *Engine) Start(ctx context.Context, opts ...Option) bool {
	e.mu.Lock()
	defer e.unlock()
	if e.state != importer.RunReady && e.state != importer.RunPaused {
		e.logger.Warn("start rejected", zap.String("state", string(e.state)))
		return false
	}
	fresh := e.state == importer.RunReady
	for _, opt := range opts {
		opt(&e.opts)
	}
	e.opts = e.opts.Normalize()
	for _, it := range e.items {
		if !it.State.Terminal() {
			it.MaxAttempts = e.opts.MaxRetries
		}
	}
	if fresh || e.runID == "" {
		id, err := e.ids.NewID()
		if err != nil {
			e.logger.Error("generate run id", zap.Error(err))
			return false
		}
		e.runID = id
	}
	if fresh {
		now := e.clock.Now()
		e.results.StartedAt = &now
		e.results.CompletedAt = nil
		e.results.Duration = 0
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancels = append(e.cancels, cancel)
	e.gen++
	gen := e.gen
	e.transitionLocked(importer.RunProcessing, map[string]any{"resumed": !fresh})
	e.startAutoSaveLocked()

	done := make(chan struct{})
	e.done = done
	e.afterUnlock(func() { go e.drain(runCtx, gen, done) })
	return true
}

// Wait blocks until the most recently started drain loop has exited, which
// includes letting its last batch settle.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for run: %w", ctx.Err())
	}
}

// Run starts the run, waits for the drain loop and returns the final report.
func (e *Engine) Run(ctx context.Context, opts ...Option) (importer.Report, error) {
	if !e.Start(ctx, opts...) {
		return importer.Report{}, fmt.Errorf("start from %s: %w", e.State(), ErrRejected)
	}
	if err := e.Wait(ctx); err != nil {
		return e.GetReport(), err
	}
	return e.GetReport(), nil
}

// Pause stops scheduling new batches. Items already dispatched finish
// normally.
func (e *Engine) Pause() bool {
	e.mu.Lock()
	defer e.unlock()
	if e.state != importer.RunProcessing {
		e.logger.Warn("pause rejected", zap.String("state", string(e.state)))
		return false
	}
	e.gen++
	e.stopAutoSaveLocked()
	e.transitionLocked(importer.RunPaused, nil)
	return true
}

// Resume restarts a paused run.
func (e *Engine) Resume(ctx context.Context) bool {
	if state := e.State(); state != importer.RunPaused {
		e.logger.Warn("resume rejected", zap.String("state", string(state)))
		return false
	}
	return e.Start(ctx)
}

// Cancel signals cancellation to the processor, marks in-flight items
// Skipped and moves the run to Cancelled.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	defer e.unlock()
	return e.cancelLocked()
}

func (e *Engine) cancelLocked() bool {
	if e.state != importer.RunProcessing && e.state != importer.RunPaused {
		e.logger.Warn("cancel rejected", zap.String("state", string(e.state)))
		return false
	}
	e.gen++
	e.cancelRunLocked()
	e.stopAutoSaveLocked()
	now := e.clock.Now()
	for _, it := range e.items {
		if !it.State.InFlight() {
			continue
		}
		it.State = importer.ItemSkipped
		it.Error = cancelledByUser
		it.UpdatedAt = now
		e.results.Skipped++
		e.emitLocked(events.ItemSkipped{Meta: e.metaLocked(), Item: it.Clone(), Reason: cancelledByUser})
	}
	e.transitionLocked(importer.RunCancelled, nil)
	return true
}

func (e *Engine) cancelRunLocked() {
	for _, cancel := range e.cancels {
		cancel()
	}
	e.cancels = nil
}

// Reset cancels any active run, empties the queue and results, returns to
// Idle and removes the persisted snapshot.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.unlock()
	if e.state == importer.RunProcessing || e.state == importer.RunPaused {
		e.cancelLocked()
	}
	e.gen++
	e.cancelRunLocked()
	e.stopAutoSaveLocked()
	e.resetQueueLocked()
	e.forceStateLocked(importer.RunIdle, map[string]any{"reason": "reset"})
	e.runID = ""
	e.persister.remove()
	e.emitLocked(events.Reset{Meta: e.metaLocked()})
}

// SkipItem marks a non-terminal item Skipped with reason. It is allowed in
// any run state; an outcome the processor returns later for the item is
// discarded.
func (e *Engine) SkipItem(id, reason string) bool {
	e.mu.Lock()
	defer e.unlock()
	item, ok := e.byID[id]
	if !ok {
		e.logger.Warn("skip rejected: item not found", zap.String("item_id", id))
		return false
	}
	if item.State.Terminal() {
		e.logger.Warn("skip rejected: item already finished",
			zap.String("item_id", id),
			zap.String("state", string(item.State)),
		)
		return false
	}
	if reason == "" {
		reason = "Skipped by user"
	}
	item.State = importer.ItemSkipped
	item.Error = reason
	item.UpdatedAt = e.clock.Now()
	e.results.Skipped++
	e.emitLocked(events.ItemSkipped{Meta: e.metaLocked(), Item: item.Clone(), Reason: reason})
	return true
}

// Source produces the URLs of a loading phase.
type Source func(ctx context.Context) ([]string, error)

// Load fills an Idle queue from source, passing through Loading. The run
// ends Ready when at least one URL was accepted and Failed otherwise.
func (e *Engine) Load(ctx context.Context, source Source) bool {
	e.mu.Lock()
	if e.state != importer.RunIdle {
		e.logger.Warn("load rejected", zap.String("state", string(e.state)))
		e.unlock()
		return false
	}
	e.transitionLocked(importer.RunLoading, nil)
	e.unlock()

	urls, err := source(ctx)

	e.mu.Lock()
	defer e.unlock()
	if e.state != importer.RunLoading {
		e.logger.Warn("load abandoned", zap.String("state", string(e.state)))
		return false
	}
	if err != nil {
		e.transitionLocked(importer.RunFailed, map[string]any{"error": err.Error()})
		return false
	}
	e.addLocked(urls)
	if len(e.items) == 0 {
		e.transitionLocked(importer.RunFailed, map[string]any{"error": "no valid urls"})
		return false
	}
	return e.transitionLocked(importer.RunReady, map[string]any{"loaded": len(e.items)})
}

// RetryFailed requeues every Failed and Skipped item with a fresh attempt
// budget and re-arms the run so Start is legal. It returns the number of
// requeued items.
func (e *Engine) RetryFailed() int {
	e.mu.Lock()
	defer e.unlock()
	if e.state == importer.RunProcessing || e.state == importer.RunLoading {
		e.logger.Warn("retry failed rejected", zap.String("state", string(e.state)))
		return 0
	}
	now := e.clock.Now()
	retried := make(map[string]struct{})
	for _, it := range e.items {
		switch it.State {
		case importer.ItemFailed:
			e.results.Failed = max(0, e.results.Failed-1)
		case importer.ItemSkipped:
			e.results.Skipped = max(0, e.results.Skipped-1)
		default:
			continue
		}
		it.State = importer.ItemPending
		it.Attempts = 0
		it.Error = ""
		it.ExtractionTime = 0
		it.MaxAttempts = e.opts.MaxRetries
		it.UpdatedAt = now
		retried[it.URL] = struct{}{}
	}
	if len(retried) == 0 {
		return 0
	}
	kept := e.results.Errors[:0]
	for _, entry := range e.results.Errors {
		if _, ok := retried[entry.URL]; !ok {
			kept = append(kept, entry)
		}
	}
	e.results.Errors = kept
	e.rearmLocked()
	e.emitLocked(events.Progress{Meta: e.metaLocked(), Progress: e.progressLocked()})
	return len(retried)
}
