package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/bulk-importer/internal/events"
	"github.com/JakeFAU/bulk-importer/internal/importer"
)

// dispatch is one item attempt handed to a processing goroutine.
type dispatch struct {
	id               string
	url              string
	attempt          int
	skipConfirmation bool
}

// drain repeatedly dispatches bounded batches until the queue is exhausted or
// gen is superseded by pause, cancel or clear. A batch fully settles before
// the next one starts.
func (e *Engine) drain(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			e.failRun(gen, fmt.Sprintf("drain loop panic: %v", r))
		}
	}()
	for {
		batch, wait, ok := e.nextBatch(gen)
		if !ok {
			return
		}
		if len(batch) == 0 {
			if wait == nil {
				if e.finish(gen) {
					return
				}
				continue
			}
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return
			}
		}

		var g errgroup.Group
		for _, d := range batch {
			g.Go(func() error {
				e.processItem(ctx, d)
				return nil
			})
		}
		_ = g.Wait()

		if delay, more := e.pacing(gen); more && delay > 0 {
			select {
			case <-e.clock.After(delay):
			case <-ctx.Done():
				return
			}
		}
	}
}

// nextBatch claims up to Concurrency dispatchable items and marks them
// Extracting in queue order. When nothing is dispatchable but items are still
// held by earlier goroutines, wait fires once one is released. ok is false
// once the loop no longer owns the run.
func (e *Engine) nextBatch(gen uint64) (batch []dispatch, wait <-chan struct{}, ok bool) {
	e.mu.Lock()
	defer e.unlock()
	if gen != e.gen || e.state != importer.RunProcessing {
		return nil, nil, false
	}
	now := e.clock.Now()
	for _, it := range e.items {
		if len(batch) >= e.opts.Concurrency {
			break
		}
		if !it.State.Dispatchable() {
			continue
		}
		if _, busy := e.held[it.ID]; busy {
			continue
		}
		e.held[it.ID] = struct{}{}
		it.Attempts++
		it.State = importer.ItemExtracting
		it.UpdatedAt = now
		e.emitLocked(events.ItemStart{Meta: e.metaLocked(), Item: it.Clone()})
		batch = append(batch, dispatch{
			id:               it.ID,
			url:              it.URL,
			attempt:          it.Attempts,
			skipConfirmation: e.opts.SkipConfirmation,
		})
	}
	if len(batch) == 0 && len(e.held) > 0 {
		return nil, e.released, true
	}
	return batch, nil, true
}

// pacing reports the inter-batch delay and whether more work is queued.
func (e *Engine) pacing(gen uint64) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen || e.state != importer.RunProcessing {
		return 0, false
	}
	return e.opts.DelayBetweenItems, e.hasDispatchableLocked()
}

func (e *Engine) hasDispatchableLocked() bool {
	for _, it := range e.items {
		if it.State.Dispatchable() {
			return true
		}
	}
	return false
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.held, id)
	close(e.released)
	e.released = make(chan struct{})
}

func (e *Engine) processItem(ctx context.Context, d dispatch) {
	defer e.release(d.id)
	started := e.clock.Now()
	var (
		res importer.ProcessResult
		err error
	)
	if ctx.Err() != nil {
		err = importer.ErrCancelled
	} else {
		res, err = e.invoke(ctx, d)
	}
	elapsed := e.clock.Now().Sub(started)
	if backoff := e.applyOutcome(d, res, err, elapsed); backoff > 0 {
		select {
		case <-e.clock.After(backoff):
		case <-ctx.Done():
		}
	}
}

// invoke calls the processor inside a span and converts a panic into an error.
func (e *Engine) invoke(ctx context.Context, d dispatch) (res importer.ProcessResult, err error) {
	ctx, span := e.tracer.Start(ctx, "import.process", trace.WithAttributes(
		attribute.String("import.item_id", d.id),
		attribute.String("import.url", d.url),
		attribute.Int("import.attempt", d.attempt),
	))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	return e.processor.Process(ctx, d.url, importer.ProcessOptions{
		SkipConfirmation: d.skipConfirmation,
		Stage:            func(s importer.ItemState) { e.setStage(d, s) },
	})
}

func (e *Engine) setStage(d dispatch, s importer.ItemState) {
	if s != importer.ItemValidating && s != importer.ItemImporting {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.byID[d.id]
	if !ok || it.Attempts != d.attempt || !it.State.InFlight() {
		return
	}
	it.State = s
	it.UpdatedAt = e.clock.Now()
}

// applyOutcome records the attempt result and returns the backoff to sleep
// before the slot is released, or 0.
func (e *Engine) applyOutcome(d dispatch, res importer.ProcessResult, err error, elapsed time.Duration) time.Duration {
	e.mu.Lock()
	defer e.unlock()
	it, ok := e.byID[d.id]
	if !ok || it.Attempts != d.attempt || !it.State.InFlight() {
		e.logger.Debug("discarding outcome for released item", zap.String("item_id", d.id))
		return 0
	}
	now := e.clock.Now()
	it.UpdatedAt = now

	if err == nil {
		switch res.Classify() {
		case importer.OutcomeBlocked:
			reason := res.Error
			if reason == "" {
				reason = "Critical data missing"
			}
			it.State = importer.ItemBlocked
			it.Error = reason
			it.Details = res.Details()
			it.ExtractionTime = elapsed
			e.results.Blocked++
			e.results.BlockedProducts = append(e.results.BlockedProducts, importer.BlockedEntry{
				URL: it.URL, Reason: reason, Details: res.Details(),
			})
			e.emitLocked(events.ItemBlocked{Meta: e.metaLocked(), Item: it.Clone(), Reason: reason, Details: it.Details})
			return 0
		case importer.OutcomeDrafted:
			reason := res.Message
			if reason == "" {
				reason = "Imported as draft with incomplete data"
			}
			it.State = importer.ItemDrafted
			it.Result = res.Product
			it.ExtractionTime = elapsed
			e.results.Drafted++
			e.results.Drafts = append(e.results.Drafts, importer.DraftEntry{
				URL: it.URL, Product: it.Clone().Result, Reason: reason,
			})
			e.emitLocked(events.ItemDrafted{Meta: e.metaLocked(), Item: it.Clone(), Reason: reason})
			return 0
		case importer.OutcomeFailed:
			err = res.Failure()
		case importer.OutcomeSucceeded:
			it.State = importer.ItemCompleted
			it.Result = res.Product
			it.QualityScore = res.Score()
			it.ExtractionTime = elapsed
			it.Error = ""
			e.results.Completed++
			e.results.Products = append(e.results.Products, importer.ProductEntry{
				URL:            it.URL,
				Product:        it.Clone().Result,
				QualityScore:   res.Score(),
				ExtractionTime: elapsed,
			})
		}
	}

	var backoff time.Duration
	if err != nil {
		it.Error = err.Error()
		it.ExtractionTime = elapsed
		if it.Attempts < it.MaxAttempts && !importer.IsCancellation(err) {
			it.State = importer.ItemRetrying
			backoff = e.opts.RetryDelay * time.Duration(it.Attempts)
			e.logger.Info("item attempt failed, retrying",
				zap.String("url", it.URL),
				zap.Int("attempt", it.Attempts),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
		} else {
			it.State = importer.ItemFailed
			e.results.Failed++
			e.results.Errors = append(e.results.Errors, importer.ErrorEntry{
				URL: it.URL, Error: it.Error, Attempts: it.Attempts,
			})
			e.logger.Warn("item failed",
				zap.String("url", it.URL),
				zap.Int("attempts", it.Attempts),
				zap.Error(err),
			)
		}
	}

	progress := e.progressLocked()
	e.emitLocked(events.ItemComplete{Meta: e.metaLocked(), Item: it.Clone(), Progress: progress})
	e.emitLocked(events.Progress{Meta: e.metaLocked(), Progress: progress})
	return backoff
}

// finish completes the run when the queue is exhausted. It returns false when
// new work arrived since the last batch and the loop should continue.
func (e *Engine) finish(gen uint64) bool {
	e.mu.Lock()
	defer e.unlock()
	if gen != e.gen || e.state != importer.RunProcessing {
		return true
	}
	if e.hasDispatchableLocked() || len(e.held) > 0 {
		return false
	}
	e.results.Total = len(e.items)
	e.results.Finish(e.clock.Now())
	e.stopAutoSaveLocked()
	e.transitionLocked(importer.RunCompleted, nil)
	e.cancelRunLocked()
	e.emitLocked(events.Completed{Meta: e.metaLocked(), Report: e.reportLocked()})
	completion := e.results.Completion(e.runID)
	e.logger.Info("run completed",
		zap.String("run_id", e.runID),
		zap.Int("total", completion.Total),
		zap.Int("successful", completion.Successful),
		zap.Int("drafted", completion.Drafted),
		zap.Int("blocked", completion.Blocked),
		zap.Int("failed", completion.Failed),
		zap.Int("success_rate", e.results.SuccessRate),
	)
	e.afterUnlock(func() { e.notify(completion) })
	return true
}

// failRun moves a processing run to Failed with msg as metadata.
func (e *Engine) failRun(gen uint64, msg string) {
	e.mu.Lock()
	defer e.unlock()
	if gen != e.gen || e.state != importer.RunProcessing {
		return
	}
	e.logger.Error("run failed", zap.String("run_id", e.runID), zap.String("error", msg))
	e.stopAutoSaveLocked()
	e.transitionLocked(importer.RunFailed, map[string]any{"error": msg})
	e.cancelRunLocked()
}

// notify hands the completion report to the notifier in the background.
func (e *Engine) notify(report importer.CompletionReport) {
	if e.notifier == nil {
		e.logger.Info("no notification sink configured", zap.String("run_id", report.RunID))
		return
	}
	e.notifyWG.Add(1)
	go func() {
		defer e.notifyWG.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("notifier panicked", zap.String("panic", fmt.Sprint(r)))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.NotifyTimeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, report); err != nil {
			e.logger.Warn("completion notification failed", zap.String("run_id", report.RunID), zap.Error(err))
		}
	}()
}
