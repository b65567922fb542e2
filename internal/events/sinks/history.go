package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-importer/internal/events"
	"github.com/JakeFAU/bulk-importer/internal/history"
	"github.com/JakeFAU/bulk-importer/internal/importer"
)

// HistorySink persists run starts, terminal item outcomes and run completion
// through a history.Repository.
type HistorySink struct {
	repo   history.Repository
	logger *zap.Logger
}

// NewHistorySink constructs a HistorySink for the provided repository.
func NewHistorySink(repo history.Repository, logger *zap.Logger) *HistorySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistorySink{repo: repo, logger: logger}
}

// Consume forwards the batch to the repository in order and returns the first
// repository error.
func (s *HistorySink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.EventMeta().RunID == "" {
			continue
		}
		if err := s.consumeEvent(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *HistorySink) consumeEvent(ctx context.Context, evt events.Event) error {
	switch e := evt.(type) {
	case events.StateChange:
		return s.handleStateChange(ctx, e)
	case events.ItemBlocked:
		return s.recordItem(ctx, e.Meta, e.Item)
	case events.ItemDrafted:
		return s.recordItem(ctx, e.Meta, e.Item)
	case events.ItemSkipped:
		return s.recordItem(ctx, e.Meta, e.Item)
	case events.ItemComplete:
		if !e.Item.State.Terminal() {
			return nil
		}
		return s.recordItem(ctx, e.Meta, e.Item)
	}
	return nil
}

func (s *HistorySink) handleStateChange(ctx context.Context, e events.StateChange) error {
	if e.Current == importer.RunProcessing && e.Previous == importer.RunReady {
		if err := s.repo.UpsertRunStart(ctx, e.RunID, e.At); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
		return nil
	}
	status, ok := history.StatusFor(e.Current)
	if !ok {
		return nil
	}
	var errMsg *string
	if msg, ok := e.Metadata["error"].(string); ok && msg != "" {
		errMsg = &msg
	}
	if err := s.repo.CompleteRun(ctx, e.RunID, e.At, status, history.CountsFrom(e.Progress), errMsg); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func (s *HistorySink) recordItem(ctx context.Context, meta events.Meta, item importer.Item) error {
	outcome := history.ItemOutcome{
		RunID:        meta.RunID,
		ItemID:       item.ID,
		URL:          item.URL,
		State:        item.State,
		Attempts:     item.Attempts,
		Error:        item.Error,
		QualityScore: item.QualityScore,
		RecordedAt:   meta.At,
	}
	if err := s.repo.RecordItemOutcome(ctx, outcome); err != nil {
		return fmt.Errorf("record item outcome: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *HistorySink) Close(context.Context) error {
	return nil
}
