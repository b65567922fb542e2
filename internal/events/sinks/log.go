package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-importer/internal/events"
)

// LogSink emits one structured log line per event. Item lifecycle chatter is
// logged at debug; run-level events at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := append([]zap.Field{
			zap.String("kind", string(evt.Kind())),
			zap.String("run_id", evt.EventMeta().RunID),
		}, eventFields(evt)...)
		switch evt.(type) {
		case events.ItemStart, events.ItemComplete, events.Progress:
			s.logger.Debug("import event", fields...)
		default:
			s.logger.Info("import event", fields...)
		}
	}
	return nil
}

func eventFields(evt events.Event) []zap.Field {
	switch e := evt.(type) {
	case events.StateChange:
		return []zap.Field{
			zap.String("previous", string(e.Previous)),
			zap.String("current", string(e.Current)),
			zap.Any("metadata", e.Metadata),
		}
	case events.ItemsAdded:
		return []zap.Field{zap.Int("added", len(e.Items)), zap.Int("total", e.Total)}
	case events.ItemRemoved:
		return []zap.Field{zap.String("url", e.Item.URL), zap.Int("total", e.Total)}
	case events.ItemStart:
		return []zap.Field{zap.String("url", e.Item.URL), zap.Int("attempt", e.Item.Attempts)}
	case events.ItemBlocked:
		return []zap.Field{zap.String("url", e.Item.URL), zap.String("reason", e.Reason)}
	case events.ItemDrafted:
		return []zap.Field{zap.String("url", e.Item.URL), zap.String("reason", e.Reason)}
	case events.ItemComplete:
		return []zap.Field{
			zap.String("url", e.Item.URL),
			zap.String("state", string(e.Item.State)),
			zap.Int("attempts", e.Item.Attempts),
			zap.String("error", e.Item.Error),
			zap.Int("percentage", e.Progress.Percentage),
		}
	case events.Progress:
		return []zap.Field{zap.Int("processed", e.Progress.Processed), zap.Int("total", e.Progress.Total)}
	case events.ItemSkipped:
		return []zap.Field{zap.String("url", e.Item.URL), zap.String("reason", e.Reason)}
	case events.Completed:
		return []zap.Field{
			zap.Int("total", e.Report.Results.Total),
			zap.Int("completed", e.Report.Results.Completed),
			zap.Int("success_rate", e.Report.Results.SuccessRate),
			zap.Duration("duration", e.Report.Results.Duration),
		}
	case events.Restored:
		return []zap.Field{zap.String("state", string(e.State)), zap.Int("total", e.Progress.Total)}
	default:
		return nil
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
