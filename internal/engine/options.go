package engine

import (
	"time"

	"github.com/JakeFAU/bulk-importer/internal/importer"
)

// Option overrides a run tunable when passed to Start or Run.
type Option func(*importer.Options)

// WithOptions replaces every tunable at once.
func WithOptions(opts importer.Options) Option {
	return func(o *importer.Options) { *o = opts }
}

// WithConcurrency sets the batch size.
func WithConcurrency(n int) Option {
	return func(o *importer.Options) { o.Concurrency = n }
}

// WithMaxRetries sets the attempt ceiling of every non-terminal item.
func WithMaxRetries(n int) Option {
	return func(o *importer.Options) { o.MaxRetries = n }
}

// WithRetryDelay sets the base of the linear backoff.
func WithRetryDelay(d time.Duration) Option {
	return func(o *importer.Options) { o.RetryDelay = d }
}

// WithDelayBetweenItems sets the pause between batches.
func WithDelayBetweenItems(d time.Duration) Option {
	return func(o *importer.Options) { o.DelayBetweenItems = d }
}

// WithAutoSaveInterval sets the snapshot cadence while processing.
func WithAutoSaveInterval(d time.Duration) Option {
	return func(o *importer.Options) { o.AutoSaveInterval = d }
}

// WithPersistence toggles snapshot persistence.
func WithPersistence(enabled bool) Option {
	return func(o *importer.Options) { o.PersistToStorage = enabled }
}

// WithSkipConfirmation is forwarded to the processor.
func WithSkipConfirmation(skip bool) Option {
	return func(o *importer.Options) { o.SkipConfirmation = skip }
}
