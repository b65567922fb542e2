package importer

import (
	"context"
	"time"
)

// ProcessOptions accompany each processor call.
type ProcessOptions struct {
	SkipConfirmation bool
	// Stage lets a processor report Validating or Importing while it works.
	// It may be nil.
	Stage func(ItemState)
}

// Processor imports a single URL. Cancellation arrives through ctx and is
// expected to be honored by the implementation.
type Processor interface {
	Process(ctx context.Context, url string, opts ProcessOptions) (ProcessResult, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, url string, opts ProcessOptions) (ProcessResult, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, url string, opts ProcessOptions) (ProcessResult, error) {
	return f(ctx, url, opts)
}

// Store is the durable string-keyed storage used to snapshot run state.
type Store interface {
	Save(ctx context.Context, key, value string) error
	// Load returns ok=false when nothing is stored under key.
	Load(ctx context.Context, key string) (value string, ok bool, err error)
	Remove(ctx context.Context, key string) error
}

// Notifier receives the report of each completed run.
type Notifier interface {
	Notify(ctx context.Context, report CompletionReport) error
}

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock abstracts time so tests can drive timers deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// IDGenerator produces item and run ids.
type IDGenerator interface {
	NewID() (string, error)
}
