package engine

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-importer/internal/events"
	"github.com/JakeFAU/bulk-importer/internal/importer"
)

// Defaults applied by New when Config leaves a field empty.
const (
	DefaultStateKey   = "bulk_import_state"
	DefaultStaleAfter = 24 * time.Hour
	SnapshotVersion   = "1.0.0"
)

// Config holds engine-level settings that do not change between runs.
type Config struct {
	// Options are the initial run tunables; Start may override them.
	Options importer.Options
	// StateKey is the store key of the persisted snapshot.
	StateKey string
	// StaleAfter discards snapshots older than this on Restore.
	StaleAfter time.Duration
	// Version is stamped on reports and snapshots.
	Version string
	// NotifyTimeout bounds each Notifier call.
	NotifyTimeout time.Duration
	// PersistTimeout bounds each Store call made by the background persister.
	PersistTimeout time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Options:        importer.DefaultOptions(),
		StateKey:       DefaultStateKey,
		StaleAfter:     DefaultStaleAfter,
		Version:        SnapshotVersion,
		NotifyTimeout:  30 * time.Second,
		PersistTimeout: 10 * time.Second,
	}
}

// Engine orchestrates one import queue. It is safe for concurrent use.
type Engine struct {
	processor importer.Processor
	store     importer.Store
	notifier  importer.Notifier
	publisher events.Publisher
	clock     importer.Clock
	ids       importer.IDGenerator
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
	persister *persister

	mu      sync.Mutex
	state   importer.RunState
	items   []*importer.Item
	byID    map[string]*importer.Item
	byURL   map[string]struct{}
	results importer.Results
	opts    importer.Options
	runID   string

	// gen invalidates drain loops: pause, cancel and clear bump it.
	gen     uint64
	cancels []func()
	done    chan struct{}
	// held marks items owned by a processing goroutine, including its backoff.
	held     map[string]struct{}
	released chan struct{}

	autoSaveStop chan struct{}
	notifyWG     sync.WaitGroup

	outbox []events.Event
	after  []func()
}

// New constructs an Engine in the Idle state. store, notifier and publisher
// may be nil.
func New(
	processor importer.Processor,
	store importer.Store,
	notifier importer.Notifier,
	publisher events.Publisher,
	clock importer.Clock,
	ids importer.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.StateKey == "" {
		cfg.StateKey = def.StateKey
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	if cfg.Options == (importer.Options{}) {
		cfg.Options = def.Options
	}
	e := &Engine{
		processor: processor,
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("github.com/JakeFAU/bulk-importer/internal/engine"),
		state:     importer.RunIdle,
		byID:      make(map[string]*importer.Item),
		byURL:     make(map[string]struct{}),
		results:   importer.NewResults(),
		opts:      cfg.Options.Normalize(),
		held:      make(map[string]struct{}),
		released:  make(chan struct{}),
	}
	if store != nil {
		e.persister = newPersister(store, cfg.StateKey, cfg.PersistTimeout, logger.Named("persister"))
	}
	return e
}

// unlock releases the engine lock, then publishes the queued events and runs
// deferred actions in order.
func (e *Engine) unlock() {
	evts := e.outbox
	after := e.after
	e.outbox = nil
	e.after = nil
	e.mu.Unlock()
	if e.publisher != nil {
		for _, evt := range evts {
			e.publisher.Publish(evt)
		}
	}
	for _, fn := range after {
		fn()
	}
}

func (e *Engine) emitLocked(evt events.Event) {
	e.outbox = append(e.outbox, evt)
}

func (e *Engine) afterUnlock(fn func()) {
	e.after = append(e.after, fn)
}

func (e *Engine) metaLocked() events.Meta {
	return events.Meta{RunID: e.runID, At: e.clock.Now()}
}

// State returns the current run state.
func (e *Engine) State() importer.RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// RunID returns the id of the current or most recent run.
func (e *Engine) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// Options returns the tunables the next or current run uses.
func (e *Engine) Options() importer.Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts
}

// CanTransition reports whether the transition table allows moving to next.
func (e *Engine) CanTransition(next importer.RunState) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return importer.CanTransition(e.state, next)
}

// Transition applies next when the table allows it and publishes a
// state_change event. Rejected transitions are logged and leave the state
// unchanged. Run control should normally go through Start, Pause, Cancel and
// friends, which also manage the scheduler.
func (e *Engine) Transition(next importer.RunState, metadata map[string]any) bool {
	e.mu.Lock()
	defer e.unlock()
	return e.transitionLocked(next, metadata)
}

func (e *Engine) transitionLocked(next importer.RunState, metadata map[string]any) bool {
	if !importer.CanTransition(e.state, next) {
		e.logger.Warn("invalid state transition",
			zap.String("from", string(e.state)),
			zap.String("to", string(next)),
		)
		return false
	}
	e.applyStateLocked(next, metadata)
	return true
}

// forceStateLocked moves to next even when the table has no such edge. Used
// by clear, reset and restore, which define their own target state.
func (e *Engine) forceStateLocked(next importer.RunState, metadata map[string]any) {
	if e.state == next {
		return
	}
	e.applyStateLocked(next, metadata)
}

func (e *Engine) applyStateLocked(next importer.RunState, metadata map[string]any) {
	prev := e.state
	e.state = next
	e.logger.Info("run state changed",
		zap.String("run_id", e.runID),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
	)
	e.emitLocked(events.StateChange{
		Meta:     e.metaLocked(),
		Previous: prev,
		Current:  next,
		Metadata: metadata,
		Progress: e.progressLocked(),
	})
	e.saveLocked()
}
