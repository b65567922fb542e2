package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-importer/internal/clock/system"
	"github.com/JakeFAU/bulk-importer/internal/events"
	"github.com/JakeFAU/bulk-importer/internal/importer"
)

type harness struct {
	eng      *Engine
	bus      *events.Bus
	rec      *recorder
	store    *memStore
	notifier *recordingNotifier
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	cfg       Config
	clock     importer.Clock
	store     *memStore
	noNotify  bool
	logger    *zap.Logger
}

func withClock(c importer.Clock) harnessOption {
	return func(h *harnessConfig) { h.clock = c }
}

func withStore(s *memStore) harnessOption {
	return func(h *harnessConfig) { h.store = s }
}

func withoutNotifier() harnessOption {
	return func(h *harnessConfig) { h.noNotify = true }
}

func withLogger(l *zap.Logger) harnessOption {
	return func(h *harnessConfig) { h.logger = l }
}

func withOptions(fn func(*importer.Options)) harnessOption {
	return func(h *harnessConfig) { fn(&h.cfg.Options) }
}

func testOptions() importer.Options {
	return importer.Options{
		Concurrency:      1,
		MaxRetries:       3,
		PersistToStorage: true,
		SkipConfirmation: true,
	}
}

func newHarness(t *testing.T, proc importer.Processor, opts ...harnessOption) *harness {
	t.Helper()
	hc := harnessConfig{
		cfg:   Config{Options: testOptions()},
		clock: system.New(),
	}
	for _, opt := range opts {
		opt(&hc)
	}
	if hc.store == nil {
		hc.store = newMemStore()
	}
	h := &harness{
		bus:   events.NewBus(nil),
		rec:   &recorder{},
		store: hc.store,
	}
	h.bus.SubscribeAll(h.rec.handle)
	var notifier importer.Notifier
	if !hc.noNotify {
		h.notifier = &recordingNotifier{}
		notifier = h.notifier
	}
	h.eng = New(proc, hc.store, notifier, h.bus, hc.clock, &seqIDs{}, hc.cfg, hc.logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if h.eng.State() == importer.RunProcessing {
			h.eng.Cancel()
		}
		_ = h.eng.Wait(ctx)
		_ = h.eng.Close(ctx)
	})
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.eng.Wait(ctx))
}

func (h *harness) itemByURL(t *testing.T, url string) importer.Item {
	t.Helper()
	for _, it := range h.eng.Items() {
		if it.URL == url {
			return it
		}
	}
	t.Fatalf("item %s not found", url)
	return importer.Item{}
}

type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("id-%d", s.n.Add(1)), nil
}

type recorder struct {
	mu   sync.Mutex
	evts []events.Event
}

func (r *recorder) handle(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evts = append(r.evts, evt)
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.evts...)
}

func (r *recorder) count(kind events.Kind) int {
	n := 0
	for _, evt := range r.all() {
		if evt.Kind() == kind {
			n++
		}
	}
	return n
}

func (r *recorder) transitionsTo(state importer.RunState) int {
	n := 0
	for _, evt := range r.all() {
		if sc, ok := evt.(events.StateChange); ok && sc.Current == state {
			n++
		}
	}
	return n
}

type memStore struct {
	mu      sync.Mutex
	data    map[string]string
	saves   int
	removes int
	failing bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) Save(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("store unavailable")
	}
	s.saves++
	s.data[key] = value
	return nil
}

func (s *memStore) Load(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removes++
	delete(s.data, key)
	return nil
}

func (s *memStore) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type recordingNotifier struct {
	mu      sync.Mutex
	reports []importer.CompletionReport
}

func (n *recordingNotifier) Notify(_ context.Context, report importer.CompletionReport) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, report)
	return nil
}

func (n *recordingNotifier) Reports() []importer.CompletionReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]importer.CompletionReport(nil), n.reports...)
}

// script answers each URL with a queue of canned outcomes; the last one repeats.
type script struct {
	mu    sync.Mutex
	steps map[string][]func(ctx context.Context) (importer.ProcessResult, error)
	calls map[string]int
}

func newScript() *script {
	return &script{
		steps: make(map[string][]func(context.Context) (importer.ProcessResult, error)),
		calls: make(map[string]int),
	}
}

func (s *script) on(url string, steps ...func(ctx context.Context) (importer.ProcessResult, error)) *script {
	s.steps[url] = steps
	return s
}

func (s *script) Process(ctx context.Context, url string, _ importer.ProcessOptions) (importer.ProcessResult, error) {
	s.mu.Lock()
	n := s.calls[url]
	s.calls[url]++
	steps := s.steps[url]
	s.mu.Unlock()
	if len(steps) == 0 {
		return succeed()(ctx)
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	return steps[n](ctx)
}

func (s *script) callsFor(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

func succeed() func(context.Context) (importer.ProcessResult, error) {
	return func(context.Context) (importer.ProcessResult, error) {
		return importer.ProcessResult{Success: true, Product: importer.Product{"title": "ok"}}, nil
	}
}

func fail(msg string) func(context.Context) (importer.ProcessResult, error) {
	return func(context.Context) (importer.ProcessResult, error) {
		return importer.ProcessResult{}, errors.New(msg)
	}
}

func blocked(reason string) func(context.Context) (importer.ProcessResult, error) {
	return func(context.Context) (importer.ProcessResult, error) {
		return importer.ProcessResult{
			Status: importer.StatusBlocked,
			Error:  reason,
			Validation: &importer.Validation{
				ImportDecision: &importer.ImportDecision{Details: []any{"price missing"}},
			},
		}, nil
	}
}

func drafted(msg string) func(context.Context) (importer.ProcessResult, error) {
	return func(context.Context) (importer.ProcessResult, error) {
		return importer.ProcessResult{
			Status:  importer.StatusDrafted,
			Product: importer.Product{"title": "draft"},
			Message: msg,
		}, nil
	}
}

// gate blocks every call until released or the context ends.
type gate struct {
	started chan string
	release chan struct{}
}

func newGate() *gate {
	return &gate{started: make(chan string, 64), release: make(chan struct{})}
}

func (g *gate) Process(ctx context.Context, url string, _ importer.ProcessOptions) (importer.ProcessResult, error) {
	g.started <- url
	select {
	case <-g.release:
		return importer.ProcessResult{Success: true, Product: importer.Product{"url": url}}, nil
	case <-ctx.Done():
		return importer.ProcessResult{}, ctx.Err()
	}
}

func (g *gate) awaitStart(t *testing.T) string {
	t.Helper()
	select {
	case url := <-g.started:
		return url
	case <-time.After(5 * time.Second):
		t.Fatal("processor was not called")
		return ""
	}
}
