package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-importer/internal/events"
	"github.com/JakeFAU/bulk-importer/internal/importer"
)

// snapshot is the persisted form of the engine.
type snapshot struct {
	Version string            `json:"version"`
	SavedAt time.Time         `json:"saved_at"`
	State   importer.RunState `json:"state"`
	RunID   string            `json:"run_id,omitempty"`
	Items   []importer.Item   `json:"items"`
	Results importer.Results  `json:"results"`
	Config  importer.Options  `json:"config"`
}

func (e *Engine) persistEnabled() bool {
	return e.persister != nil && e.opts.PersistToStorage
}

// saveLocked queues a snapshot write. The write happens on the persister
// goroutine, so the caller never waits on the store.
func (e *Engine) saveLocked() {
	if !e.persistEnabled() {
		return
	}
	snap := snapshot{
		Version: e.cfg.Version,
		SavedAt: e.clock.Now(),
		State:   e.state,
		RunID:   e.runID,
		Items:   make([]importer.Item, 0, len(e.items)),
		Results: e.results.Clone(),
		Config:  e.opts,
	}
	for _, it := range e.items {
		snap.Items = append(snap.Items, it.Clone())
	}
	data, err := json.Marshal(snap)
	if err != nil {
		e.logger.Error("encode snapshot", zap.Error(err))
		return
	}
	e.persister.save(string(data))
}

// Save queues an immediate snapshot when persistence is enabled.
func (e *Engine) Save() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.saveLocked()
}

func (e *Engine) startAutoSaveLocked() {
	e.stopAutoSaveLocked()
	if !e.persistEnabled() || e.opts.AutoSaveInterval <= 0 {
		return
	}
	ticker := e.clock.NewTicker(e.opts.AutoSaveInterval)
	stop := make(chan struct{})
	e.autoSaveStop = stop
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				e.Save()
			case <-stop:
				return
			}
		}
	}()
}

func (e *Engine) stopAutoSaveLocked() {
	if e.autoSaveStop != nil {
		close(e.autoSaveStop)
		e.autoSaveStop = nil
	}
}

// Restore loads the persisted snapshot into an idle, empty engine. Snapshots
// older than StaleAfter are removed; only Processing or Paused snapshots are
// restored. In-flight items come back Pending and the run comes back Paused.
func (e *Engine) Restore(ctx context.Context) bool {
	if e.store == nil {
		return false
	}
	raw, ok, err := e.store.Load(ctx, e.cfg.StateKey)
	if err != nil {
		e.logger.Warn("load snapshot", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		e.logger.Warn("decode snapshot, discarding", zap.Error(err))
		e.persister.remove()
		return false
	}

	e.mu.Lock()
	defer e.unlock()
	if age := e.clock.Now().Sub(snap.SavedAt); age > e.cfg.StaleAfter {
		e.logger.Info("discarding stale snapshot", zap.Duration("age", age))
		e.persister.remove()
		return false
	}
	if snap.State != importer.RunProcessing && snap.State != importer.RunPaused {
		e.logger.Debug("snapshot not resumable", zap.String("state", string(snap.State)))
		return false
	}
	if e.state != importer.RunIdle || len(e.items) > 0 {
		e.logger.Warn("restore rejected", zap.String("state", string(e.state)))
		return false
	}

	e.resetQueueLocked()
	for i := range snap.Items {
		it := snap.Items[i]
		if it.State.InFlight() {
			it.State = importer.ItemPending
		}
		if it.MaxAttempts <= 0 {
			it.MaxAttempts = importer.DefaultMaxAttempts
		}
		if _, dup := e.byURL[it.URL]; dup || it.ID == "" {
			continue
		}
		item := &it
		e.items = append(e.items, item)
		e.byID[item.ID] = item
		e.byURL[item.URL] = struct{}{}
	}
	e.results = snap.Results.Clone()
	e.results.Total = len(e.items)
	if snap.Config != (importer.Options{}) {
		e.opts = snap.Config.Normalize()
	}
	e.runID = snap.RunID
	e.forceStateLocked(importer.RunPaused, map[string]any{"restored": true})
	e.emitLocked(events.Restored{Meta: e.metaLocked(), State: snap.State, Progress: e.progressLocked()})
	e.logger.Info("snapshot restored",
		zap.String("run_id", e.runID),
		zap.String("persisted_state", string(snap.State)),
		zap.Int("items", len(e.items)),
	)
	return true
}

// Close stops auto-save, writes a final snapshot for an unfinished run and
// waits for pending notifications and store writes.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.stopAutoSaveLocked()
	if e.state == importer.RunProcessing || e.state == importer.RunPaused {
		e.saveLocked()
	}
	e.unlock()

	notified := make(chan struct{})
	go func() {
		e.notifyWG.Wait()
		close(notified)
	}()
	select {
	case <-notified:
	case <-ctx.Done():
		return fmt.Errorf("wait for notifications: %w", ctx.Err())
	}
	return e.persister.close(ctx)
}

// persister applies store writes in submission order on one goroutine.
// Pending writes coalesce: only the latest save or remove is executed.
type persister struct {
	store   importer.Store
	key     string
	timeout time.Duration
	logger  *zap.Logger

	mu         sync.Mutex
	next       *persistOp
	submitted  uint64
	completed  uint64
	progressed chan struct{}
	closed     bool

	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type persistOp struct {
	seq    uint64
	remove bool
	value  string
}

func newPersister(store importer.Store, key string, timeout time.Duration, logger *zap.Logger) *persister {
	p := &persister{
		store:      store,
		key:        key,
		timeout:    timeout,
		logger:     logger,
		progressed: make(chan struct{}),
		kick:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) save(value string) {
	p.submit(persistOp{value: value})
}

func (p *persister) remove() {
	p.submit(persistOp{remove: true})
}

func (p *persister) submit(op persistOp) {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Debug("persister closed, dropping write")
		return
	}
	p.submitted++
	op.seq = p.submitted
	p.next = &op
	p.mu.Unlock()
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.kick:
			p.drain()
		case <-p.stop:
			p.drain()
			return
		}
	}
}

func (p *persister) drain() {
	for {
		p.mu.Lock()
		op := p.next
		p.next = nil
		p.mu.Unlock()
		if op == nil {
			return
		}
		p.execute(*op)
		p.mu.Lock()
		p.completed = op.seq
		close(p.progressed)
		p.progressed = make(chan struct{})
		p.mu.Unlock()
	}
}

func (p *persister) execute(op persistOp) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if op.remove {
		if err := p.store.Remove(ctx, p.key); err != nil {
			p.logger.Warn("remove snapshot", zap.Error(err))
		}
		return
	}
	if err := p.store.Save(ctx, p.key, op.value); err != nil {
		p.logger.Warn("save snapshot", zap.Error(err))
	}
}

// flush waits until every write submitted before the call has been applied.
func (p *persister) flush(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	target := p.submitted
	p.mu.Unlock()
	for {
		p.mu.Lock()
		if p.completed >= target {
			p.mu.Unlock()
			return nil
		}
		ch := p.progressed
		p.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("flush snapshot writes: %w", ctx.Err())
		}
	}
}

func (p *persister) close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	err := p.flush(ctx)
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.stop)
	})
	select {
	case <-p.done:
	case <-ctx.Done():
		return fmt.Errorf("close persister: %w", ctx.Err())
	}
	return err
}

// Flush waits for queued snapshot writes to reach the store.
func (e *Engine) Flush(ctx context.Context) error {
	return e.persister.flush(ctx)
}
