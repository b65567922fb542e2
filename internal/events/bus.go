package events

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Handler receives published events.
type Handler func(Event)

// Publisher accepts events; Bus satisfies it so the engine stays agnostic
// about delivery.
type Publisher interface {
	Publish(evt Event)
}

// Bus is a synchronous, typed publish/subscribe registry. Handlers run on the
// publishing goroutine in subscription order. It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	byKind map[Kind]map[uint64]Handler
	all    map[uint64]Handler
	logger *zap.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		byKind: make(map[Kind]map[uint64]Handler),
		all:    make(map[uint64]Handler),
		logger: logger,
	}
}

// Subscribe registers h for one kind. The returned func removes it and is
// safe to call more than once.
func (b *Bus) Subscribe(kind Kind, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.byKind[kind] == nil {
		b.byKind[kind] = make(map[uint64]Handler)
	}
	b.byKind[kind][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.byKind[kind], id)
	}
}

// SubscribeAll registers h for every kind.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// On subscribes a handler typed to one concrete event.
func On[E Event](b *Bus, h func(E)) (unsubscribe func()) {
	var zero E
	return b.Subscribe(zero.Kind(), func(evt Event) {
		if typed, ok := evt.(E); ok {
			h(typed)
		}
	})
}

type entry struct {
	id uint64
	h  Handler
}

// Publish delivers evt to every matching handler. A panicking handler is
// logged and does not stop delivery to the others.
func (b *Bus) Publish(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.RLock()
	targets := make([]entry, 0, len(b.byKind[evt.Kind()])+len(b.all))
	for id, h := range b.byKind[evt.Kind()] {
		targets = append(targets, entry{id: id, h: h})
	}
	for id, h := range b.all {
		targets = append(targets, entry{id: id, h: h})
	}
	b.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	for _, t := range targets {
		b.deliver(t.h, evt)
	}
}

func (b *Bus) deliver(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("kind", string(evt.Kind())),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	h(evt)
}
