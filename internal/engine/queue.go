package engine

import (
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-importer/internal/events"
	"github.com/JakeFAU/bulk-importer/internal/importer"
)

// AddItems queues every new, valid http(s) URL as a Pending item and returns
// the created items. Blank, non-http(s) and already queued URLs are dropped.
// Adding to an Idle, Completed, Cancelled or Failed run re-arms it to Ready.
func (e *Engine) AddItems(urls ...string) []importer.Item {
	e.mu.Lock()
	defer e.unlock()
	added := e.addLocked(urls)
	if len(added) > 0 {
		e.rearmLocked()
	}
	return added
}

func (e *Engine) addLocked(urls []string) []importer.Item {
	var added []importer.Item
	now := e.clock.Now()
	for _, raw := range urls {
		u, ok := normalizeURL(raw)
		if !ok {
			continue
		}
		if _, dup := e.byURL[u]; dup {
			continue
		}
		id, err := e.ids.NewID()
		if err != nil {
			e.logger.Error("generate item id", zap.String("url", u), zap.Error(err))
			continue
		}
		item := &importer.Item{
			ID:          id,
			URL:         u,
			State:       importer.ItemPending,
			MaxAttempts: e.opts.MaxRetries,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		e.items = append(e.items, item)
		e.byID[id] = item
		e.byURL[u] = struct{}{}
		added = append(added, item.Clone())
	}
	if len(added) == 0 {
		return nil
	}
	e.results.Total = len(e.items)
	e.emitLocked(events.ItemsAdded{Meta: e.metaLocked(), Items: added, Total: len(e.items)})
	return added
}

// rearmLocked walks legal transitions until start() is reachable again.
func (e *Engine) rearmLocked() {
	if len(e.items) == 0 {
		return
	}
	switch e.state {
	case importer.RunCompleted, importer.RunCancelled:
		e.transitionLocked(importer.RunIdle, nil)
		e.transitionLocked(importer.RunReady, nil)
	case importer.RunIdle, importer.RunFailed:
		e.transitionLocked(importer.RunReady, nil)
	}
}

func normalizeURL(raw string) (string, bool) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return "", false
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	return u, true
}

// RemoveItem deletes an item that is not currently being processed.
func (e *Engine) RemoveItem(id string) bool {
	e.mu.Lock()
	defer e.unlock()
	item, ok := e.byID[id]
	if !ok {
		e.logger.Warn("remove rejected: item not found", zap.String("item_id", id))
		return false
	}
	if item.State.InFlight() {
		e.logger.Warn("remove rejected: item in flight",
			zap.String("item_id", id),
			zap.String("state", string(item.State)),
		)
		return false
	}
	for i, it := range e.items {
		if it == item {
			e.items = append(e.items[:i], e.items[i+1:]...)
			break
		}
	}
	delete(e.byID, id)
	delete(e.byURL, item.URL)
	e.results.Total = len(e.items)
	e.emitLocked(events.ItemRemoved{Meta: e.metaLocked(), Item: item.Clone(), Total: len(e.items)})
	return true
}

// ClearItems empties the queue and the results and returns the run to Idle.
// It is rejected while processing.
func (e *Engine) ClearItems() bool {
	e.mu.Lock()
	defer e.unlock()
	if e.state == importer.RunProcessing {
		e.logger.Warn("clear rejected while processing")
		return false
	}
	if e.state == importer.RunPaused {
		e.gen++
		e.cancelRunLocked()
	}
	e.resetQueueLocked()
	e.emitLocked(events.ItemsCleared{Meta: e.metaLocked()})
	e.forceStateLocked(importer.RunIdle, map[string]any{"reason": "cleared"})
	e.runID = ""
	return true
}

func (e *Engine) resetQueueLocked() {
	e.items = nil
	e.byID = make(map[string]*importer.Item)
	e.byURL = make(map[string]struct{})
	e.results = importer.NewResults()
}

// Items returns copies of every queued item in insertion order.
func (e *Engine) Items() []importer.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]importer.Item, 0, len(e.items))
	for _, it := range e.items {
		out = append(out, it.Clone())
	}
	return out
}

// Item returns a copy of one item.
func (e *Engine) Item(id string) (importer.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.byID[id]
	if !ok {
		return importer.Item{}, false
	}
	return it.Clone(), true
}
