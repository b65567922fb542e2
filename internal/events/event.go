package events

import (
	"time"

	"github.com/JakeFAU/bulk-importer/internal/importer"
)

// Kind discriminates events.
type Kind string

// Event kinds published by the engine.
const (
	KindStateChange  Kind = "state_change"
	KindItemsAdded   Kind = "items_added"
	KindItemRemoved  Kind = "item_removed"
	KindItemsCleared Kind = "items_cleared"
	KindItemStart    Kind = "item_start"
	KindItemBlocked  Kind = "item_blocked"
	KindItemDrafted  Kind = "item_drafted"
	KindItemComplete Kind = "item_complete"
	KindProgress     Kind = "progress"
	KindItemSkipped  Kind = "item_skipped"
	KindCompleted    Kind = "completed"
	KindRestored     Kind = "restored"
	KindReset        Kind = "reset"
)

// Kinds lists every kind in publication-table order.
func Kinds() []Kind {
	return []Kind{
		KindStateChange, KindItemsAdded, KindItemRemoved, KindItemsCleared,
		KindItemStart, KindItemBlocked, KindItemDrafted, KindItemComplete,
		KindProgress, KindItemSkipped, KindCompleted, KindRestored, KindReset,
	}
}

// Meta is carried by every event.
type Meta struct {
	// RunID is empty until the first run starts.
	RunID string `json:"run_id,omitempty"`
	// At is the engine clock reading when the event was produced.
	At time.Time `json:"at"`
}

// Event is the closed union of engine events. Only types in this package
// implement it.
type Event interface {
	Kind() Kind
	EventMeta() Meta
	sealed()
}

// EventMeta returns the shared envelope.
func (m Meta) EventMeta() Meta { return m }

func (Meta) sealed() {}

// StateChange reports an accepted (or forced) run state transition.
type StateChange struct {
	Meta
	Previous importer.RunState `json:"previous"`
	Current  importer.RunState `json:"current"`
	Metadata map[string]any    `json:"metadata,omitempty"`
	Progress importer.Progress `json:"progress"`
}

// ItemsAdded lists the items created by one add call.
type ItemsAdded struct {
	Meta
	Items []importer.Item `json:"items"`
	Total int             `json:"total"`
}

// ItemRemoved carries the removed item.
type ItemRemoved struct {
	Meta
	Item  importer.Item `json:"item"`
	Total int           `json:"total"`
}

// ItemsCleared is published after the queue was emptied.
type ItemsCleared struct {
	Meta
}

// ItemStart is published when an attempt begins.
type ItemStart struct {
	Meta
	Item importer.Item `json:"item"`
}

// ItemBlocked reports an item refused for missing critical data.
type ItemBlocked struct {
	Meta
	Item    importer.Item `json:"item"`
	Reason  string        `json:"reason"`
	Details []any         `json:"details,omitempty"`
}

// ItemDrafted reports an item imported as a draft.
type ItemDrafted struct {
	Meta
	Item   importer.Item `json:"item"`
	Reason string        `json:"reason"`
}

// ItemComplete closes an attempt that succeeded, failed, or was rescheduled.
type ItemComplete struct {
	Meta
	Item     importer.Item     `json:"item"`
	Progress importer.Progress `json:"progress"`
}

// Progress is the generic progress tick.
type Progress struct {
	Meta
	Progress importer.Progress `json:"progress"`
}

// ItemSkipped reports a manual or cancellation skip.
type ItemSkipped struct {
	Meta
	Item   importer.Item `json:"item"`
	Reason string        `json:"reason"`
}

// Completed carries the final report of a drained run.
type Completed struct {
	Meta
	Report importer.Report `json:"report"`
}

// Restored is published after a persisted snapshot was loaded.
type Restored struct {
	Meta
	State    importer.RunState `json:"state"`
	Progress importer.Progress `json:"progress"`
}

// Reset is published after the engine returned to a clean Idle state.
type Reset struct {
	Meta
}

// Kind implements Event.
func (StateChange) Kind() Kind { return KindStateChange }

// Kind implements Event.
func (ItemsAdded) Kind() Kind { return KindItemsAdded }

// Kind implements Event.
func (ItemRemoved) Kind() Kind { return KindItemRemoved }

// Kind implements Event.
func (ItemsCleared) Kind() Kind { return KindItemsCleared }

// Kind implements Event.
func (ItemStart) Kind() Kind { return KindItemStart }

// Kind implements Event.
func (ItemBlocked) Kind() Kind { return KindItemBlocked }

// Kind implements Event.
func (ItemDrafted) Kind() Kind { return KindItemDrafted }

// Kind implements Event.
func (ItemComplete) Kind() Kind { return KindItemComplete }

// Kind implements Event.
func (Progress) Kind() Kind { return KindProgress }

// Kind implements Event.
func (ItemSkipped) Kind() Kind { return KindItemSkipped }

// Kind implements Event.
func (Completed) Kind() Kind { return KindCompleted }

// Kind implements Event.
func (Restored) Kind() Kind { return KindRestored }

// Kind implements Event.
func (Reset) Kind() Kind { return KindReset }
