package importer

import (
	"time"
)

// RunState is the coarse-grained state of a whole import run.
type RunState string

// Run states driven by the engine's transition table.
const (
	RunIdle       RunState = "idle"
	RunLoading    RunState = "loading"
	RunReady      RunState = "ready"
	RunProcessing RunState = "processing"
	RunPaused     RunState = "paused"
	RunCompleted  RunState = "completed"
	RunFailed     RunState = "failed"
	RunCancelled  RunState = "cancelled"
)

// ItemState is the lifecycle state of a single imported URL.
type ItemState string

// Item states. Completed, Drafted, Blocked, Failed and Skipped are terminal.
const (
	ItemPending    ItemState = "pending"
	ItemExtracting ItemState = "extracting"
	ItemValidating ItemState = "validating"
	ItemImporting  ItemState = "importing"
	ItemCompleted  ItemState = "completed"
	ItemDrafted    ItemState = "drafted"
	ItemBlocked    ItemState = "blocked"
	ItemFailed     ItemState = "failed"
	ItemSkipped    ItemState = "skipped"
	ItemRetrying   ItemState = "retrying"
)

// InFlight reports whether the item is currently held by a processing slot.
func (s ItemState) InFlight() bool {
	switch s {
	case ItemExtracting, ItemValidating, ItemImporting:
		return true
	default:
		return false
	}
}

// Dispatchable reports whether the scheduler may pick the item up.
func (s ItemState) Dispatchable() bool {
	return s == ItemPending || s == ItemRetrying
}

// Terminal reports whether the state is never re-entered automatically.
func (s ItemState) Terminal() bool {
	switch s {
	case ItemCompleted, ItemDrafted, ItemBlocked, ItemFailed, ItemSkipped:
		return true
	default:
		return false
	}
}

// DefaultMaxAttempts is the attempt ceiling given to new items.
const DefaultMaxAttempts = 3

// Product is the opaque payload returned by an Item Processor.
type Product map[string]any

// Item is the unit of work for one URL.
type Item struct {
	ID             string        `json:"id"`
	URL            string        `json:"url"`
	State          ItemState     `json:"state"`
	Attempts       int           `json:"attempts"`
	MaxAttempts    int           `json:"max_attempts"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Error          string        `json:"error,omitempty"`
	Result         Product       `json:"result,omitempty"`
	QualityScore   *float64      `json:"quality_score,omitempty"`
	ExtractionTime time.Duration `json:"extraction_time,omitempty"`
	// Details carries the structured reasons attached to a blocked outcome.
	Details []any `json:"details,omitempty"`
}

// Clone returns a deep enough copy for handing out of the engine lock.
func (it Item) Clone() Item {
	cp := it
	if it.Result != nil {
		cp.Result = make(Product, len(it.Result))
		for k, v := range it.Result {
			cp.Result[k] = v
		}
	}
	if it.QualityScore != nil {
		score := *it.QualityScore
		cp.QualityScore = &score
	}
	if it.Details != nil {
		cp.Details = append([]any(nil), it.Details...)
	}
	return cp
}

// ItemReport is the light per-item view used in reports; product payloads are excluded.
type ItemReport struct {
	ID             string        `json:"id"`
	URL            string        `json:"url"`
	State          ItemState     `json:"state"`
	Attempts       int           `json:"attempts"`
	QualityScore   *float64      `json:"quality_score,omitempty"`
	ExtractionTime time.Duration `json:"extraction_time,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Report projects the item into its reportable fields.
func (it Item) Report() ItemReport {
	r := ItemReport{
		ID:             it.ID,
		URL:            it.URL,
		State:          it.State,
		Attempts:       it.Attempts,
		ExtractionTime: it.ExtractionTime,
		Error:          it.Error,
	}
	if it.QualityScore != nil {
		score := *it.QualityScore
		r.QualityScore = &score
	}
	return r
}

// Options are the tunables of a run. They change only when a run starts.
type Options struct {
	Concurrency       int           `json:"concurrency"`
	MaxRetries        int           `json:"max_retries"`
	RetryDelay        time.Duration `json:"retry_delay"`
	DelayBetweenItems time.Duration `json:"delay_between_items"`
	AutoSaveInterval  time.Duration `json:"auto_save_interval"`
	PersistToStorage  bool          `json:"persist_to_storage"`
	SkipConfirmation  bool          `json:"skip_confirmation"`
}

// DefaultOptions mirrors the documented defaults.
func DefaultOptions() Options {
	return Options{
		Concurrency:       2,
		MaxRetries:        3,
		RetryDelay:        2 * time.Second,
		DelayBetweenItems: 500 * time.Millisecond,
		AutoSaveInterval:  5 * time.Second,
		PersistToStorage:  true,
		SkipConfirmation:  true,
	}
}

// Normalize clamps values that would stall or break the scheduler.
func (o Options) Normalize() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = 1
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.DelayBetweenItems < 0 {
		o.DelayBetweenItems = 0
	}
	if o.AutoSaveInterval < 0 {
		o.AutoSaveInterval = 0
	}
	return o
}

// ReportOptions is Options with the persistence flag stripped.
type ReportOptions struct {
	Concurrency       int           `json:"concurrency"`
	MaxRetries        int           `json:"max_retries"`
	RetryDelay        time.Duration `json:"retry_delay"`
	DelayBetweenItems time.Duration `json:"delay_between_items"`
	AutoSaveInterval  time.Duration `json:"auto_save_interval"`
}

// Redacted returns the options as exposed in reports.
func (o Options) Redacted() ReportOptions {
	return ReportOptions{
		Concurrency:       o.Concurrency,
		MaxRetries:        o.MaxRetries,
		RetryDelay:        o.RetryDelay,
		DelayBetweenItems: o.DelayBetweenItems,
		AutoSaveInterval:  o.AutoSaveInterval,
	}
}

// Progress is the on-demand projection over current item states.
type Progress struct {
	Total       int `json:"total"`
	Processed   int `json:"processed"`
	Completed   int `json:"completed"`
	Drafted     int `json:"drafted"`
	Blocked     int `json:"blocked"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
	Pending     int `json:"pending"`
	InProgress  int `json:"in_progress"`
	Percentage  int `json:"percentage"`
	SuccessRate int `json:"success_rate"`
}

// Report is the full serializable snapshot of a run.
type Report struct {
	Version  string        `json:"version"`
	RunID    string        `json:"run_id,omitempty"`
	State    RunState      `json:"state"`
	Config   ReportOptions `json:"config"`
	Progress Progress      `json:"progress"`
	Results  Results       `json:"results"`
	Items    []ItemReport  `json:"items"`
}

// CompletionReport is what the notification sink receives once per completed run.
type CompletionReport struct {
	RunID           string         `json:"run_id,omitempty"`
	Total           int            `json:"total"`
	Successful      int            `json:"successful"`
	Drafted         int            `json:"drafted"`
	Blocked         int            `json:"blocked"`
	Failed          int            `json:"failed"`
	Products        []ProductEntry `json:"products"`
	Drafts          []DraftEntry   `json:"drafts"`
	BlockedProducts []BlockedEntry `json:"blocked_products"`
	Errors          []ErrorEntry   `json:"errors"`
}
