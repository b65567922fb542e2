package importer

import (
	"math"
	"time"
)

// ProductEntry is the denormalized record of a successful import.
type ProductEntry struct {
	URL            string        `json:"url"`
	Product        Product       `json:"product"`
	QualityScore   *float64      `json:"quality_score,omitempty"`
	ExtractionTime time.Duration `json:"extraction_time"`
}

// DraftEntry records an item imported as a draft.
type DraftEntry struct {
	URL     string  `json:"url"`
	Product Product `json:"product"`
	Reason  string  `json:"reason"`
}

// BlockedEntry records an item refused for missing critical data.
type BlockedEntry struct {
	URL     string `json:"url"`
	Reason  string `json:"reason"`
	Details []any  `json:"details,omitempty"`
}

// ErrorEntry records an item that exhausted its attempts.
type ErrorEntry struct {
	URL      string `json:"url"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// Results aggregates counters and categorized outcomes for one run. The
// collections hold snapshots so the report survives clearing the queue.
type Results struct {
	Total           int            `json:"total"`
	Completed       int            `json:"completed"`
	Drafted         int            `json:"drafted"`
	Blocked         int            `json:"blocked"`
	Failed          int            `json:"failed"`
	Skipped         int            `json:"skipped"`
	SuccessRate     int            `json:"success_rate"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Duration        time.Duration  `json:"duration"`
	Products        []ProductEntry `json:"products"`
	Drafts          []DraftEntry   `json:"drafts"`
	BlockedProducts []BlockedEntry `json:"blocked_products"`
	Errors          []ErrorEntry   `json:"errors"`
}

// NewResults returns an empty aggregator with non-nil collections.
func NewResults() Results {
	return Results{
		Products:        []ProductEntry{},
		Drafts:          []DraftEntry{},
		BlockedProducts: []BlockedEntry{},
		Errors:          []ErrorEntry{},
	}
}

// Clone copies the aggregator including its collections.
func (r Results) Clone() Results {
	cp := r
	cp.Products = append([]ProductEntry{}, r.Products...)
	cp.Drafts = append([]DraftEntry{}, r.Drafts...)
	cp.BlockedProducts = append([]BlockedEntry{}, r.BlockedProducts...)
	cp.Errors = append([]ErrorEntry{}, r.Errors...)
	if r.StartedAt != nil {
		ts := *r.StartedAt
		cp.StartedAt = &ts
	}
	if r.CompletedAt != nil {
		ts := *r.CompletedAt
		cp.CompletedAt = &ts
	}
	return cp
}

// Finish stamps completion and derives duration and success rate.
func (r *Results) Finish(at time.Time) {
	ts := at
	r.CompletedAt = &ts
	if r.StartedAt != nil {
		r.Duration = at.Sub(*r.StartedAt)
	}
	r.SuccessRate = Percent(r.Completed, r.Total)
}

// Completion builds the notification payload.
func (r Results) Completion(runID string) CompletionReport {
	c := r.Clone()
	return CompletionReport{
		RunID:           runID,
		Total:           c.Total,
		Successful:      c.Completed,
		Drafted:         c.Drafted,
		Blocked:         c.Blocked,
		Failed:          c.Failed,
		Products:        c.Products,
		Drafts:          c.Drafts,
		BlockedProducts: c.BlockedProducts,
		Errors:          c.Errors,
	}
}

// Percent returns round(part/whole*100), or 0 when whole is 0.
func Percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(whole) * 100))
}
