package importer

import (
	"context"
	"errors"
	"strings"
)

// ErrCancelled marks an item whose run was cancelled before or during processing.
var ErrCancelled = errors.New("operation cancelled")

// ErrProcessorFailed is used when a processor reports failure without a message.
var ErrProcessorFailed = errors.New("import failed")

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ProcessStatus is the explicit business outcome marker of a ProcessResult.
type ProcessStatus string

// Outcome markers a processor may set.
const (
	StatusBlocked ProcessStatus = "blocked"
	StatusDrafted ProcessStatus = "drafted"
)

// ImportDecision explains why a processor refused or downgraded an item.
type ImportDecision struct {
	Details []any `json:"details,omitempty"`
}

// Validation is the optional quality assessment attached by a processor.
type Validation struct {
	Score          *float64        `json:"score,omitempty"`
	ImportDecision *ImportDecision `json:"import_decision,omitempty"`
}

// ProcessResult is what an Item Processor returns for one URL.
type ProcessResult struct {
	Status     ProcessStatus `json:"status,omitempty"`
	Success    bool          `json:"success"`
	Product    Product       `json:"product,omitempty"`
	Error      string        `json:"error,omitempty"`
	Message    string        `json:"message,omitempty"`
	Validation *Validation   `json:"validation,omitempty"`
}

// Outcome is the classification of a ProcessResult.
type Outcome int

// Outcomes in priority order.
const (
	OutcomeBlocked Outcome = iota
	OutcomeDrafted
	OutcomeFailed
	OutcomeSucceeded
)

// String returns the metric/log label of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeBlocked:
		return "blocked"
	case OutcomeDrafted:
		return "drafted"
	case OutcomeFailed:
		return "failed"
	default:
		return "succeeded"
	}
}

// Classify maps a result onto exactly one outcome: blocked, drafted,
// explicit failure, then success.
func (r ProcessResult) Classify() Outcome {
	switch {
	case r.Status == StatusBlocked:
		return OutcomeBlocked
	case r.Status == StatusDrafted:
		return OutcomeDrafted
	case !r.Success:
		return OutcomeFailed
	default:
		return OutcomeSucceeded
	}
}

// Failure converts an explicit failure result into an error.
func (r ProcessResult) Failure() error {
	if strings.TrimSpace(r.Error) == "" {
		return ErrProcessorFailed
	}
	return errors.New(r.Error)
}

// Score returns the validation score when present.
func (r ProcessResult) Score() *float64 {
	if r.Validation == nil || r.Validation.Score == nil {
		return nil
	}
	score := *r.Validation.Score
	return &score
}

// Details returns the structured import decision details when present.
func (r ProcessResult) Details() []any {
	if r.Validation == nil || r.Validation.ImportDecision == nil {
		return nil
	}
	return append([]any(nil), r.Validation.ImportDecision.Details...)
}

// IsCancellation reports whether err means the run was cancelled. Retries are
// never scheduled for these.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "cancel")
}
