// Package memory contains an in-memory notifier that records completion reports.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/bulk-importer/internal/importer"
)

// Notifier stores delivered reports for inspection.
type Notifier struct {
	mu      sync.RWMutex
	reports []importer.CompletionReport
	err     error
}

// New returns a memory Notifier.
func New() *Notifier {
	return &Notifier{}
}

// FailWith makes subsequent Notify calls return err. Pass nil to recover.
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Notify records the report.
func (n *Notifier) Notify(_ context.Context, report importer.CompletionReport) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.reports = append(n.reports, report)
	return nil
}

// Reports returns the recorded reports.
func (n *Notifier) Reports() []importer.CompletionReport {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]importer.CompletionReport, len(n.reports))
	copy(out, n.reports)
	return out
}
