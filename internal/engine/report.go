package engine

import "github.com/JakeFAU/bulk-importer/internal/importer"

// GetProgress projects the current item states. It is computed on every call.
func (e *Engine) GetProgress() importer.Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progressLocked()
}

func (e *Engine) progressLocked() importer.Progress {
	p := importer.Progress{Total: len(e.items)}
	for _, it := range e.items {
		switch it.State {
		case importer.ItemCompleted:
			p.Completed++
		case importer.ItemDrafted:
			p.Drafted++
		case importer.ItemBlocked:
			p.Blocked++
		case importer.ItemFailed:
			p.Failed++
		case importer.ItemSkipped:
			p.Skipped++
		case importer.ItemPending, importer.ItemRetrying:
			p.Pending++
		case importer.ItemExtracting, importer.ItemValidating, importer.ItemImporting:
			p.InProgress++
		}
	}
	p.Processed = p.Completed + p.Failed + p.Skipped
	p.Percentage = importer.Percent(p.Processed, p.Total)
	p.SuccessRate = importer.Percent(p.Completed, max(1, p.Processed))
	return p
}

// GetReport returns a serializable snapshot of the run. Item entries omit
// product payloads.
func (e *Engine) GetReport() importer.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reportLocked()
}

func (e *Engine) reportLocked() importer.Report {
	items := make([]importer.ItemReport, 0, len(e.items))
	for _, it := range e.items {
		items = append(items, it.Report())
	}
	return importer.Report{
		Version:  e.cfg.Version,
		RunID:    e.runID,
		State:    e.state,
		Config:   e.opts.Redacted(),
		Progress: e.progressLocked(),
		Results:  e.results.Clone(),
		Items:    items,
	}
}
