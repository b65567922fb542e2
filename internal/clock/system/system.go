// Package system provides a real clock implementation.
package system

import (
	"time"

	"github.com/JakeFAU/bulk-importer/internal/importer"
)

// Clock implements importer.Clock on top of the time package.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// After waits for d to elapse.
func (Clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// NewTicker returns a ticker firing every d.
func (Clock) NewTicker(d time.Duration) importer.Ticker {
	return &ticker{t: time.NewTicker(d)}
}

type ticker struct {
	t *time.Ticker
}

func (t *ticker) C() <-chan time.Time { return t.t.C }

func (t *ticker) Stop() { t.t.Stop() }
