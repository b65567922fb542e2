package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/bulk-importer/internal/events"
	"github.com/JakeFAU/bulk-importer/internal/importer"
)

// PrometheusSink exports import progress via Prometheus. It owns the run and
// item collectors.
type PrometheusSink struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runsActive   prometheus.Gauge
	runDuration  prometheus.Histogram

	itemOutcomes   *prometheus.CounterVec
	itemAttempts   prometheus.Histogram
	itemExtraction *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bulkimport_runs_started_total",
			Help: "Total import runs started from Ready.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkimport_runs_finished_total",
			Help: "Total import runs finished partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bulkimport_runs_active",
			Help: "Import runs currently processing.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bulkimport_run_duration_seconds",
			Help:    "Wall time of drained runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		itemOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulkimport_item_outcomes_total",
			Help: "Item attempt outcomes partitioned by resulting state.",
		}, []string{"state"}),
		itemAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bulkimport_item_attempts",
			Help:    "Attempts consumed by items reaching a terminal state.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}),
		itemExtraction: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bulkimport_item_extraction_seconds",
			Help:    "Processor time per attempt partitioned by resulting state.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"state"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runsActive,
		s.runDuration,
		s.itemOutcomes,
		s.itemAttempts,
		s.itemExtraction,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register import collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt events.Event) {
	switch e := evt.(type) {
	case events.StateChange:
		s.handleStateChange(e)
	case events.Completed:
		if e.Report.Results.Duration > 0 {
			s.runDuration.Observe(e.Report.Results.Duration.Seconds())
		}
	case events.ItemBlocked:
		s.observeItem(e.Item)
	case events.ItemDrafted:
		s.observeItem(e.Item)
	case events.ItemSkipped:
		s.observeItem(e.Item)
	case events.ItemComplete:
		s.observeItem(e.Item)
	}
}

func (s *PrometheusSink) handleStateChange(e events.StateChange) {
	if e.Current == importer.RunProcessing {
		if e.Previous == importer.RunReady {
			s.runsStarted.Inc()
		}
		if s.tracker.start(e.RunID) {
			s.runsActive.Inc()
		}
		return
	}
	if e.Previous == importer.RunProcessing && s.tracker.stop(e.RunID) {
		s.runsActive.Dec()
	}
	switch e.Current {
	case importer.RunCompleted, importer.RunFailed, importer.RunCancelled:
		s.runsFinished.WithLabelValues(string(e.Current)).Inc()
	}
}

func (s *PrometheusSink) observeItem(item importer.Item) {
	state := string(item.State)
	s.itemOutcomes.WithLabelValues(state).Inc()
	if item.State.Terminal() && item.Attempts > 0 {
		s.itemAttempts.Observe(float64(item.Attempts))
	}
	if item.ExtractionTime > 0 {
		s.itemExtraction.WithLabelValues(state).Observe(item.ExtractionTime.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) stop(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
