package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/loadstate/internal/progress"
)

// PrometheusSink exports load tracking metrics via Prometheus. It owns all
// collectors for change counts, completions, active loads and load runtime.
type PrometheusSink struct {
	changes     *prometheus.CounterVec
	completions *prometheus.CounterVec
	active      *prometheus.GaugeVec
	runtime     *prometheus.HistogramVec

	categories *progress.CategoryRegistry
	tracker    *loadTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
// Category labels use registry names when categories is non-nil.
func NewPrometheusSink(reg prometheus.Registerer, categories *progress.CategoryRegistry) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loadstate_changes_total",
			Help: "Store changes partitioned by kind.",
		}, []string{"kind"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loadstate_loads_completed_total",
			Help: "Loads that reached a terminal phase partitioned by result.",
		}, []string{"result"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loadstate_loads_active",
			Help: "Loads in a non-terminal phase per category.",
		}, []string{"category"}),
		runtime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loadstate_load_runtime_seconds",
			Help:    "Time from first report to terminal phase.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		categories: categories,
		tracker:    newLoadTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.changes,
		s.completions,
		s.active,
		s.runtime,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Change) error {
	for _, change := range batch {
		s.consumeChange(change)
	}
	return nil
}

func (s *PrometheusSink) consumeChange(change progress.Change) {
	s.changes.WithLabelValues(string(change.Kind)).Inc()
	st := change.State
	if change.Kind == progress.ChangeRemoved {
		if prev, ok := s.tracker.remove(st.ID); ok && prev.active {
			s.adjustActive(prev.categories, -1)
		}
		return
	}

	prev, existed := s.tracker.upsert(st)
	if existed && prev.active {
		s.adjustActive(prev.categories, -1)
	}
	if !st.IsTerminal() {
		s.adjustActive(st.Categories, 1)
		return
	}
	if existed && !prev.active {
		return
	}
	result := resultLabel(st)
	s.completions.WithLabelValues(result).Inc()
	if existed {
		if d := st.Timestamp.Sub(prev.started); d > 0 {
			s.runtime.WithLabelValues(result).Observe(d.Seconds())
		}
	}
}

func (s *PrometheusSink) adjustActive(set progress.CategorySet, delta float64) {
	if set.IsNone() {
		s.active.WithLabelValues("none").Add(delta)
		return
	}
	for _, bit := range set.Bits() {
		s.active.WithLabelValues(s.categoryLabel(bit)).Add(delta)
	}
}

func (s *PrometheusSink) categoryLabel(bit int) string {
	if s.categories == nil {
		return fmt.Sprintf("bit%d", bit)
	}
	return s.categories.Names(progress.CategorySet(1) << bit)[0]
}

func resultLabel(st progress.LoadingState) string {
	if st.IsSuccess() {
		return "success"
	}
	return "failure"
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type trackedLoad struct {
	categories progress.CategorySet
	started    time.Time
	active     bool
}

type loadTracker struct {
	mu    sync.Mutex
	loads map[string]trackedLoad
}

func newLoadTracker() *loadTracker {
	return &loadTracker{loads: make(map[string]trackedLoad)}
}

// upsert records st and returns the previous entry for its id. A report
// after a terminal phase starts a new run.
func (t *loadTracker) upsert(st progress.LoadingState) (trackedLoad, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.loads[st.ID]
	started := st.Timestamp
	if ok && prev.active {
		started = prev.started
	}
	t.loads[st.ID] = trackedLoad{
		categories: st.Categories,
		started:    started,
		active:     !st.IsTerminal(),
	}
	return prev, ok
}

func (t *loadTracker) remove(id string) (trackedLoad, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.loads[id]
	if ok {
		delete(t.loads, id)
	}
	return prev, ok
}
