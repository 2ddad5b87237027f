package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/collection-sync/internal/progress"
)

// PrometheusSink turns progress events into run, stage and download collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec

	filesFetched  *prometheus.CounterVec
	fetchBytes    prometheus.Counter
	fetchDuration prometheus.Histogram

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collsync_runs_started_total",
			Help: "Sync runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collsync_runs_completed_total",
			Help: "Sync runs completed partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collsync_runs_active",
			Help: "Sync runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collsync_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"result"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collsync_stage_duration_seconds",
			Help:    "Wall time per pipeline stage.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600, 1800},
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collsync_stage_failures_total",
			Help: "Pipeline stage failures partitioned by stage.",
		}, []string{"stage"}),
		filesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collsync_files_fetched_total",
			Help: "Capture downloads partitioned by result and status class.",
		}, []string{"result", "status_class"}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collsync_fetch_bytes_total",
			Help: "Bytes written to the working directory by downloads.",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "collsync_fetch_duration_seconds",
			Help:    "Download duration per capture file.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.stageDuration,
		s.stageFailures,
		s.filesFetched,
		s.fetchBytes,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case progress.KindRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
	case progress.KindRunDone:
		s.completeRun(evt, "success")
	case progress.KindRunError:
		s.completeRun(evt, "error")
	case progress.KindStageDone:
		s.observe(s.stageDuration.WithLabelValues(evt.Stage), evt)
	case progress.KindStageError:
		s.stageFailures.WithLabelValues(evt.Stage).Inc()
		s.observe(s.stageDuration.WithLabelValues(evt.Stage), evt)
	case progress.KindFileFetched, progress.KindFileFailed:
		s.handleFileEvent(evt)
	}
}

func (s *PrometheusSink) completeRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	s.observe(s.runDuration.WithLabelValues(result), evt)
	if s.tracker.complete(evt.RunID) {
		s.runsActive.Dec()
	}
}

func (s *PrometheusSink) handleFileEvent(evt progress.Event) {
	result := "success"
	if evt.Kind == progress.KindFileFailed {
		result = "error"
	}
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.filesFetched.WithLabelValues(result, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.Add(float64(evt.Bytes))
	}
	if evt.Kind == progress.KindFileFetched {
		s.observe(s.fetchDuration, evt)
	}
}

func (s *PrometheusSink) observe(o prometheus.Observer, evt progress.Event) {
	if evt.Dur > 0 {
		o.Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
