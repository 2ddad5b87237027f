// Package metrics owns the Prometheus registry of a sync run and exports it in node-exporter
// textfile format, since a one-shot CLI has no scrape endpoint.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// NewRegistry returns a registry preloaded with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// RunGauges describe the latest run of each collection.
type RunGauges struct {
	lastRun     *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
	files       *prometheus.GaugeVec
	pages       *prometheus.GaugeVec
}

// NewRunGauges registers the gauges against reg.
func NewRunGauges(reg prometheus.Registerer) (*RunGauges, error) {
	g := &RunGauges{
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collsync_last_run_timestamp_seconds",
			Help: "Unix time the latest run of the collection finished.",
		}, []string{"collection"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collsync_last_run_success",
			Help: "1 when the latest run of the collection succeeded, else 0.",
		}, []string{"collection"}),
		files: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collsync_collection_files",
			Help: "Capture files in the collection listing.",
		}, []string{"collection"}),
		pages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collsync_collection_pages",
			Help: "Entries in the collection's page index.",
		}, []string{"collection"}),
	}
	for _, c := range []prometheus.Collector{g.lastRun, g.lastSuccess, g.files, g.pages} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register run gauge: %w", err)
		}
	}
	return g, nil
}

// Observe records the outcome of a finished run.
func (g *RunGauges) Observe(collection string, success bool, finished time.Time, files, pages int) {
	g.lastRun.WithLabelValues(collection).Set(float64(finished.Unix()))
	ok := 0.0
	if success {
		ok = 1
	}
	g.lastSuccess.WithLabelValues(collection).Set(ok)
	g.files.WithLabelValues(collection).Set(float64(files))
	g.pages.WithLabelValues(collection).Set(float64(pages))
}

// WriteTextfile atomically writes everything g gathers to path. The name must end in .prom for
// the node exporter to pick it up.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if !strings.HasSuffix(path, ".prom") {
		return fmt.Errorf("metrics textfile %q must end in .prom", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
