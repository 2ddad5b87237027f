package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRunGaugesObserve(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	g, err := NewRunGauges(reg)
	require.NoError(t, err)

	finished := time.Unix(1_700_000_000, 0)
	g.Observe("12345", true, finished, 3, 7)
	require.Equal(t, float64(finished.Unix()), testutil.ToFloat64(g.lastRun.WithLabelValues("12345")))
	require.Equal(t, 1.0, testutil.ToFloat64(g.lastSuccess.WithLabelValues("12345")))
	require.Equal(t, 3.0, testutil.ToFloat64(g.files.WithLabelValues("12345")))
	require.Equal(t, 7.0, testutil.ToFloat64(g.pages.WithLabelValues("12345")))

	g.Observe("12345", false, finished, 3, 7)
	require.Equal(t, 0.0, testutil.ToFloat64(g.lastSuccess.WithLabelValues("12345")))

	_, err = NewRunGauges(reg)
	require.Error(t, err)
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	g, err := NewRunGauges(reg)
	require.NoError(t, err)
	g.Observe("12345", true, time.Unix(1_700_000_000, 0), 1, 1)

	path := filepath.Join(t.TempDir(), "textfile", "collsync.prom")
	require.NoError(t, WriteTextfile(path, reg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), `collsync_last_run_success{collection="12345"} 1`))
	require.True(t, strings.Contains(string(data), "go_goroutines"))

	require.Error(t, WriteTextfile(filepath.Join(t.TempDir(), "collsync.txt"), reg))
}
