package cmd

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/collection-sync/internal/app"
	"github.com/JakeFAU/collection-sync/internal/archive"
	"github.com/JakeFAU/collection-sync/internal/config"
	"github.com/JakeFAU/collection-sync/internal/platform/archiveit/archiveittest"
)

type fakeRunner struct{ fs afero.Fs }

func (r fakeRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	for i, arg := range args {
		if arg == "-o" && i+1 < len(args) {
			return []byte("created"), afero.WriteFile(r.fs, args[i+1], []byte("wacz"), 0o644)
		}
	}
	return nil, fmt.Errorf("no output path in %v", args)
}

// useFakeApp points the app factory at an in-memory filesystem for the rest of the test.
func useFakeApp(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	orig := newApp
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
		return app.New(ctx, cfg, logger, app.WithFs(fsys), app.WithRunner(fakeRunner{fs: fsys}))
	}
	t.Cleanup(func() { newApp = orig })
	return fsys
}

func startPlatform(t *testing.T) *archiveittest.Server {
	t.Helper()
	srv := archiveittest.NewServer(archiveittest.Fixture{
		CollectionID: "12345",
		Title:        "Test Collection",
		Username:     "alice",
		Password:     "s3cret",
		Files: []archiveittest.File{
			{Name: "capture1.warc.gz", Content: []byte("WARC/1.0 capture one"), CrawlID: 99},
		},
		Crawls: map[int64][]archiveittest.Seed{
			99: {{ID: 1, URL: "https://example.com/", Timestamp: "2021-04-30 20:04:57", Title: "Example"}},
		},
	})
	t.Cleanup(srv.Close)
	t.Setenv("COLLSYNC_PLATFORM_API_BASE_URL", srv.APIBase())
	t.Setenv("COLLSYNC_PLATFORM_WASAPI_BASE_URL", srv.WASAPIBase())
	t.Setenv("COLLSYNC_PLATFORM_REPLAY_BASE_URL", srv.ReplayBase())
	t.Setenv("COLLSYNC_HTTP_MAX_RETRIES", "0")
	t.Setenv("COLLSYNC_LOGGING_DEVELOPMENT", "false")
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSyncThenHistory(t *testing.T) {
	startPlatform(t)
	fsys := useFakeApp(t)
	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")

	out, err := execute(t, "sync",
		"--collection", "12345", "--username", "alice", "--password", "s3cret",
		"--output", "/data", "--ledger", ledgerPath)
	require.NoError(t, err)
	assert.Contains(t, out, "collection 12345: ok")
	assert.Contains(t, out, "container  /data/12345.wacz")

	data, err := afero.ReadFile(fsys, "/data/12345/capture1.warc.gz")
	require.NoError(t, err)
	assert.Equal(t, "WARC/1.0 capture one", string(data))

	out, err = execute(t, "history", "--ledger", ledgerPath, "--collection", "12345")
	require.NoError(t, err)
	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, "success")
	assert.Contains(t, out, "12345")
}

func TestSyncDryRunDownloadsNothing(t *testing.T) {
	startPlatform(t)
	fsys := useFakeApp(t)

	out, err := execute(t, "sync",
		"--collection", "12345", "--username", "alice", "--password", "s3cret",
		"--output", "/data", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "would get  1")

	exists, err := afero.Exists(fsys, "/data/12345/capture1.warc.gz")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSyncFailedRunExitsNonZero(t *testing.T) {
	startPlatform(t)
	useFakeApp(t)

	out, err := execute(t, "sync",
		"--collection", "12345", "--username", "alice", "--password", "wrong",
		"--output", "/data")
	require.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, out, "FAILED at CheckAccess")
}

func TestSyncRejectsInvalidConfig(t *testing.T) {
	useFakeApp(t)

	_, err := execute(t, "sync", "--collection", "abc")
	require.Error(t, err)
	assert.True(t, config.IsValidationError(err))
	assert.ErrorIs(t, err, archive.ErrConfig)
}

func TestHistoryRequiresLedger(t *testing.T) {
	t.Setenv("COLLSYNC_LEDGER_PATH", "")

	_, err := execute(t, "history")
	require.Error(t, err)
	assert.True(t, config.IsValidationError(err))
}

func TestHistoryEmptyLedger(t *testing.T) {
	out, err := execute(t, "history", "--ledger", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "no runs recorded")
}
