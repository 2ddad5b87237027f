package fetch

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/collection-sync/internal/archive"
	"github.com/JakeFAU/collection-sync/internal/progress"
)

type fakeDownloader struct {
	mu     sync.Mutex
	bodies map[string]string
	calls  []string
}

func (d *fakeDownloader) Download(_ context.Context, rawURL string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, rawURL)
	body, ok := d.bodies[rawURL]
	if !ok {
		return nil, &archive.StatusError{Method: "GET", URL: rawURL, StatusCode: 404}
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func TestFetchMissingDownloadsOnlyMissing(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/w", 0o750))
	dl := &fakeDownloader{bodies: map[string]string{
		"https://dl/a": "alpha",
		"https://dl/c": "gamma",
	}}
	files := []*archive.FileReference{
		{Filename: "a.warc.gz", DownloadURL: "https://dl/a", Local: archive.LocalMissing},
		{Filename: "b.warc.gz", DownloadURL: "https://dl/b", Local: archive.LocalValid},
		{Filename: "c.warc.gz", DownloadURL: "https://dl/c", Local: archive.LocalMissing},
		{Filename: "d.warc.gz", DownloadURL: "https://dl/d", Local: archive.LocalMissing},
		{Filename: "e.warc.gz", Local: archive.LocalMissing},
	}
	emitter := &recordingEmitter{}
	ctx := progress.NewContext(context.Background(), uuid.New(), "12345")

	summary := New(fsys, dl, WithEmitter(emitter)).FetchMissing(ctx, "/w", files, 2)
	assert.Equal(t, 4, summary.Attempted)
	assert.Equal(t, 2, summary.Downloaded)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, int64(len("alpha")+len("gamma")), summary.Bytes)
	assert.Equal(t, []string{"d.warc.gz", "e.warc.gz"}, summary.FailedFiles)
	assert.ElementsMatch(t, []string{"https://dl/a", "https://dl/c", "https://dl/d"}, dl.calls)

	data, err := afero.ReadFile(fsys, "/w/a.warc.gz")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))
	ok, err := afero.Exists(fsys, "/w/b.warc.gz")
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, emitter.events, 4)
	kinds := map[string]progress.Kind{}
	for _, evt := range emitter.events {
		require.NoError(t, evt.Validate())
		assert.Equal(t, "12345", evt.Collection)
		kinds[evt.File] = evt.Kind
		if evt.File == "d.warc.gz" {
			assert.Equal(t, progress.Status4xx, evt.StatusClass)
		}
	}
	assert.Equal(t, progress.KindFileFetched, kinds["a.warc.gz"])
	assert.Equal(t, progress.KindFileFailed, kinds["e.warc.gz"])
}

func TestFetchMissingAppendsToExistingBytes(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/w/a.warc.gz", []byte("partial-"), 0o644))
	dl := &fakeDownloader{bodies: map[string]string{"https://dl/a": "rest"}}
	files := []*archive.FileReference{{Filename: "a.warc.gz", DownloadURL: "https://dl/a", Local: archive.LocalMissing}}

	summary := New(fsys, dl).FetchMissing(context.Background(), "/w", files, 1)
	assert.Equal(t, 1, summary.Downloaded)
	data, err := afero.ReadFile(fsys, "/w/a.warc.gz")
	require.NoError(t, err)
	assert.Equal(t, "partial-rest", string(data))
}

func TestFetchMissingWriteFailureIsItemLocal(t *testing.T) {
	t.Parallel()

	fsys := afero.NewReadOnlyFs(afero.NewMemMapFs())
	dl := &fakeDownloader{bodies: map[string]string{"https://dl/a": "alpha"}}
	files := []*archive.FileReference{{Filename: "a.warc.gz", DownloadURL: "https://dl/a", Local: archive.LocalMissing}}

	summary := New(fsys, dl).FetchMissing(context.Background(), "/w", files, 1)
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, summary.Downloaded)
}

func TestFetchMissingNothingToDo(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{}
	summary := New(afero.NewMemMapFs(), dl).FetchMissing(context.Background(), "/w",
		[]*archive.FileReference{{Filename: "a.warc.gz", Local: archive.LocalValid}}, 4)
	assert.Equal(t, Summary{}, summary)
	assert.Empty(t, dl.calls)
}

func TestErrNoLocation(t *testing.T) {
	t.Parallel()

	_, err := New(afero.NewMemMapFs(), &fakeDownloader{}).fetchOne(context.Background(), "/w", &archive.FileReference{Filename: "x"})
	require.True(t, errors.Is(err, ErrNoLocation))
}

func TestFetchMissingRefusesNamesOutsideWorkDir(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/out/w", 0o750))
	dl := &fakeDownloader{bodies: map[string]string{"https://dl/evil": "overwrite"}}
	files := []*archive.FileReference{
		{Filename: "../evil.warc.gz", DownloadURL: "https://dl/evil", Local: archive.LocalMissing},
		{Filename: "/out/abs.warc.gz", DownloadURL: "https://dl/evil", Local: archive.LocalMissing},
	}

	summary := New(fsys, dl).FetchMissing(context.Background(), "/out/w", files, 2)
	assert.Equal(t, 2, summary.Failed)
	assert.Empty(t, dl.calls, "nothing is downloaded for an unsafe name")
	for _, path := range []string{"/out/evil.warc.gz", "/out/abs.warc.gz"} {
		ok, err := afero.Exists(fsys, path)
		require.NoError(t, err)
		assert.False(t, ok, path)
	}

	_, err := New(fsys, dl).fetchOne(context.Background(), "/out/w", files[0])
	require.ErrorIs(t, err, archive.ErrData)
}
