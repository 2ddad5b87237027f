package assemble

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/collection-sync/internal/archive"
)

type fakeRunner struct {
	fs    afero.Fs
	name  string
	args  []string
	out   []byte
	err   error
	write bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.name = name
	f.args = args
	if f.write {
		for i, arg := range args {
			if arg == "-o" {
				_ = afero.WriteFile(f.fs, args[i+1], []byte("wacz"), 0o644)
			}
		}
	}
	return f.out, f.err
}

func request() archive.AssembleRequest {
	return archive.AssembleRequest{
		WorkDir:     "/data/12345",
		OutputPath:  "/data/12345.wacz",
		Title:       "Test Collection",
		Description: "Pages <we> care about",
		Pages: []archive.PageEntry{
			{URL: "https://example.com/?a=1&b=2", Title: "Example", Timestamp: "2021-04-30T20:04:57Z"},
		},
	}
}

func TestAssembleWritesPagesAndRunsTool(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	runner := &fakeRunner{fs: fsys, write: true, out: []byte("validating\n\ndone\n")}
	a := New(Config{SigningURL: "https://signer.example/sign", SigningToken: "tok"}, fsys, runner, nil)

	require.NoError(t, a.Assemble(context.Background(), request()))
	assert.Equal(t, DefaultCommand, runner.name)
	assert.Equal(t, []string{
		"create",
		"-f", "/data/12345/*.warc.gz",
		"-o", "/data/12345.wacz",
		"-p", "/data/12345/pages",
		"-t", "Test Collection",
		"--desc", "Pages <we> care about",
		"--signing-url", "https://signer.example/sign",
		"--signing-token", "tok",
	}, runner.args)

	data, err := afero.ReadFile(fsys, "/data/12345/pages/pages.jsonl")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"format":"json-pages-1.0","id":"pages","title":"All Pages"}`, lines[0])
	assert.Equal(t, `{"url":"https://example.com/?a=1&b=2","title":"Example","ts":"2021-04-30T20:04:57Z"}`, lines[1])
}

func TestArgsOmitEmptyOptionals(t *testing.T) {
	t.Parallel()

	a := New(Config{Command: "wacz", SigningToken: "orphan"}, afero.NewMemMapFs(), &fakeRunner{}, nil)
	req := archive.AssembleRequest{WorkDir: "/w", InputGlob: "/w/*.warc", OutputPath: "/w.wacz"}
	assert.Equal(t, []string{"create", "-f", "/w/*.warc", "-o", "/w.wacz", "-p", "/w/pages"}, a.Args(req, "/w/pages"))
}

func TestAssembleFailures(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	failing := New(Config{}, fsys, &fakeRunner{fs: fsys, err: errors.New("exit status 1")}, nil)
	require.Error(t, failing.Assemble(context.Background(), request()))

	silent := New(Config{}, fsys, &fakeRunner{fs: fsys}, nil)
	err := silent.Assemble(context.Background(), request())
	require.ErrorContains(t, err, "container was not produced")
}

func TestWritePagesReplacesManifest(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, WritePages(fsys, "/p", []archive.PageEntry{{URL: "a"}, {URL: "b"}}))
	require.NoError(t, WritePages(fsys, "/p", nil))
	data, err := afero.ReadFile(fsys, "/p/pages.jsonl")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
}
