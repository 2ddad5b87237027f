package archive

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPathRejectsEscapingNames(t *testing.T) {
	t.Parallel()

	workDir := filepath.Join("out", "123")
	for _, name := range []string{
		"",
		".",
		"..",
		"../precious.warc.gz",
		"../../etc/passwd",
		"/abs.warc.gz",
		"sub/x.warc.gz",
		`sub\x.warc.gz`,
	} {
		_, err := LocalPath(workDir, name)
		require.ErrorIs(t, err, ErrData, "name %q", name)
		assert.False(t, IsPlainFilename(name), "name %q", name)
	}
}

func TestLocalPathJoinsPlainNames(t *testing.T) {
	t.Parallel()

	got, err := LocalPath("out/123/", "ARCHIVEIT-1-a.warc.gz")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("out", "123", "ARCHIVEIT-1-a.warc.gz"), got)

	got, err = LocalPath("/", "a.warc.gz")
	require.NoError(t, err)
	assert.Equal(t, "/a.warc.gz", got)
}
