package archive

import (
	"fmt"
	"path/filepath"
	"strings"
)

// IsPlainFilename reports whether name is a bare file name with no directory part.
func IsPlainFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || filepath.IsAbs(name) {
		return false
	}
	return filepath.Base(name) == name
}

// LocalPath resolves filename inside workDir. Names that are not plain or that would resolve
// outside workDir are rejected with ErrData.
func LocalPath(workDir, filename string) (string, error) {
	if !IsPlainFilename(filename) {
		return "", fmt.Errorf("%w: unsafe filename %q", ErrData, filename)
	}
	cleanBase := filepath.Clean(workDir)
	full := filepath.Clean(filepath.Join(cleanBase, filename))
	prefix := cleanBase
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(full, prefix) {
		return "", fmt.Errorf("%w: path traversal detected for %q", ErrData, filename)
	}
	return full, nil
}
