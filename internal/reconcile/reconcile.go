// Package reconcile brings the local working directory in line with the remote listing: it removes
// loose capture files and classifies every listed file by checksum.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/collection-sync/internal/archive"
)

// Report summarizes one checksum pass.
type Report struct {
	Valid     int
	Missing   int
	Corrupted int
}

// Reconciler inspects and repairs a working directory.
type Reconciler struct {
	fs     afero.Fs
	hasher archive.Hasher
	logger *zap.Logger
	dryRun bool
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDryRun reports deletions without performing them.
func WithDryRun(dryRun bool) Option {
	return func(r *Reconciler) {
		r.dryRun = dryRun
	}
}

// New builds a Reconciler over fsys.
func New(fsys afero.Fs, hasher archive.Hasher, opts ...Option) *Reconciler {
	r := &Reconciler{fs: fsys, hasher: hasher, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureWorkDir creates dir when absent and checks that it is a writable directory. A dry run
// leaves the filesystem untouched and only rejects a path that exists as something else.
func (r *Reconciler) EnsureWorkDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("working directory is required")
	}
	info, err := r.fs.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist) && r.dryRun:
		r.logger.Info("working directory absent; not created in dry run", zap.String("dir", dir))
		return nil
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := r.fs.MkdirAll(dir, 0o750); mkErr != nil {
			return fmt.Errorf("create working directory: %w", mkErr)
		}
	case err != nil:
		return fmt.Errorf("stat working directory: %w", err)
	case !info.IsDir():
		return fmt.Errorf("working directory %s is not a directory", dir)
	}
	if r.dryRun {
		return nil
	}

	marker := filepath.Join(dir, ".writable_test")
	if err := afero.WriteFile(r.fs, marker, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("working directory is not writable: %w", err)
	}
	if err := r.fs.Remove(marker); err != nil {
		return fmt.Errorf("clean up writability marker file: %w", err)
	}
	return nil
}

// IsCaptureFile reports whether name looks like a WARC capture.
func IsCaptureFile(name string) bool {
	return strings.HasSuffix(name, ".warc.gz") || strings.HasSuffix(name, ".warc")
}

// DeleteLoose removes capture files in workDir that the listing does not name and returns their
// names. A missing directory has nothing loose in it.
func (r *Reconciler) DeleteLoose(ctx context.Context, workDir string, files []*archive.FileReference) ([]string, error) {
	entries, err := afero.ReadDir(r.fs, workDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read working directory: %w", err)
	}

	wanted := make(map[string]struct{}, len(files))
	for _, f := range files {
		wanted[f.Filename] = struct{}{}
	}

	var deleted []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return deleted, fmt.Errorf("delete loose files: %w", err)
		}
		name := entry.Name()
		if entry.IsDir() || !IsCaptureFile(name) {
			continue
		}
		if _, ok := wanted[name]; ok {
			continue
		}
		if !r.dryRun {
			if err := r.fs.Remove(filepath.Join(workDir, name)); err != nil {
				return deleted, fmt.Errorf("delete loose file %s: %w", name, err)
			}
		}
		r.logger.Info("loose capture file removed", zap.String("filename", name), zap.Bool("dry_run", r.dryRun))
		deleted = append(deleted, name)
	}
	return deleted, nil
}

// VerifyChecksums hashes the local copy of every listed file and records the outcome on the
// reference. Copies whose digest disagrees with the platform are deleted and marked missing.
// Running it twice without changes to disk yields the same classification.
func (r *Reconciler) VerifyChecksums(ctx context.Context, workDir string, files []*archive.FileReference) (Report, error) {
	var report Report
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("verify checksums: %w", err)
		}
		f.LocalChecksum = ""
		path, err := archive.LocalPath(workDir, f.Filename)
		if err != nil {
			r.logger.Warn("refusing to verify file outside working directory", zap.Error(err))
			f.Local = archive.LocalMissing
			report.Missing++
			continue
		}

		exists, err := afero.Exists(r.fs, path)
		if err != nil || !exists {
			f.Local = archive.LocalMissing
			report.Missing++
			continue
		}

		sum, err := r.hashFile(path)
		if err != nil {
			r.logger.Warn("could not hash local file", zap.String("filename", f.Filename), zap.Error(err))
			f.Local = archive.LocalMissing
			report.Missing++
			continue
		}
		f.LocalChecksum = sum

		if f.RemoteChecksum != "" && !strings.EqualFold(sum, f.RemoteChecksum) {
			mismatch := fmt.Errorf("%w: %s local %s remote %s", archive.ErrIntegrity, f.Filename, sum, f.RemoteChecksum)
			r.logger.Warn("checksum mismatch; discarding local copy", zap.Error(mismatch))
			if !r.dryRun {
				if err := r.fs.Remove(path); err != nil {
					return report, fmt.Errorf("delete corrupted file %s: %w", f.Filename, err)
				}
			}
			f.Local = archive.LocalMissing
			report.Corrupted++
			report.Missing++
			continue
		}
		f.Local = archive.LocalValid
		report.Valid++
	}
	r.logger.Info("checksums verified",
		zap.Int("valid", report.Valid),
		zap.Int("missing", report.Missing),
		zap.Int("corrupted", report.Corrupted),
	)
	return report, nil
}

func (r *Reconciler) hashFile(path string) (string, error) {
	file, err := r.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()
	return r.hasher.HashReader(file)
}
