// Package fetch downloads the capture files the reconciler marked missing.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/collection-sync/internal/archive"
	"github.com/JakeFAU/collection-sync/internal/batch"
	"github.com/JakeFAU/collection-sync/internal/progress"
)

const copyBufferSize = 256 << 10

// ErrNoLocation marks a listed file the platform offered no download location for.
var ErrNoLocation = errors.New("no download location")

// Summary counts the outcome of one fetch pass.
type Summary struct {
	Attempted  int
	Downloaded int
	Failed     int
	Bytes      int64
	// FailedFiles lists the filenames that could not be fetched, in listing order.
	FailedFiles []string
}

// Engine streams missing files into the working directory.
type Engine struct {
	fs         afero.Fs
	downloader archive.Downloader
	emitter    progress.Emitter
	logger     *zap.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEmitter reports per-file outcomes as progress events tagged with the run context.
func WithEmitter(emitter progress.Emitter) Option {
	return func(e *Engine) {
		e.emitter = emitter
	}
}

// New builds an Engine.
func New(fsys afero.Fs, downloader archive.Downloader, opts ...Option) *Engine {
	e := &Engine{fs: fsys, downloader: downloader, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FetchMissing downloads every LocalMissing reference into workDir, concurrency at a time. A
// failed item never fails the pass; it is counted and left for the next checksum pass.
func (e *Engine) FetchMissing(ctx context.Context, workDir string, files []*archive.FileReference, concurrency int) Summary {
	var targets []*archive.FileReference
	for _, f := range files {
		if f.Local == archive.LocalMissing {
			targets = append(targets, f)
		}
	}
	summary := Summary{Attempted: len(targets)}
	if len(targets) == 0 {
		return summary
	}

	var written atomic.Int64
	outcomes := batch.Run(ctx, targets, concurrency, func(ctx context.Context, f *archive.FileReference) error {
		start := time.Now()
		n, err := e.fetchOne(ctx, workDir, f)
		written.Add(n)
		e.emit(ctx, f, n, time.Since(start), err)
		return err
	}, batch.WithLabel("fetch"))

	for _, out := range outcomes {
		if out.Err != nil {
			summary.Failed++
			summary.FailedFiles = append(summary.FailedFiles, out.Item.Filename)
			e.logger.Warn("download failed", zap.String("filename", out.Item.Filename), zap.Error(out.Err))
			continue
		}
		summary.Downloaded++
	}
	summary.Bytes = written.Load()
	e.logger.Info("missing files fetched",
		zap.Int("attempted", summary.Attempted),
		zap.Int("downloaded", summary.Downloaded),
		zap.Int("failed", summary.Failed),
		zap.Int64("bytes", summary.Bytes),
	)
	return summary
}

func (e *Engine) fetchOne(ctx context.Context, workDir string, f *archive.FileReference) (int64, error) {
	if f.DownloadURL == "" {
		return 0, fmt.Errorf("%s: %w", f.Filename, ErrNoLocation)
	}
	path, err := archive.LocalPath(workDir, f.Filename)
	if err != nil {
		return 0, err
	}
	body, err := e.downloader.Download(ctx, f.DownloadURL)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", f.Filename, err)
	}
	defer func() { _ = body.Close() }()

	out, err := e.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	n, err := io.CopyBuffer(out, body, make([]byte, copyBufferSize))
	closeErr := out.Close()
	if err != nil {
		return n, fmt.Errorf("write %s: %w", path, err)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close %s: %w", path, closeErr)
	}
	e.logger.Debug("file downloaded", zap.String("filename", f.Filename), zap.Int64("bytes", n))
	return n, nil
}

func (e *Engine) emit(ctx context.Context, f *archive.FileReference, n int64, dur time.Duration, err error) {
	if e.emitter == nil {
		return
	}
	evt, ok := progress.FromContext(ctx)
	if !ok {
		return
	}
	evt.Kind = progress.KindFileFetched
	evt.File = f.Filename
	evt.Bytes = n
	evt.Dur = dur
	evt.StatusClass = progress.Status2xx
	if err != nil {
		evt.Kind = progress.KindFileFailed
		evt.StatusClass = progress.ClassifyError(err)
		evt.Note = err.Error()
	}
	evt.TS = time.Now().UTC()
	e.emitter.Emit(evt)
}
