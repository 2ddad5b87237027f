package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/collection-sync/internal/ledger"
	"github.com/JakeFAU/collection-sync/internal/metrics"
	"github.com/JakeFAU/collection-sync/internal/pipeline"
)

// LedgerReporter writes the run summary to the run ledger.
type LedgerReporter struct {
	store *ledger.Store
}

// NewLedgerReporter wraps store.
func NewLedgerReporter(store *ledger.Store) *LedgerReporter {
	return &LedgerReporter{store: store}
}

// Report upserts the finished run.
func (r *LedgerReporter) Report(ctx context.Context, res pipeline.Result) error {
	return r.store.RecordSummary(ctx, SummaryRun(res))
}

// SummaryRun maps a pipeline result onto its ledger row.
func SummaryRun(res pipeline.Result) ledger.Run {
	run := ledger.Run{
		ID:              res.RunID,
		CollectionID:    res.CollectionID,
		StartedAt:       res.Started,
		Status:          ledger.RunSuccess,
		FailedStage:     string(res.FailedStage),
		DryRun:          res.DryRun,
		FilesListed:     res.FilesListed,
		FilesDeleted:    res.FilesDeleted,
		FilesCorrupted:  res.FilesCorrupted,
		FilesDownloaded: res.FilesDownloaded,
		FilesFailed:     res.FilesFailed,
		BytesDownloaded: res.BytesDownloaded,
		PagesIndexed:    res.PagesIndexed,
		ContainerPath:   res.ContainerPath,
	}
	if !res.Finished.IsZero() {
		finished := res.Finished
		run.FinishedAt = &finished
	}
	if !res.Success {
		run.Status = ledger.RunError
	}
	if res.Err != nil {
		run.ErrorMessage = res.Err.Error()
	}
	return run
}

// MetricsReporter updates the per-collection run gauges.
type MetricsReporter struct {
	gauges *metrics.RunGauges
}

// NewMetricsReporter wraps gauges.
func NewMetricsReporter(gauges *metrics.RunGauges) *MetricsReporter {
	return &MetricsReporter{gauges: gauges}
}

// Report records the outcome. It never fails.
func (r *MetricsReporter) Report(_ context.Context, res pipeline.Result) error {
	if r.gauges == nil {
		return nil
	}
	r.gauges.Observe(res.CollectionID, res.Success, res.Finished, res.FilesListed, res.PagesIndexed)
	return nil
}

// Uploader copies a finished container to remote storage and returns its URI.
type Uploader interface {
	UploadFile(ctx context.Context, fsys afero.Fs, localPath string) (string, error)
}

// Notifier publishes a JSON payload with string attributes.
type Notifier interface {
	Publish(ctx context.Context, payload any, attrs map[string]string) (string, error)
}

// Notice is the completion message published after a successful run.
type Notice struct {
	RunID           string    `json:"run_id"`
	CollectionID    string    `json:"collection_id"`
	Title           string    `json:"title,omitempty"`
	ContainerPath   string    `json:"container_path"`
	ContainerURI    string    `json:"container_uri,omitempty"`
	FilesListed     int       `json:"files_listed"`
	FilesDownloaded int       `json:"files_downloaded"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	PagesIndexed    int       `json:"pages_indexed"`
	FinishedAt      time.Time `json:"finished_at"`
}

// PublishReporter uploads the container and announces it. Failed and dry runs publish nothing.
type PublishReporter struct {
	fs       afero.Fs
	uploader Uploader
	notifier Notifier
	logger   *zap.Logger
}

// NewPublishReporter builds a PublishReporter; either collaborator may be nil.
func NewPublishReporter(fsys afero.Fs, uploader Uploader, notifier Notifier, logger *zap.Logger) *PublishReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishReporter{fs: fsys, uploader: uploader, notifier: notifier, logger: logger}
}

// Report publishes a successful run. An upload failure suppresses the notice.
func (r *PublishReporter) Report(ctx context.Context, res pipeline.Result) error {
	if !res.Success || res.DryRun || res.ContainerPath == "" {
		return nil
	}
	var uri string
	if r.uploader != nil {
		var err error
		uri, err = r.uploader.UploadFile(ctx, r.fs, res.ContainerPath)
		if err != nil {
			return fmt.Errorf("upload container: %w", err)
		}
		r.logger.Info("Uploaded container", zap.String("uri", uri))
	}
	if r.notifier == nil {
		return nil
	}
	notice := Notice{
		RunID:           res.RunID,
		CollectionID:    res.CollectionID,
		Title:           res.CollectionTitle,
		ContainerPath:   res.ContainerPath,
		ContainerURI:    uri,
		FilesListed:     res.FilesListed,
		FilesDownloaded: res.FilesDownloaded,
		BytesDownloaded: res.BytesDownloaded,
		PagesIndexed:    res.PagesIndexed,
		FinishedAt:      res.Finished.UTC(),
	}
	id, err := r.notifier.Publish(ctx, notice, map[string]string{
		"collection_id": res.CollectionID,
		"run_id":        res.RunID,
	})
	if err != nil {
		return fmt.Errorf("publish run notice: %w", err)
	}
	r.logger.Info("Published run notice", zap.String("message_id", id))
	return nil
}
