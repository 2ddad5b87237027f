// Package ledger records sync runs and their stage transitions in a local SQLite database so
// operators can review a collection's history.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// Store persists runs with gorm over SQLite.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the ledger at path and migrates its schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.AutoMigrate(&Run{}, &StageEvent{}); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("ledger handle: %w", err)
	}
	return sqlDB.Close()
}

// upsert inserts run or, when it exists, overwrites only the named columns. Writers arrive in
// any order, so every write is an upsert.
func (s *Store) upsert(ctx context.Context, run *Run, columns ...string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(run).Error
}

// StartRun records that a run began.
func (s *Store) StartRun(ctx context.Context, runID, collectionID string, startedAt time.Time) error {
	run := &Run{ID: runID, CollectionID: collectionID, StartedAt: startedAt.UTC(), Status: RunRunning}
	if err := s.upsert(ctx, run, "collection_id", "started_at"); err != nil {
		return fmt.Errorf("start run %s: %w", runID, err)
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *Store) CompleteRun(ctx context.Context, runID string, finishedAt time.Time, status RunStatus, errMsg string) error {
	at := finishedAt.UTC()
	run := &Run{ID: runID, StartedAt: at, FinishedAt: &at, Status: status, ErrorMessage: errMsg}
	if err := s.upsert(ctx, run, "finished_at", "status", "error_message"); err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}
	return nil
}

// RecordSummary stores the final counts and outcome of a run.
func (s *Store) RecordSummary(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	run.StartedAt = run.StartedAt.UTC()
	if run.FinishedAt != nil {
		at := run.FinishedAt.UTC()
		run.FinishedAt = &at
	}
	err := s.upsert(ctx, &run,
		"collection_id", "started_at", "finished_at", "status", "failed_stage", "error_message", "dry_run",
		"files_listed", "files_deleted", "files_corrupted", "files_downloaded", "files_failed",
		"bytes_downloaded", "pages_indexed", "container_path",
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// RecordStage appends stage transitions.
func (s *Store) RecordStage(ctx context.Context, events ...StageEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&events).Error; err != nil {
		return fmt.Errorf("record stages: %w", err)
	}
	return nil
}

// GetRun loads a single run or returns ErrNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	err := s.db.WithContext(ctx).Where("id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. An empty collectionID lists every
// collection.
func (s *Store) ListRuns(ctx context.Context, collectionID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	q := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit)
	if collectionID != "" {
		q = q.Where("collection_id = ?", collectionID)
	}
	var runs []Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ListStages returns a run's stage transitions in the order they happened.
func (s *Store) ListStages(ctx context.Context, runID string) ([]StageEvent, error) {
	var events []StageEvent
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("at ASC, id ASC").Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list stages %s: %w", runID, err)
	}
	return events, nil
}
