package sinks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/collection-sync/internal/ledger"
	"github.com/JakeFAU/collection-sync/internal/progress"
)

// RunRecorder is the part of the run ledger the sink writes to.
type RunRecorder interface {
	StartRun(ctx context.Context, runID, collectionID string, startedAt time.Time) error
	CompleteRun(ctx context.Context, runID string, finishedAt time.Time, status ledger.RunStatus, errMsg string) error
	RecordStage(ctx context.Context, events ...ledger.StageEvent) error
}

// LedgerSink persists run and stage transitions. Stage rows of one batch are written together.
type LedgerSink struct {
	recorder RunRecorder
}

// NewLedgerSink constructs a LedgerSink for recorder.
func NewLedgerSink(recorder RunRecorder) *LedgerSink {
	return &LedgerSink{recorder: recorder}
}

// Consume forwards run transitions immediately and stage transitions in bulk. Recorder errors are
// returned verbatim.
func (s *LedgerSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.recorder == nil {
		return nil
	}
	var stages []ledger.StageEvent
	for _, evt := range batch {
		runID := evt.RunUUID().String()
		switch evt.Kind {
		case progress.KindRunStart:
			if err := s.recorder.StartRun(ctx, runID, evt.Collection, evt.TS); err != nil {
				return fmt.Errorf("record run start: %w", err)
			}
		case progress.KindRunDone:
			if err := s.recorder.CompleteRun(ctx, runID, evt.TS, ledger.RunSuccess, ""); err != nil {
				return fmt.Errorf("record run completion: %w", err)
			}
		case progress.KindRunError:
			if err := s.recorder.CompleteRun(ctx, runID, evt.TS, ledger.RunError, evt.Note); err != nil {
				return fmt.Errorf("record run completion: %w", err)
			}
		case progress.KindStageStart, progress.KindStageDone, progress.KindStageError:
			stages = append(stages, ledger.StageEvent{
				RunID:      runID,
				Stage:      evt.Stage,
				Kind:       strings.ToLower(strings.TrimPrefix(string(evt.Kind), "STAGE_")),
				At:         evt.TS,
				DurationMS: evt.Dur.Milliseconds(),
				Note:       evt.Note,
			})
		}
	}
	if err := s.recorder.RecordStage(ctx, stages...); err != nil {
		return fmt.Errorf("record stages: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LedgerSink) Close(context.Context) error {
	return nil
}
