// Package progress defines the events a sync run emits while it moves through its stages.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/collection-sync/internal/archive"
)

// Kind denotes the milestone an Event represents.
type Kind string

// Supported event kinds.
const (
	KindRunStart    Kind = "RUN_START"
	KindRunDone     Kind = "RUN_DONE"
	KindRunError    Kind = "RUN_ERROR"
	KindStageStart  Kind = "STAGE_START"
	KindStageDone   Kind = "STAGE_DONE"
	KindStageError  Kind = "STAGE_ERROR"
	KindFileFetched Kind = "FILE_FETCHED"
	KindFileFailed  Kind = "FILE_FAILED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for downloads.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures one milestone of a sync run.
type Event struct {
	// RunID identifies the run in its 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS   time.Time
	Kind Kind
	// Collection is the collection id the run works on.
	Collection string
	// Stage names the pipeline stage for stage events.
	Stage string
	// File is the capture filename for file events.
	File  string
	Bytes int64
	// Files carries a count attached to stage completions (e.g. files listed or downloaded).
	Files       int64
	StatusClass StatusClass
	Dur         time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindRunStart, KindRunDone, KindRunError:
	case KindStageStart, KindStageDone, KindStageError:
		if e.Stage == "" {
			return errors.New("stage event requires stage")
		}
	case KindFileFetched, KindFileFailed:
		if e.File == "" {
			return errors.New("file event requires file")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}

// ClassifyError groups a failed request by the status it carried, if any.
func ClassifyError(err error) StatusClass {
	var statusErr *archive.StatusError
	if errors.As(err, &statusErr) {
		return ClassifyStatus(statusErr.StatusCode)
	}
	return StatusOther
}

type scopeKey struct{}

// NewContext attaches the run identity stamped onto events emitted below ctx.
func NewContext(ctx context.Context, runID uuid.UUID, collection string) context.Context {
	return context.WithValue(ctx, scopeKey{}, Event{RunID: UUIDToBytes(runID), Collection: collection})
}

// FromContext returns an Event pre-filled with the run identity from ctx.
func FromContext(ctx context.Context) (Event, bool) {
	evt, ok := ctx.Value(scopeKey{}).(Event)
	return evt, ok
}
