package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestHubBatchBySize verifies the hub flushes as soon as the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(KindRunStart)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies a small batch is flushed once the wait elapses.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(KindStageStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlocking asserts Emit returns immediately even when nothing reads the channel.
func TestHubEmitNonBlocking(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(sampleEvent(KindRunStart))
	hub.Emit(sampleEvent(KindRunStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.dropped.Load(), "drops after a warning accumulate until the next one")
}

// TestHubFlushOnClose ensures Close drains buffered events and closes sinks.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(sampleEvent(KindRunDone))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.Closed())

	hub.Emit(sampleEvent(KindRunDone))
	require.Len(t, sink.Batches(), 1)
}

// TestHubDiscardsInvalidEvents keeps malformed events away from sinks.
func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	hub.Emit(Event{Kind: KindRunStart, TS: time.Now()})
	hub.Emit(Event{RunID: UUIDToBytes(uuid.New()), TS: time.Now(), Kind: KindStageDone})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

// TestHubSurvivesSinkErrors keeps delivering to later sinks when one fails.
func TestHubSurvivesSinkErrors(t *testing.T) {
	t.Parallel()

	failing := &stubSink{err: errors.New("sink down")}
	healthy := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, failing, nil, healthy)
	hub.Emit(sampleEvent(KindRunStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, healthy.Batches(), 1)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	runID := UUIDToBytes(uuid.New())
	now := time.Now()
	require.NoError(t, Event{RunID: runID, TS: now, Kind: KindStageDone, Stage: "BuildIndex"}.Validate())
	require.NoError(t, Event{RunID: runID, TS: now, Kind: KindFileFetched, File: "a.warc.gz"}.Validate())
	require.Error(t, Event{RunID: runID, TS: now, Kind: KindFileFailed}.Validate())
	require.Error(t, Event{RunID: runID, Kind: KindRunStart}.Validate())
	require.Error(t, Event{RunID: runID, TS: now, Kind: "BOGUS"}.Validate())
	require.Error(t, Event{RunID: runID, TS: now, Kind: KindRunDone, Dur: -time.Second}.Validate())
}

func TestContextScope(t *testing.T) {
	t.Parallel()

	_, ok := FromContext(context.Background())
	require.False(t, ok)

	id := uuid.New()
	evt, ok := FromContext(NewContext(context.Background(), id, "12345"))
	require.True(t, ok)
	require.Equal(t, id, evt.RunUUID())
	require.Equal(t, "12345", evt.Collection)
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, Status2xx, ClassifyStatus(204))
	require.Equal(t, Status3xx, ClassifyStatus(304))
	require.Equal(t, Status4xx, ClassifyStatus(404))
	require.Equal(t, Status5xx, ClassifyStatus(503))
	require.Equal(t, StatusOther, ClassifyStatus(0))
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
	err     error
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sampleEvent(kind Kind) Event {
	evt := Event{RunID: UUIDToBytes(uuid.New()), TS: time.Now(), Kind: kind, Collection: "12345"}
	switch kind {
	case KindStageStart, KindStageDone, KindStageError:
		evt.Stage = "BuildIndex"
	case KindFileFetched, KindFileFailed:
		evt.File = "a.warc.gz"
	}
	return evt
}
