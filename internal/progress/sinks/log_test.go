package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/collection-sync/internal/progress"
)

func TestLogSinkWritesDebugLines(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Kind: progress.KindFileFetched, File: "a.warc.gz", Bytes: 10},
	}))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "progress event", entry.Message)
	require.Equal(t, "a.warc.gz", entry.ContextMap()["file"])

	quiet, quietLogs := observer.New(zapcore.InfoLevel)
	require.NoError(t, NewLogSink(zap.New(quiet)).Consume(context.Background(), []progress.Event{{Kind: progress.KindRunStart}}))
	require.Zero(t, quietLogs.Len())
}
