package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/progress"
)

func TestLogSinkFormatsEventLine(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	err := sink.Consume(context.Background(), []progress.Event{{
		TS:      time.Now(),
		Stage:   progress.StageDatasetDone,
		Dataset: "NP4-190-CD",
		Count:   12,
		Status:  "completed",
		Fields:  map[string]string{"window": "2024-01-01..2024-01-31"},
		Note:    "two words",
	}})
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t,
		`DATASET_DONE dataset=NP4-190-CD count=12 status=completed window=2024-01-01..2024-01-31 note="two words"`,
		entry.Message)
	require.Equal(t, "NP4-190-CD", entry.ContextMap()["dataset"])
}

func TestLogSinkWarnsOnFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{
		Stage: progress.StageDocFailed, Dataset: "NP4-190-CD", DocID: "42", Note: "boom",
	}}))
	require.Equal(t, zap.WarnLevel, logs.All()[0].Level)
	require.NoError(t, sink.Close(context.Background()))
}
