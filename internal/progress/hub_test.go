package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(StageDatasetStart)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageDatasetStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNeverBlocksOnFullQueue asserts a full queue drops events instead of
// stalling the orchestrator.
func TestHubEmitNeverBlocksOnFullQueue(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:   Config{}.withDefaults(),
		queue: make(chan Event),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageDatasetStart))
	hub.Emit(sampleEvent(StageDatasetDone))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.Dropped(), "the first drop is reported and reset, the second is counted")
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	evt := sampleEvent(StageDatasetStart)
	hub.Emit(evt)

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
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

func sampleEvent(stage Stage) Event {
	return Event{
		TS:      time.Now(),
		Stage:   stage,
		Dataset: "NP4-190-CD",
	}
}

// TestHubSynchronousStampsEvents checks inline delivery and run/timestamp stamping.
func TestHubSynchronousStampsEvents(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sink := newStubSink()
	hub := NewHub(Config{
		Synchronous: true,
		RunID:       "run-1",
		Now:         func() time.Time { return fixed },
	}, sink)

	hub.Emit(Event{Stage: StageDatasetDone, Dataset: "NP6-905-CD"})
	require.Len(t, sink.Batches(), 1)
	got := sink.Batches()[0][0]
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, fixed, got.TS)
	require.Equal(t, "run-1", hub.RunID())

	require.NoError(t, hub.Close(context.Background()))
	hub.Emit(Event{Stage: StageDatasetDone, Dataset: "NP6-905-CD"})
	require.Len(t, sink.Batches(), 1)
}

// TestHubDropsInvalidEvents ensures validation failures never reach sinks.
func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{Synchronous: true}, sink)
	hub.Emit(Event{Stage: "BOGUS"})
	hub.Emit(Event{Stage: StageDocDownloaded, Dataset: "NP4-190-CD"})
	require.Empty(t, sink.Batches())
}

func TestRecorderKeepsOrder(t *testing.T) {
	t.Parallel()

	var rec Recorder
	rec.Emit(Event{Stage: StageRunStart})
	rec.Emit(Event{Stage: StageRunSummary})
	require.Equal(t, []Stage{StageRunStart, StageRunSummary}, rec.Stages())
	require.Len(t, rec.Events(), 2)
}

// TestHubBatchedStampsRunID checks queued events carry the run id once delivered.
func TestHubBatchedStampsRunID(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{RunID: "run-7", MaxBatchEvents: 3, MaxBatchWait: time.Minute}, sink)
	hub.Emit(Event{Stage: StageDatasetStart, Dataset: "NP4-732-CD"})
	hub.Emit(Event{Stage: StageDatasetDone, Dataset: "NP4-732-CD"})
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	for _, evt := range batches[0] {
		require.Equal(t, "run-7", evt.RunID)
		require.False(t, evt.TS.IsZero())
	}
}
