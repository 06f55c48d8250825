package failures

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/storage/postgres"
)

var recordedAt = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func TestCSVSinkWritesHeaderOnceAndFlushes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "download_failures.csv")
	sink, err := OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, sink.Record(context.Background(), Entry{
		Time: recordedAt, Dataset: "NP4-190-CD", Stage: StageDownload, DocID: "42", Page: 2, Error: "status 500, retry",
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "timestamp,dataset_id,stage,doc_id,page,error\n"+
		"2024-03-01T12:30:00Z,NP4-190-CD,download,42,2,\"status 500, retry\"\n", string(data))
	require.NoError(t, sink.Close())

	reopened, err := OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, reopened.Record(context.Background(), Entry{Time: recordedAt, Dataset: RunDataset, Stage: StageFatal, Error: "down"}))
	require.NoError(t, reopened.Close())

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "timestamp,dataset_id,stage,doc_id,page,error\n"+
		"2024-03-01T12:30:00Z,NP4-190-CD,download,42,2,\"status 500, retry\"\n"+
		"2024-03-01T12:30:00Z,RUN,fatal,,0,down\n", string(data))
}

type failingSink struct{ closed bool }

func (*failingSink) Record(context.Context, Entry) error { return errors.New("sink offline") }
func (f *failingSink) Close() error {
	f.closed = true
	return nil
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	t.Parallel()

	mem := &Memory{}
	bad := &failingSink{}
	multi := Multi{mem, nil, bad}

	err := multi.Record(context.Background(), Entry{Stage: StageSort})
	require.ErrorContains(t, err, "sink offline")
	assert.Len(t, mem.Entries(), 1)

	require.NoError(t, multi.Close())
	assert.True(t, bad.closed)
	require.NoError(t, Nop{}.Record(context.Background(), Entry{}))
}

func TestPostgresSinkInsertsEntry(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := postgres.NewFailureStoreWithPool(mock, "")
	require.NoError(t, err)
	sink := NewPostgresSink(store)

	mock.ExpectExec("INSERT INTO ercot_failures").
		WithArgs("run-7", recordedAt, "NP6-905-CD", StageBulk, "", nil, "bad zip").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectClose()

	require.NoError(t, sink.Record(context.Background(), Entry{
		Time: recordedAt, RunID: "run-7", Dataset: "NP6-905-CD", Stage: StageBulk, Error: "bad zip",
	}))
	require.NoError(t, sink.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}
