package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestInsertFailureWritesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFailureStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, DefaultFailureTable, store.Table())

	now := time.Unix(1700000000, 0).UTC()
	row := FailureRow{
		RunID:      "run-1",
		RecordedAt: now,
		DatasetID:  "NP4-190-CD",
		Stage:      "download",
		DocID:      "42",
		Page:       3,
		Error:      "boom",
	}

	mock.ExpectExec("INSERT INTO ercot_failures").
		WithArgs(row.RunID, now, row.DatasetID, row.Stage, row.DocID, 3, row.Error).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.InsertFailure(context.Background(), row))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFailureWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFailureStoreWithPool(mock, "custom_failures")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO custom_failures").
		WithArgs("", pgxmock.AnyArg(), "RUN", "fatal", "", nil, "down").
		WillReturnError(errors.New("connection refused"))

	err = store.InsertFailure(context.Background(), FailureRow{DatasetID: "RUN", Stage: "fatal", Error: "down"})
	require.ErrorContains(t, err, "insert failure")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailureStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewFailureStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewFailureStoreWithPool(mock, "bad-name;")
	require.ErrorContains(t, err, "invalid table name")

	store, err := NewFailureStoreWithPool(mock, "ok")
	require.NoError(t, err)
	require.ErrorContains(t, store.InsertFailure(context.Background(), FailureRow{}), "stage is required")

	_, err = NewFailureStore(context.Background(), FailureStoreConfig{})
	require.ErrorContains(t, err, "dsn is required")
}
