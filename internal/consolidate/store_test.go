package consolidate

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestMergeItemStructuredAndIdempotent(t *testing.T) {
	t.Parallel()

	period := filepath.Join(t.TempDir(), "X", "2024", "01", "X_202401.csv")
	store := NewStore()

	rows, err := store.MergeItem(period, "A", []byte("zone,price\nN,10\nS,11\n"), "2024-01-01T10:00:00")
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	rows, err = store.MergeItem(period, "A", []byte("zone,price\nN,10\nS,11\n"), "2024-01-01T10:00:00")
	require.NoError(t, err)
	assert.Zero(t, rows)

	rows, err = store.MergeItem(period, "B", []byte("zone,price\nW,12\n"), "2024-01-01T11:00:00")
	require.NoError(t, err)
	assert.Equal(t, 1, rows)

	assert.Equal(t,
		"postDateTime,zone,price\n"+
			"2024-01-01T10:00:00,N,10\n"+
			"2024-01-01T10:00:00,S,11\n"+
			"2024-01-01T11:00:00,W,12\n",
		readFile(t, period))
	assert.Equal(t, "A\nB\n", readFile(t, MarkerPath(period)))

	fresh := NewStore()
	merged, err := fresh.IsAlreadyMerged(period, "B")
	require.NoError(t, err)
	assert.True(t, merged)
	ids, err := fresh.DocIDs(period)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids)
}

func TestMergeItemUsesSourcePostingAlias(t *testing.T) {
	t.Parallel()

	period := filepath.Join(t.TempDir(), "X_202401.csv")
	store := NewStore()
	_, err := store.MergeItem(period, "A", []byte("PostingTime,v\n2024-01-02T00:00:00,1\n,2\n"), "2024-01-01T00:00:00")
	require.NoError(t, err)
	assert.Equal(t,
		"postDateTime,v\n2024-01-02T00:00:00,1\n2024-01-01T00:00:00,2\n",
		readFile(t, period))
}

func TestMergeItemMigratesLegacyFile(t *testing.T) {
	t.Parallel()

	period := filepath.Join(t.TempDir(), "X_202401.csv")
	store := NewStore()

	_, err := store.MergeItem(period, "A", []byte("zone,price\nN,10\n"), "")
	require.NoError(t, err)
	assert.Equal(t, "zone,price\nN,10\n", readFile(t, period), "no posting time keeps the raw copy")

	_, err = store.MergeItem(period, "B", []byte("zone,price\nS,11\n"), "")
	require.NoError(t, err)
	assert.Equal(t, "zone,price\nN,10\nS,11\n", readFile(t, period))

	_, err = store.MergeItem(period, "C", []byte("zone,price\nE,12\n"), "2024-01-05T00:00:00")
	require.NoError(t, err)
	assert.Equal(t,
		"postDateTime,zone,price\n,N,10\n,S,11\n2024-01-05T00:00:00,E,12\n",
		readFile(t, period))
	assert.NoFileExists(t, period+".tmp")

	_, err = store.MergeItem(period, "D", []byte("zone,price\nW,13\n"), "")
	require.NoError(t, err)
	assert.Contains(t, readFile(t, period), "\n,W,13\n", "an existing posting column keeps rows aligned")
}

func TestMergeItemEmptyPayloadStillMarks(t *testing.T) {
	t.Parallel()

	period := filepath.Join(t.TempDir(), "X_202401.csv")
	store := NewStore()
	rows, err := store.MergeItem(period, "A", []byte("  \n"), "2024-01-01T00:00:00")
	require.NoError(t, err)
	assert.Zero(t, rows)
	assert.NoFileExists(t, period)
	merged, err := store.IsAlreadyMerged(period, "A")
	require.NoError(t, err)
	assert.True(t, merged)
}

func TestMergeItemReadsZipPayload(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("report.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte("a\n1\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	period := filepath.Join(t.TempDir(), "X_202401.csv")
	rows, err := NewStore().MergeItem(period, "Z", buf.Bytes(), "2024-01-01T00:00:00")
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
	assert.Equal(t, "postDateTime,a\n2024-01-01T00:00:00,1\n", readFile(t, period))
}

func TestDetectPostingColumn(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, DetectPostingColumn([]string{"a", " POSTDATETIME "}))
	assert.Equal(t, 0, DetectPostingColumn([]string{"post_datetime", "b"}))
	assert.Equal(t, -1, DetectPostingColumn([]string{"DeliveryDate"}))
}
