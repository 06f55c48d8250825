package payload

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, members ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.Name)
		require.NoError(t, err)
		_, err = w.Write(m.Data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDecodeText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a,b\n", DecodeText([]byte("\xEF\xBB\xBFa,b\n")))
	assert.Equal(t, "zoné", DecodeText([]byte("zoné")))
	assert.Equal(t, "zoné", DecodeText([]byte{'z', 'o', 'n', 0xE9}))
}

func TestCSVTextPrefersCSVMember(t *testing.T) {
	t.Parallel()

	raw := buildZip(t,
		Entry{Name: "docs/", Data: nil},
		Entry{Name: "readme.txt", Data: []byte("notes")},
		Entry{Name: "data.CSV", Data: []byte("x,y\n1,2\n")},
	)
	text, err := CSVText(raw)
	require.NoError(t, err)
	assert.Equal(t, "x,y\n1,2\n", text)

	first, err := CSVText(buildZip(t, Entry{Name: "a.txt", Data: []byte("A")}, Entry{Name: "b.txt", Data: []byte("B")}))
	require.NoError(t, err)
	assert.Equal(t, "A", first)

	empty, err := CSVText(buildZip(t, Entry{Name: "only/"}))
	require.NoError(t, err)
	assert.Empty(t, empty)

	plain, err := CSVText([]byte("h\n1\n"))
	require.NoError(t, err)
	assert.Equal(t, "h\n1\n", plain)
}

func TestUnzipKeepsOrder(t *testing.T) {
	t.Parallel()

	entries, err := Unzip(buildZip(t, Entry{Name: "2.zip", Data: []byte("b")}, Entry{Name: "1.zip", Data: []byte("a")}))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2.zip", entries[0].Name)
	assert.Equal(t, []byte("a"), entries[1].Data)

	_, err = Unzip([]byte("not a zip"))
	assert.Error(t, err)
	assert.False(t, IsZip([]byte("not a zip")))
}

func TestExtractZip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "doc__1.zip")
	require.NoError(t, os.WriteFile(path, buildZip(t, Entry{Name: "inner/report.csv", Data: []byte("a\n")}), 0o600))
	require.NoError(t, ExtractZip(path))
	got, err := os.ReadFile(filepath.Join(dir, "inner", "report.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(got))

	evil := filepath.Join(dir, "evil.zip")
	require.NoError(t, os.WriteFile(evil, buildZip(t, Entry{Name: "../escape.csv", Data: []byte("x")}), 0o600))
	assert.ErrorIs(t, ExtractZip(evil), ErrPathTraversal)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dir), "escape.csv"))

	assert.NoError(t, ExtractZip(filepath.Join(dir, "plain.csv")))
}
