package archive

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coerce(t *testing.T, raw string) ([]map[string]any, error) {
	t.Helper()
	payload, err := DecodeJSON([]byte(raw))
	require.NoError(t, err)
	return CoerceList(payload)
}

func TestCoerceListShapes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want int
	}{
		{"bare list", `[{"docId":1},{"docId":2}]`, 2},
		{"preferred key", `{"data":[{"docId":1}],"other":[{"x":1},{"x":2}]}`, 1},
		{"embedded", `{"_embedded":{"archives":[{"docId":1},{"docId":2},{"docId":3}]}}`, 3},
		{"nested list of lists", `[[1,2],[{"docId":1}]]`, 1},
		{"mixed list keeps objects", `[1,{"docId":1},"x"]`, 1},
		{"non preferred key", `{"payload":{"rows":[{"a":1}]}}`, 1},
		{"empty archive", `{"_links":{},"_meta":{"totalRecords":0},"product":{"emilId":"X"}}`, 0},
		{"empty archive without meta", `{"product":{}}`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rows, err := coerce(t, tc.body)
			require.NoError(t, err)
			assert.Len(t, rows, tc.want)
		})
	}
}

func TestCoerceListUnexpectedShape(t *testing.T) {
	t.Parallel()

	_, err := coerce(t, `{"zeta":1,"alpha":{"b":2}}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedShape))
	assert.Contains(t, err.Error(), "Top-level keys: alpha, zeta")

	_, err = coerce(t, `{"product":{},"extra":[]}`)
	require.ErrorIs(t, err, ErrUnexpectedShape)

	_, err = coerce(t, `"text"`)
	require.ErrorIs(t, err, ErrUnexpectedShape)
}
