package timefmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseISO(t *testing.T) {
	t.Parallel()

	got, ok := ParseISO("2024-03-05T10:15:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 15, 0, 0, time.UTC), got)

	got, ok = ParseISO("2024-03-05T10:15:00.123Z")
	require.True(t, ok)
	assert.Equal(t, 123*time.Millisecond, time.Duration(got.Nanosecond()))

	got, ok = ParseISO("2024-03-05 10:15")
	require.True(t, ok)
	assert.Equal(t, 15, got.Minute())

	_, ok = ParseISO("03/05/2024 10:15")
	assert.False(t, ok)
	_, ok = ParseISO("  ")
	assert.False(t, ok)
}

func TestParseISOUTCConvertsOffsets(t *testing.T) {
	t.Parallel()

	got, ok := ParseISOUTC("2024-03-05T10:15:00-06:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 5, 16, 15, 0, 0, time.UTC), got)
}

func TestDayBounds(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-09T00:00:00", DayStart(day))
	assert.Equal(t, "2024-01-09T23:59:59", DayEnd(day))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), MonthStart(day))
}
