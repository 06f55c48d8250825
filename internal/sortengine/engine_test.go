package sortengine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "X_202401.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestSortPeriodFileAscendingThenAlready(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "SCEDTimestamp,v\n01/02/2024 10:00:00,b\nbad,x\n01/01/2024 10:00:00,a\n")
	engine := New(fixedClock{}, nil)

	res, err := engine.SortPeriodFile(path, Ascending, StrategyAuto)
	require.NoError(t, err)
	assert.Equal(t, Sorted, res)
	assert.Equal(t, "SCEDTimestamp,v\n01/01/2024 10:00:00,a\n01/02/2024 10:00:00,b\nbad,x\n", read(t, path))

	before, err := os.Stat(path)
	require.NoError(t, err)
	res, err = engine.SortPeriodFile(path, Ascending, StrategyAuto)
	require.NoError(t, err)
	assert.Equal(t, Already, res)
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())

	rec, ok := ReadCache(path)
	require.True(t, ok)
	assert.Equal(t, CacheVersion, rec.Version)
	assert.Equal(t, "ascending", rec.SortOrder)
	assert.Equal(t, "auto", rec.SortStrategy)
	assert.Equal(t, ClassSorted, rec.Classification)
	assert.Equal(t, ClassSorted, Classification(path))
}

func TestSortPeriodFileDetectsAlreadySortedWithoutCache(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "timestamp,v\n2024-01-01 00:00,a\n2024-01-01 00:00,b\n2024-01-02 00:00,c\nnope,d\n")
	res, err := New(fixedClock{}, nil).SortPeriodFile(path, Ascending, StrategyTimestamp)
	require.NoError(t, err)
	assert.Equal(t, Already, res)
}

func TestSortPeriodFileUnparsedAheadForcesRewrite(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "timestamp,v\nnope,d\n2024-01-01 00:00,a\n")
	res, err := New(fixedClock{}, nil).SortPeriodFile(path, Ascending, StrategyTimestamp)
	require.NoError(t, err)
	assert.Equal(t, Sorted, res)
	assert.Equal(t, "timestamp,v\n2024-01-01 00:00,a\nnope,d\n", read(t, path))
}

func TestSortPeriodFileSkippedWhenNoKeys(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "a,b\n1,2\n3,4\n")
	engine := New(fixedClock{}, nil)
	res, err := engine.SortPeriodFile(path, Ascending, StrategyAuto)
	require.NoError(t, err)
	assert.Equal(t, Skipped, res)
	assert.Equal(t, ClassSkipped, Classification(path))

	res, err = engine.SortPeriodFile(path, Ascending, StrategyAuto)
	require.NoError(t, err)
	assert.Equal(t, Skipped, res)
}

func TestSortCacheInvalidatedBySignature(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "timestamp,v\n2024-01-01 00:00,a\n")
	engine := New(fixedClock{}, nil)
	_, err := engine.SortPeriodFile(path, Ascending, StrategyTimestamp)
	require.NoError(t, err)
	assert.Equal(t, string(ClassSorted), Lookup(path, Ascending, StrategyTimestamp))
	assert.Empty(t, Lookup(path, Descending, StrategyTimestamp))

	require.NoError(t, os.WriteFile(path, []byte("timestamp,v\n2024-01-02 00:00,b\n2024-01-01 00:00,a\n"), 0o600))
	assert.Empty(t, Lookup(path, Ascending, StrategyTimestamp))
	assert.Equal(t, ClassInvalid, Classification(path))

	res, err := engine.SortPeriodFile(path, Ascending, StrategyTimestamp)
	require.NoError(t, err)
	assert.Equal(t, Sorted, res)
	assert.Equal(t, ClassMissing, Classification(filepath.Join(t.TempDir(), "none.csv")))
}

func TestHourEnding24StaysOnSameDay(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("DeliveryDate,HourEnding,v\n")
	for day := 2; day >= 1; day-- {
		for he := 24; he >= 1; he-- {
			fmt.Fprintf(&b, "01/%02d/2024,%02d:00,%d-%d\n", day, he, day, he)
		}
	}
	path := writeCSV(t, b.String())

	res, err := New(fixedClock{}, nil).SortPeriodFile(path, Ascending, StrategyTimestamp)
	require.NoError(t, err)
	assert.Equal(t, Sorted, res)

	lines := strings.Split(strings.TrimSpace(read(t, path)), "\n")
	require.Len(t, lines, 49)
	assert.Equal(t, "01/01/2024,01:00,1-1", lines[1])
	assert.Equal(t, "01/01/2024,24:00,1-24", lines[24])
	assert.Equal(t, "01/02/2024,01:00,2-1", lines[25])
	assert.Equal(t, "01/02/2024,24:00,2-24", lines[48])
}

func TestDescendingKeepsTiesInOriginalOrder(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "timestamp,v\n2024-01-01 00:00,a\n2024-01-02 00:00,b\n2024-01-01 00:00,c\n")
	res, err := New(fixedClock{}, nil).SortPeriodFile(path, Descending, StrategyTimestamp)
	require.NoError(t, err)
	assert.Equal(t, Sorted, res)
	assert.Equal(t, "timestamp,v\n2024-01-02 00:00,b\n2024-01-01 00:00,a\n2024-01-01 00:00,c\n", read(t, path))
}

func TestForecastAwareOrdersByTargetThenIssue(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "postDateTime,DeliveryDate,HourEnding,v\n"+
		"2024-01-01T12:00:00,01/02/2024,1,late-issue\n"+
		"2024-01-01T06:00:00,01/02/2024,1,early-issue\n"+
		"2024-01-01T06:00:00,01/01/2024,5,earlier-target\n")
	res, err := New(fixedClock{}, nil).SortPeriodFile(path, Ascending, StrategyAuto)
	require.NoError(t, err)
	assert.Equal(t, Sorted, res)
	lines := strings.Split(strings.TrimSpace(read(t, path)), "\n")
	assert.Equal(t, []string{
		"postDateTime,DeliveryDate,HourEnding,v",
		"2024-01-01T06:00:00,01/01/2024,5,earlier-target",
		"2024-01-01T06:00:00,01/02/2024,1,early-issue",
		"2024-01-01T12:00:00,01/02/2024,1,late-issue",
	}, lines)
}

func TestResolveOrder(t *testing.T) {
	t.Parallel()

	_, ok, err := ResolveOrder("none", "api")
	require.NoError(t, err)
	assert.False(t, ok)

	o, ok, err := ResolveOrder("match-download-order", "newest-first")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Descending, o)

	o, _, err = ResolveOrder("match-download-order", "api")
	require.NoError(t, err)
	assert.Equal(t, Ascending, o)

	_, _, err = ResolveOrder("sideways", "api")
	assert.Error(t, err)
}

func TestParseHourEnding(t *testing.T) {
	t.Parallel()

	cases := map[string][3]int{"1": {1, 0, 1}, "HE14": {14, 0, 1}, "24:00": {23, 59, 1}, "0": {0, 0, 1}}
	for in, want := range cases {
		h, m, ok := ParseHourEnding(in)
		assert.True(t, ok, in)
		assert.Equal(t, want[0], h, in)
		assert.Equal(t, want[1], m, in)
	}
	for _, in := range []string{"", "HE", "25", "100"} {
		_, _, ok := ParseHourEnding(in)
		assert.False(t, ok, in)
	}
}

func TestParseDatetimeNormalizesOffsets(t *testing.T) {
	t.Parallel()

	got, ok := ParseDatetime("2024-01-01T06:00:00-06:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), got)

	_, ok = ParseDatetime("2024-01-01")
	assert.False(t, ok)
}

func TestSortCacheWriteFailureIsLogged(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "SCEDTimestamp,v\n01/02/2024 10:00:00,b\n01/01/2024 10:00:00,a\n")
	blocker := CachePath(path)
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "occupied"), 0o750))

	core, logs := observer.New(zapcore.WarnLevel)
	engine := New(fixedClock{}, zap.New(core))

	res, err := engine.SortPeriodFile(path, Ascending, StrategyAuto)
	require.NoError(t, err)
	assert.Equal(t, Sorted, res)
	assert.Equal(t, "SCEDTimestamp,v\n01/01/2024 10:00:00,a\n01/02/2024 10:00:00,b\n", read(t, path))

	warned := logs.FilterMessage("sort cache not written").All()
	require.Len(t, warned, 1)
	assert.Equal(t, path, warned[0].ContextMap()["file"])
}
