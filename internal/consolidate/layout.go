package consolidate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/archive"
)

// UndatedDir holds documents without a parseable postDatetime.
const UndatedDir = "undated"

var periodName = regexp.MustCompile(`^(.+)_(\d{6})\.csv$`)

// Subdir is "<YYYY>/<MM>" from the item's own postDatetime wall clock, or "undated".
func Subdir(item archive.Item) string {
	t, ok := item.PostDatetime()
	if !ok {
		return UndatedDir
	}
	return filepath.Join(t.Format("2006"), t.Format("01"))
}

// SourcePath is where the raw document for item is stored.
func SourcePath(outdir, dataset string, item archive.Item) string {
	return filepath.Join(outdir, dataset, Subdir(item), item.StoredFilename())
}

// PeriodPath is the consolidated file an item merges into.
func PeriodPath(outdir, dataset string, item archive.Item) string {
	t, ok := item.PostDatetime()
	if !ok {
		return filepath.Join(outdir, dataset, UndatedDir, dataset+"_undated.csv")
	}
	return MonthPath(outdir, dataset, t)
}

// MonthPath is the consolidated file for the calendar month containing t.
func MonthPath(outdir, dataset string, t time.Time) string {
	year, month := t.Format("2006"), t.Format("01")
	return filepath.Join(outdir, dataset, year, month, fmt.Sprintf("%s_%s%s.csv", dataset, year, month))
}

// MarkerPath is the merged-id marker next to a period file.
func MarkerPath(periodFile string) string {
	return periodFile + ".docids"
}

// PeriodMonth reads the month a period file covers from its <YYYY>/<MM> directories
// relative to the dataset root.
func PeriodMonth(path, datasetRoot string) (time.Time, bool) {
	rel, err := filepath.Rel(datasetRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return time.Time{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 3 {
		return time.Time{}, false
	}
	year, yerr := strconv.Atoi(parts[0])
	month, merr := strconv.Atoi(parts[1])
	if yerr != nil || merr != nil || month < 1 || month > 12 || !isDigits(parts[0]) || !isDigits(parts[1]) {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
}

// InWindow reports whether the file's month lies within the months of [from, to].
func InWindow(path, datasetRoot string, from, to time.Time) bool {
	month, ok := PeriodMonth(path, datasetRoot)
	if !ok {
		return false
	}
	lo := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	hi := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	return !month.Before(lo) && !month.After(hi)
}

// IsPeriodFile reports whether name looks like "<dataset>_<YYYYMM>.csv".
func IsPeriodFile(dataset, name string) bool {
	m := periodName.FindStringSubmatch(name)
	return m != nil && m[1] == dataset
}

// ListPeriodFiles walks <outdir>/<dataset> for monthly period files, sorted.
func ListPeriodFiles(outdir, dataset string) ([]string, error) {
	root := filepath.Join(outdir, dataset)
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !IsPeriodFile(dataset, d.Name()) {
			return nil
		}
		if _, ok := PeriodMonth(path, root); ok {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list period files: %w", err)
	}
	return out, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
