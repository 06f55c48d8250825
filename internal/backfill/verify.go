package backfill

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/consolidate"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/timefmt"
)

// Coverage is the postDateTime fill state of one period file.
type Coverage struct {
	Rows      int
	Filled    int
	HasColumn bool
	// Malformed counts filled cells that do not parse as timestamps.
	Malformed int
}

// Missing is the number of rows without a posting time.
func (c Coverage) Missing() int {
	return max(0, c.Rows-c.Filled)
}

// Complete reports whether sources behind the file may be removed: every row
// holds a posting time and every value parses.
func (c Coverage) Complete() bool {
	return c.HasColumn && c.Missing() == 0 && c.Malformed == 0
}

// Measure reads periodFile and reports its coverage.
func Measure(periodFile string) (Coverage, error) {
	table, err := consolidate.ReadTable(periodFile)
	if err != nil {
		return Coverage{}, err
	}
	cov := Coverage{Rows: len(table.Rows)}
	col := consolidate.DetectPostingColumn(table.Header)
	if col < 0 {
		return cov, nil
	}
	cov.HasColumn = true
	for _, row := range table.Rows {
		v := strings.TrimSpace(consolidate.Value(row, col))
		if v == "" {
			continue
		}
		cov.Filled++
		if _, ok := timefmt.ParseISO(v); !ok {
			cov.Malformed++
		}
	}
	return cov, nil
}

// DeleteSources removes the stored payloads of the documents merged into periodFile.
func DeleteSources(periodFile string) (int, error) {
	paths, err := MonthSources(periodFile)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, path := range paths {
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return deleted, fmt.Errorf("delete source: %w", err)
		}
		deleted++
	}
	return deleted, nil
}

// ArchiveSources moves the stored payloads behind periodFile into
// <archiveRoot>/<dataset>/<YYYY>/<MM>. A target of the same size is treated as
// already archived; other clashes get a ".dupN" suffix.
func ArchiveSources(periodFile, dataset, archiveRoot string) (int, error) {
	paths, err := MonthSources(periodFile)
	if err != nil {
		return 0, err
	}
	monthDir := filepath.Dir(periodFile)
	targetDir := filepath.Join(archiveRoot, dataset, filepath.Base(filepath.Dir(monthDir)), filepath.Base(monthDir))
	if err := os.MkdirAll(targetDir, 0o750); err != nil {
		return 0, fmt.Errorf("create archive directory: %w", err)
	}
	archived := 0
	for _, src := range paths {
		target := filepath.Join(targetDir, filepath.Base(src))
		if dst, err := os.Stat(target); err == nil {
			if info, serr := os.Stat(src); serr == nil && info.Size() == dst.Size() {
				if err := os.Remove(src); err != nil {
					return archived, fmt.Errorf("remove archived source: %w", err)
				}
				archived++
				continue
			}
			target = uniquePath(target)
		}
		if err := move(src, target); err != nil {
			return archived, err
		}
		archived++
	}
	return archived, nil
}

func uniquePath(path string) string {
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s.dup%d", path, n)
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

// move renames src to dst, copying across filesystems when rename is refused.
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create archived copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy source: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close archived copy: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove moved source: %w", err)
	}
	return nil
}
