package backfill

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/consolidate"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/payload"
)

var docIDSuffix = regexp.MustCompile(`__(\d+)(?:\.[A-Za-z0-9._-]+)?$`)

// sidecar suffixes that share the "__<docId>" pattern but are not source payloads.
var sidecarSuffixes = []string{".csv.sortcache.json", ".csv.docids", ".part"}

// SourceFiles lists the stored payloads for docID in monthDir: names ending in
// "__<docID>" first, then "__<docID>.<ext>", each group sorted.
func SourceFiles(monthDir, docID string) ([]string, error) {
	var out []string
	for _, pattern := range []string{"*__" + docID, "*__" + docID + ".*"} {
		matches, err := filepath.Glob(filepath.Join(monthDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob sources: %w", err)
		}
		for _, path := range matches {
			if keepSource(path) {
				out = append(out, path)
			}
		}
	}
	return out, nil
}

func keepSource(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	name := filepath.Base(path)
	for _, suffix := range sidecarSuffixes {
		if strings.HasSuffix(name, suffix) {
			return false
		}
	}
	if strings.HasSuffix(name, ".csv") && !docIDSuffix.MatchString(name) {
		return false
	}
	return true
}

// IsSourceFile reports whether name carries a "__<docId>" suffix.
func IsSourceFile(name string) bool {
	return docIDSuffix.MatchString(name)
}

// FirstSource returns the first non-empty stored payload for docID, or "".
func FirstSource(monthDir, docID string) string {
	paths, err := SourceFiles(monthDir, docID)
	if err != nil {
		return ""
	}
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return path
		}
	}
	return ""
}

// CountRows counts non-blank data lines under the header. JSON bodies count as zero.
func CountRows(text string) int {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if trimmed == "" || trimmed[0] == '{' || trimmed[0] == '[' {
		return 0
	}
	lines := consolidate.SplitLines(trimmed)
	n := 0
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// MonthSources lists every stored payload of the documents merged into periodFile.
func MonthSources(periodFile string) ([]string, error) {
	ids, err := readDocIDs(periodFile)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(periodFile)
	seen := make(map[string]struct{})
	var out []string
	for _, id := range ids {
		paths, err := SourceFiles(dir, id)
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			if _, ok := seen[path]; ok {
				continue
			}
			seen[path] = struct{}{}
			out = append(out, path)
		}
	}
	return out, nil
}

func readDocIDs(periodFile string) ([]string, error) {
	return consolidate.NewStore().DocIDs(periodFile)
}

func readSource(path string) (string, error) {
	return payload.ReadCSVText(path)
}
