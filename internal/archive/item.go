// Package archive talks to the ERCOT public-reports API: authentication, throttled requests,
// archive listing and earliest-availability probing.
package archive

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/timefmt"
)

const (
	// DefaultBaseURL is the root of the public-reports API.
	DefaultBaseURL = "https://api.ercot.com/api/public-reports"
	// FallbackFilename is used when neither the metadata nor the doc id yield a name.
	FallbackFilename = "ercot_document.bin"
)

var (
	docIDKeys      = []string{"docId", "docLookupId", "doclookupId"}
	unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// Item is one archive listing entry. Doc keeps the API object as returned; Page is the
// 1-based listing page it came from (0 when unknown).
type Item struct {
	Doc  map[string]any
	Page int
}

// NewItem wraps a decoded object.
func NewItem(doc map[string]any, page int) Item {
	if doc == nil {
		doc = map[string]any{}
	}
	return Item{Doc: doc, Page: page}
}

// DocID returns the first non-empty identifier among docId, docLookupId and doclookupId.
func (it Item) DocID() string {
	for _, key := range docIDKeys {
		if v := stringValue(it.Doc[key]); v != "" {
			return v
		}
	}
	return ""
}

// PostDatetimeRaw returns the postDatetime attribute as published.
func (it Item) PostDatetimeRaw() string {
	return stringValue(it.Doc["postDatetime"])
}

// PostDatetime parses postDatetime, keeping the published wall clock.
func (it Item) PostDatetime() (time.Time, bool) {
	return timefmt.ParseISO(it.PostDatetimeRaw())
}

// ExpectedSize returns the advertised byte size, or -1 when absent or unreadable.
func (it Item) ExpectedSize() int64 {
	raw, ok := it.Doc["size"]
	if !ok || raw == nil {
		return -1
	}
	switch v := raw.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		return -1
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return -1
		}
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return -1
		}
		return n
	default:
		return -1
	}
}

// Href returns _links.<rel>.href when present.
func (it Item) Href(rel string) string {
	return linkHref(it.Doc, rel)
}

// Filename picks a filesystem-safe name from constructedName, friendlyName or the doc id.
func (it Item) Filename() string {
	for _, key := range []string{"constructedName", "friendlyName"} {
		if raw, ok := it.Doc[key].(string); ok && strings.TrimSpace(raw) != "" {
			return SafeFilename(raw)
		}
	}
	if id := stringValue(it.Doc["docId"]); id != "" {
		return SafeFilename(id + ".bin")
	}
	return FallbackFilename
}

// StoredFilename is Filename with "__<docId>" inserted before the extension so
// documents sharing a constructed name do not overwrite each other.
func (it Item) StoredFilename() string {
	return WithDocIDSuffix(it.Filename(), it.DocID())
}

// MarshalJSON renders the raw object.
func (it Item) MarshalJSON() ([]byte, error) {
	return json.Marshal(it.Doc)
}

// SafeFilename replaces path separators and anything outside [A-Za-z0-9._-] with "_".
func SafeFilename(value string) string {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.NewReplacer(`\`, "_", "/", "_").Replace(trimmed)
	out := unsafeFilename.ReplaceAllString(trimmed, "_")
	if out == "" {
		return FallbackFilename
	}
	return out
}

// WithDocIDSuffix turns "name.ext" into "name__<docID>.ext".
func WithDocIDSuffix(filename, docID string) string {
	if docID == "" {
		return filename
	}
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	if base == "" {
		// ".bin" style names have no stem; treat the whole name as the base.
		base, ext = filename, ""
	}
	return base + "__" + docID + ext
}

func linkHref(doc map[string]any, rel string) string {
	links, ok := doc["_links"].(map[string]any)
	if !ok {
		return ""
	}
	relObj, ok := links[rel].(map[string]any)
	if !ok {
		return ""
	}
	href, _ := relObj["href"].(string)
	return strings.TrimSpace(href)
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
