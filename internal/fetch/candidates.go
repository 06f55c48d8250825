package fetch

import (
	"net/url"
	"sort"
	"strings"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/archive"
)

var (
	linkRels      = []string{"download", "file", "endpoint", "self"}
	idParamNames  = []string{"docId", "docLookupId", "doclookupId"}
	selectingKeys = map[string]struct{}{"docid": {}, "doclookupid": {}, "download": {}}
)

// Candidate is one URL plus optional query parameters to try for a single document.
type Candidate struct {
	URL    string
	Params map[string]string
}

func (c Candidate) key() string {
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(c.URL)
	for _, k := range keys {
		b.WriteString("\x00" + k + "=" + c.Params[k])
	}
	return b.String()
}

// BuildCandidates lists the retrieval attempts for docID in order: every advertised
// link (bare when it already selects a document, otherwise once per id parameter
// name and then bare), then the dataset fallback endpoint with each id parameter.
func BuildCandidates(baseURL, datasetID, docID string, item archive.Item) []Candidate {
	var out []Candidate
	for _, rel := range linkRels {
		href := item.Href(rel)
		if href == "" {
			continue
		}
		if selectsDocument(href) {
			out = append(out, Candidate{URL: href})
			continue
		}
		for _, name := range idParamNames {
			out = append(out, Candidate{URL: href, Params: map[string]string{name: docID}})
		}
		out = append(out, Candidate{URL: href})
	}
	fallback := strings.TrimRight(baseURL, "/") + "/" + strings.ToLower(datasetID)
	for _, name := range idParamNames {
		out = append(out, Candidate{URL: fallback, Params: map[string]string{name: docID}})
	}
	return dedupe(out)
}

func selectsDocument(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return false
	}
	for k, vs := range values {
		if _, ok := selectingKeys[strings.ToLower(k)]; !ok {
			continue
		}
		for _, v := range vs {
			if v != "" {
				return true
			}
		}
	}
	return false
}

func dedupe(in []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(in))
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		k := c.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}
