package archive

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/timefmt"
)

// Product is one public report listed at the API root.
type Product struct {
	ID          string
	Title       string
	ArchiveHref string
	Raw         map[string]any
}

// ArchiveURL is the product's archive link, or the conventional fallback.
func (p Product) ArchiveURL(baseURL string) string {
	if p.ArchiveHref != "" {
		return p.ArchiveHref
	}
	return DefaultArchiveURL(baseURL, p.ID)
}

// DefaultArchiveURL builds <base>/archive/<dataset lower>.
func DefaultArchiveURL(baseURL, datasetID string) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return strings.TrimRight(baseURL, "/") + "/archive/" + strings.ToLower(datasetID)
}

// ListProducts fetches the product catalog keyed by upper-case report id (emilId).
func (c *Client) ListProducts(ctx context.Context) (map[string]Product, error) {
	payload, err := c.GetJSON(ctx, c.baseURL, nil)
	if err != nil {
		return nil, err
	}
	rows, err := CoerceList(payload)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Product, len(rows))
	for _, row := range rows {
		id := strings.ToUpper(stringValue(row["emilId"]))
		if id == "" {
			continue
		}
		title, _ := row["reportName"].(string)
		out[id] = Product{
			ID:          id,
			Title:       strings.TrimSpace(title),
			ArchiveHref: linkHref(row, "archive"),
			Raw:         row,
		}
	}
	return out, nil
}

// ListPage fetches one page of archive items posted within [from, to] (whole days).
func (c *Client) ListPage(ctx context.Context, archiveURL string, from, to time.Time, pageSize, page int) ([]Item, error) {
	payload, err := c.GetJSON(ctx, archiveURL, map[string]string{
		"postDatetimeFrom": timefmt.DayStart(from),
		"postDatetimeTo":   timefmt.DayEnd(to),
		"size":             strconv.Itoa(pageSize),
		"page":             strconv.Itoa(page),
	})
	if err != nil {
		return nil, err
	}
	rows, err := CoerceList(payload)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, NewItem(row, page))
	}
	return items, nil
}
