// Package fetch retrieves document payloads from the archive API, in bulk as a
// zip of zips or one at a time through an ordered list of URL candidates.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/archive"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/payload"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/storage/local"
)

const (
	// MaxBulkChunk is the largest id list the bulk endpoint accepts.
	MaxBulkChunk = 2048
	// MaxRepairChunk bounds bulk requests issued by repair passes.
	MaxRepairChunk = 256
)

var (
	// ErrCountMismatch is returned in strict mode when the bulk archive holds a
	// different number of documents than requested.
	ErrCountMismatch = errors.New("bulk response count mismatch")
	// ErrNestedPayload is returned in strict mode when an inner archive does not hold exactly one file.
	ErrNestedPayload = errors.New("bulk nested ZIP payload mismatch")
	// ErrAllCandidatesFailed is returned when no download candidate produced a file.
	ErrAllCandidatesFailed = errors.New("all download URL candidates failed")
)

// advanceStatuses move the candidate loop on instead of aborting.
var advanceStatuses = map[int]struct{}{
	http.StatusBadRequest:          {},
	http.StatusNotFound:            {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// Requester is the subset of archive.Client the fetcher needs.
type Requester interface {
	Do(ctx context.Context, req archive.Request) (*resty.Response, error)
	BaseURL() string
}

// Fetcher downloads document payloads.
type Fetcher struct {
	client Requester
	logger *zap.Logger
}

// New constructs a Fetcher.
func New(client Requester, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{client: client, logger: logger}
}

// BulkURL is the archive bulk-download endpoint for a dataset id as given.
func BulkURL(baseURL, datasetID string) string {
	return strings.TrimRight(baseURL, "/") + "/archive/" + datasetID + "/download"
}

type bulkBody struct {
	DocIDs []string `json:"docIds"`
}

// FetchBulk downloads ids in chunks of at most chunkSize (capped at MaxBulkChunk).
// Strict mode aborts on the first chunk error; lenient mode logs it and keeps the
// payloads gathered so far. The count is the number of payloads returned.
func (f *Fetcher) FetchBulk(ctx context.Context, datasetID string, ids []string, chunkSize int, strict bool) (map[string][]byte, int, error) {
	if chunkSize <= 0 || chunkSize > MaxBulkChunk {
		chunkSize = MaxBulkChunk
	}
	out := make(map[string][]byte, len(ids))
	for start := 0; start < len(ids); start += chunkSize {
		end := min(start+chunkSize, len(ids))
		chunk, err := f.DownloadChunk(ctx, datasetID, ids[start:end], strict)
		if err != nil {
			if strict || ctx.Err() != nil {
				return out, len(out), err
			}
			f.logger.Warn("bulk chunk failed",
				zap.String("dataset", datasetID), zap.Int("docs", end-start), zap.Error(err))
			continue
		}
		for id, body := range chunk {
			out[id] = body
		}
	}
	return out, len(out), nil
}

// DownloadChunk issues one bulk request. Outer members are named "<docId>.<ext>"
// and each is itself a zip whose single file is the payload.
func (f *Fetcher) DownloadChunk(ctx context.Context, datasetID string, ids []string, strict bool) (map[string][]byte, error) {
	resp, err := f.client.Do(ctx, archive.Request{
		Method: http.MethodPost,
		URL:    BulkURL(f.client.BaseURL(), datasetID),
		JSON:   bulkBody{DocIDs: ids},
	})
	if err != nil {
		return nil, fmt.Errorf("bulk download: %w", err)
	}
	outer, err := payload.Unzip(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("bulk download: %w", err)
	}
	if strict && len(outer) != len(ids) {
		return nil, fmt.Errorf("%w: requested=%d returned=%d", ErrCountMismatch, len(ids), len(outer))
	}
	out := make(map[string][]byte, len(outer))
	for _, entry := range outer {
		docID, _, _ := strings.Cut(entry.Name, ".")
		inner, err := payload.Unzip(entry.Data)
		if err != nil {
			if strict {
				return nil, fmt.Errorf("bulk entry %q: %w", entry.Name, err)
			}
			continue
		}
		if len(inner) != 1 {
			if strict {
				label := docID
				if label == "" {
					label = "-"
				}
				return nil, fmt.Errorf("%w: doc_id=%s files=%d", ErrNestedPayload, label, len(inner))
			}
			if len(inner) == 0 {
				continue
			}
		}
		out[docID] = inner[0].Data
	}
	return out, nil
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeAdvance
	outcomeTerminal
)

// FetchOne streams one document into dest, trying each candidate in order. The body
// lands in dest+".part" and is renamed over dest only after a complete read.
func (f *Fetcher) FetchOne(ctx context.Context, datasetID, docID, dest string, item archive.Item) error {
	candidates := BuildCandidates(f.client.BaseURL(), datasetID, docID, item)
	for i, cand := range candidates {
		result, err := f.tryCandidate(ctx, cand, dest, i == len(candidates)-1)
		switch result {
		case outcomeOK:
			return nil
		case outcomeAdvance:
			f.logger.Debug("download candidate rejected",
				zap.String("dataset", datasetID), zap.String("doc_id", docID),
				zap.String("url", cand.URL), zap.Int("status", archive.HTTPStatus(err)))
			continue
		default:
			return err
		}
	}
	return ErrAllCandidatesFailed
}

func (f *Fetcher) tryCandidate(ctx context.Context, cand Candidate, dest string, last bool) (outcome, error) {
	resp, err := f.client.Do(ctx, archive.Request{
		Method: http.MethodGet,
		URL:    cand.URL,
		Query:  cand.Params,
		Stream: true,
	})
	if err != nil {
		if _, ok := advanceStatuses[archive.HTTPStatus(err)]; ok && !last {
			return outcomeAdvance, err
		}
		return outcomeTerminal, err
	}
	body := resp.RawBody()
	defer func() { _ = body.Close() }()
	if err := local.WriteAtomicWithSuffix(dest, ".part", body); err != nil {
		return outcomeTerminal, fmt.Errorf("store download: %w", err)
	}
	return outcomeOK, nil
}
