package pipeline

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/archive"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/storage/local"
)

// ManifestName is the download manifest written under the output directory.
const ManifestName = "download_manifest.json"

// ManifestRow describes one processed document. Backfill reads dataset_id,
// doc_id and the posting time from it.
type ManifestRow struct {
	DatasetID               string `json:"dataset_id"`
	ReportName              string `json:"report_name,omitempty"`
	DocID                   string `json:"doc_id"`
	PostDateTime            string `json:"postDateTime"`
	PostDatetime            string `json:"post_datetime"`
	Filename                string `json:"filename"`
	Destination             string `json:"destination"`
	ConsolidatedDestination string `json:"consolidated_destination,omitempty"`
	Size                    int64  `json:"size"`
}

func (d *datasetRun) recordManifest(item archive.Item, id, dest, periodFile string) {
	o := d.o
	if !o.opts.WriteManifest {
		return
	}
	row := ManifestRow{
		DatasetID:    d.id,
		ReportName:   d.title,
		DocID:        id,
		PostDateTime: item.PostDatetimeRaw(),
		PostDatetime: item.PostDatetimeRaw(),
		Filename:     filepath.Base(dest),
		Destination:  dest,
		Size:         item.ExpectedSize(),
	}
	if o.opts.Consolidate {
		row.ConsolidatedDestination = periodFile
	}
	o.mu.Lock()
	o.manifest = append(o.manifest, row)
	o.mu.Unlock()
}

// ManifestPath is where a run writes its manifest.
func (o *Orchestrator) ManifestPath() string {
	return filepath.Join(o.opts.OutDir, ManifestName)
}

// writeOutputs persists the manifest and the run summary. Failures are logged only.
func (o *Orchestrator) writeOutputs() {
	o.mu.Lock()
	rows := append([]ManifestRow(nil), o.manifest...)
	o.mu.Unlock()
	if o.opts.WriteManifest && len(rows) > 0 {
		if err := writeJSON(o.ManifestPath(), rows); err != nil {
			o.deps.Logger.Warn("write manifest", zap.Error(err))
		} else {
			o.deps.Logger.Info("manifest written", zap.String("path", o.ManifestPath()), zap.Int("docs", len(rows)))
		}
	}
	if o.opts.SummaryPath == "" {
		return
	}
	if err := writeJSON(o.opts.SummaryPath, o.Snapshot()); err != nil {
		o.deps.Logger.Warn("write run summary", zap.Error(err))
		return
	}
	o.deps.Logger.Info("run summary written", zap.String("path", o.opts.SummaryPath))
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return local.WriteFileAtomic(path, append(data, '\n'))
}
