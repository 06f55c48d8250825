package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/checkpoint"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/clock/system"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/config"
)

func TestBindFlagsOverridesOnlyChangedFlags(t *testing.T) {
	t.Parallel()

	f := pflag.NewFlagSet("download", pflag.ContinueOnError)
	f.Int("page-size", 0, "")
	annotate(f, "page-size", "listing.page_size")
	f.Int("max-docs", 0, "")
	annotate(f, "max-docs", "listing.max_docs")
	f.Bool("disable-bulk", false, "")
	annotateInverted(f, "disable-bulk", "download.bulk")
	f.Bool("no-resume", false, "")
	annotateInverted(f, "no-resume", "download.resume")
	f.StringSlice("dataset", nil, "")
	annotate(f, "dataset", "download.datasets")
	require.NoError(t, f.Parse([]string{"--page-size=200", "--disable-bulk", "--dataset=NP4-732-CD,NP6-905-CD"}))

	v := config.New()
	require.NoError(t, bindFlags(v, f))
	cfg, err := config.LoadInto(v, "")
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.Listing.PageSize)
	assert.Equal(t, 0, cfg.Listing.MaxDocs)
	assert.False(t, cfg.Download.Bulk)
	assert.True(t, cfg.Download.Resume)
	assert.Equal(t, []string{"NP4-732-CD", "NP6-905-CD"}, cfg.Download.Datasets)
}

func TestStatusCommandPrintsCheckpoints(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	stateDir := filepath.Join(root, "state")
	store, err := checkpoint.NewStore(stateDir, system.New())
	require.NoError(t, err)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	rec := checkpoint.NewRecord(checkpoint.NewWindow("NP4-732-CD", from, to, 1000, "api", 0, "https://example.test/archive/np4-732-cd"))
	rec.TotalListedDocs = 12
	require.NoError(t, store.Save(rec))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"status",
		"--state-dir", stateDir,
		"--logs-dir", filepath.Join(root, "logs"),
		"--out-dir", filepath.Join(root, "out"),
	})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "NP4-732-CD")
	assert.Contains(t, out.String(), "2024-01-01..2024-01-31")
	assert.Contains(t, out.String(), "12")
}

func TestSortCommandRequiresDataset(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{
		"sort",
		"--state-dir", filepath.Join(root, "state"),
		"--logs-dir", filepath.Join(root, "logs"),
		"--out-dir", filepath.Join(root, "out"),
	})
	require.ErrorContains(t, cmd.ExecuteContext(context.Background()), "--dataset")
}
