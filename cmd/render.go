package cmd

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/backfill"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/checkpoint"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00AA00"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

func renderTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...)
	_, _ = fmt.Fprintln(w, t.String())
}

func statusText(status string, ok bool) string {
	if ok {
		return okStyle.Render(status)
	}
	return failStyle.Render(status)
}

func printReport(w io.Writer, r pipeline.Report) {
	_, _ = fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Run %s: %s (%.1fs)", r.RunID, r.Status, r.ElapsedSeconds)))
	ids := make([]string, 0, len(r.Datasets))
	for id := range r.Datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		d := r.Datasets[id]
		rows = append(rows, []string{
			id,
			statusText(d.Status, d.DocsFailed == 0 && d.Status == checkpoint.StatusCompleted),
			strconv.Itoa(d.DocsListed),
			strconv.Itoa(d.DocsDownloaded),
			strconv.Itoa(d.DocsFailed),
		})
	}
	renderTable(w, []string{"dataset", "status", "listed", "downloaded", "failed"}, rows)
	s := r.Stats
	_, _ = fmt.Fprintf(w, "downloaded=%d skipped=%d consolidated=%d sorted=%d already_sorted=%d failures=%d\n",
		s.Downloaded, s.SkippedExisting, s.ConsolidatedUpdates, s.MonthlySorted, s.MonthlyAlreadySorted, s.Failures)
	if r.FatalError != "" {
		_, _ = fmt.Fprintln(w, failStyle.Render("fatal: "+r.FatalError))
	}
}

func printBackfill(w io.Writer, summaries []backfill.Summary) {
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			s.Dataset,
			strconv.Itoa(s.MonthlyFiles),
			strconv.Itoa(s.MonthlyRebuilt),
			strconv.Itoa(s.DocsMissingPosted),
			strconv.Itoa(s.Downloaded),
			strconv.Itoa(s.CellsFilled),
			strconv.Itoa(s.RowsWritten),
		})
	}
	renderTable(w, []string{"dataset", "months", "rebuilt", "missing posted", "downloaded", "cells filled", "rows"}, rows)
}

func printCheckpoints(w io.Writer, records []checkpoint.Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].DatasetID < records[j].DatasetID })
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.DatasetID,
			statusText(rec.Status, rec.Status == checkpoint.StatusCompleted),
			rec.From + ".." + rec.To,
			strconv.FormatBool(rec.ListingComplete),
			strconv.Itoa(rec.TotalListedDocs),
			strconv.Itoa(rec.NextDocIndex),
			rec.LastCompletedDocID,
		})
	}
	renderTable(w, []string{"dataset", "status", "window", "listed", "docs", "next", "last doc"}, rows)
}
