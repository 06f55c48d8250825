package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newBackfillCmd creates the 'backfill' subcommand, which repairs the
// postDateTime column of consolidated period files.
func newBackfillCmd() *cobra.Command {
	var window bool
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Repair missing posting times in period files",
		Long: `Traces the rows of each monthly period file back to the documents that
produced them and fills blank postDateTime cells. add-missing fills gaps in
place by row fingerprint; rebuild regenerates months from their source files.
Posting times come from the listing cache, a download manifest or, with
--fetch-missing, a fresh archive listing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := appInstance.NewReconciler(window)
			if err != nil {
				return fmt.Errorf("prepare backfill: %w", err)
			}
			datasets := appInstance.Config().Download.Datasets
			if len(datasets) == 0 {
				return fmt.Errorf("at least one --dataset is required")
			}
			summaries, err := rec.Run(cmd.Context(), datasets)
			printBackfill(cmd.OutOrStdout(), summaries)
			if err != nil {
				return fmt.Errorf("backfill run: %w", err)
			}
			appInstance.Logger().Info("backfill command finished", zap.Int("datasets", len(summaries)))
			return nil
		},
	}
	f := cmd.Flags()
	addWindowFlags(f)
	f.BoolVar(&window, "window", false, "only process months inside --from/--to")
	f.String("mode", "", "add-missing or rebuild")
	annotate(f, "mode", "backfill.mode")
	f.String("order", "", "resort repaired files: ascending, descending, none")
	annotate(f, "order", "backfill.order")
	f.Bool("overwrite", false, "clear existing posting times before refilling")
	annotate(f, "overwrite", "backfill.overwrite")
	f.Bool("download-missing", false, "bulk-download sources that are not stored locally")
	annotate(f, "download-missing", "backfill.download_missing")
	f.Bool("fetch-missing", false, "list the archive for documents without a known posting time")
	annotate(f, "fetch-missing", "backfill.fetch_missing")
	f.Int("bulk-chunk-size", 0, "document ids per repair bulk request (1..256)")
	annotate(f, "bulk-chunk-size", "backfill.bulk_chunk_size")
	f.String("manifest", "", "download manifest to read posting times from")
	annotate(f, "manifest", "backfill.manifest_path")
	f.Bool("verify", false, "check every repaired month against its sources")
	annotate(f, "verify", "backfill.verify")
	f.Bool("delete-redundant", false, "delete sources of fully covered months")
	annotate(f, "delete-redundant", "backfill.delete_redundant")
	f.String("archive-dir", "", "move sources of fully covered months here instead")
	annotate(f, "archive-dir", "backfill.archive_dir")
	return cmd
}
