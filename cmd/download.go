package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/api"
)

func addWindowFlags(f *pflag.FlagSet) {
	f.String("from", "", "window start (YYYY-MM-DD)")
	annotate(f, "from", "download.from")
	f.String("to", "", "window end (YYYY-MM-DD)")
	annotate(f, "to", "download.to")
}

// newDownloadCmd creates the 'download' subcommand, which lists, downloads,
// consolidates and sorts the selected datasets.
func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download and consolidate archive documents",
		Long: `Lists every selected dataset's archive inside the posting window, downloads
documents in bulk (falling back to one at a time), merges them into monthly
period files and sorts the touched files. Progress is checkpointed so an
interrupted run resumes where it stopped.`,
		RunE: runDownloadCommand,
	}
	f := cmd.Flags()
	addWindowFlags(f)
	f.Bool("detect-earliest", false, "move the window start to the earliest available posting date")
	annotate(f, "detect-earliest", "download.detect_earliest")
	f.Int("page-size", 0, "archive listing page size")
	annotate(f, "page-size", "listing.page_size")
	f.Int("max-docs", 0, "cap on documents per dataset (0 means unlimited)")
	annotate(f, "max-docs", "listing.max_docs")
	f.String("order", "", "download order: api, newest-first, oldest-first")
	annotate(f, "order", "listing.order")
	f.Int("bulk-chunk-size", 0, "document ids per bulk request (1..2048)")
	annotate(f, "bulk-chunk-size", "download.bulk_chunk_size")
	f.Bool("disable-bulk", false, "download documents one at a time only")
	annotateInverted(f, "disable-bulk", "download.bulk")
	f.Bool("consolidate", false, "merge downloads into monthly period files")
	annotate(f, "consolidate", "download.consolidate")
	f.Bool("delete-source", false, "delete source files once merged (requires --consolidate)")
	annotate(f, "delete-source", "download.delete_source")
	f.Bool("extract-zips", false, "extract downloaded ZIP archives")
	annotate(f, "extract-zips", "download.extract_zips")
	f.String("sort-order", "", "period file order: none, ascending, descending, match-download-order")
	annotate(f, "sort-order", "sort.order")
	f.String("sort-strategy", "", "sort key: auto, timestamp, postdatetime, forecast-aware")
	annotate(f, "sort-strategy", "sort.strategy")
	f.Bool("sort-existing", false, "also sort untouched period files inside the window")
	annotate(f, "sort-existing", "sort.existing")
	f.Bool("no-resume", false, "ignore saved checkpoints and start fresh")
	annotateInverted(f, "no-resume", "download.resume")
	f.Bool("write-manifest", false, "write download_manifest.json under the output directory")
	annotate(f, "write-manifest", "download.write_manifest")
	f.String("serve", "", "serve status and metrics on this address while running")
	annotate(f, "serve", "server.addr")
	return cmd
}

func runDownloadCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	orch, err := appInstance.NewOrchestrator()
	if err != nil {
		appInstance.RecordFatal(cmd.Context(), err)
		return fmt.Errorf("prepare download: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if addr := appInstance.Config().Server.Addr; addr != "" {
		store, err := appInstance.NewCheckpoints()
		if err != nil {
			return err
		}
		srv := api.NewServer(orch, store, appInstance.MetricsHandler(), logger)
		go func() {
			if err := srv.Serve(ctx, addr); err != nil {
				logger.Warn("status server stopped", zap.Error(err))
			}
		}()
	}

	report, runErr := orch.Run(ctx)
	printReport(cmd.OutOrStdout(), report)
	if runErr != nil {
		return fmt.Errorf("download run: %w", runErr)
	}
	logger.Info("download command finished", zap.String("status", report.Status))
	return nil
}
