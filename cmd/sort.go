package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/consolidate"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/progress"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/sortengine"
)

// newSortCmd creates the 'sort' subcommand, which orders existing period files
// without touching the network.
func newSortCmd() *cobra.Command {
	var window bool
	cmd := &cobra.Command{
		Use:   "sort",
		Short: "Sort existing monthly period files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			if len(cfg.Download.Datasets) == 0 {
				return errors.New("at least one --dataset is required")
			}
			order, sorting, err := sortengine.ResolveOrder(cfg.Sort.Order, cfg.Listing.Order)
			if err != nil {
				return err
			}
			if !sorting {
				return fmt.Errorf("sort order %q disables sorting", cfg.Sort.Order)
			}
			from, to, err := cfg.Window()
			if err != nil {
				return err
			}

			engine := appInstance.NewSorter()
			strategy := sortengine.Strategy(cfg.Sort.Strategy)
			counts := map[sortengine.Result]int{}
			var rows [][]string
			var errs []error
			for _, ds := range cfg.Download.Datasets {
				files, err := consolidate.ListPeriodFiles(cfg.Download.OutDir, ds)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				root := filepath.Join(cfg.Download.OutDir, ds)
				perDataset := map[sortengine.Result]int{}
				for _, path := range files {
					if window && !consolidate.InWindow(path, root, from, to) {
						continue
					}
					res, err := engine.SortPeriodFile(path, order, strategy)
					if err != nil {
						appInstance.Logger().Warn("sort period file", zap.String("file", path), zap.Error(err))
						errs = append(errs, fmt.Errorf("sort %s: %w", path, err))
						continue
					}
					perDataset[res]++
					counts[res]++
					appInstance.Events().Emit(progress.Event{
						Stage: progress.StageMonthlySorted, Dataset: ds, Status: string(res),
						Fields: map[string]string{"file": path, "order": string(order), "strategy": string(strategy)},
					})
				}
				rows = append(rows, []string{
					ds,
					strconv.Itoa(perDataset[sortengine.Sorted]),
					strconv.Itoa(perDataset[sortengine.Already]),
					strconv.Itoa(perDataset[sortengine.Skipped]),
				})
			}
			renderTable(cmd.OutOrStdout(), []string{"dataset", "sorted", "already", "skipped"}, rows)
			appInstance.Logger().Info("sort command finished",
				zap.Int("sorted", counts[sortengine.Sorted]),
				zap.Int("already", counts[sortengine.Already]),
				zap.Int("skipped", counts[sortengine.Skipped]),
			)
			return errors.Join(errs...)
		},
	}
	f := cmd.Flags()
	addWindowFlags(f)
	f.BoolVar(&window, "window", false, "only sort months inside --from/--to")
	f.String("order", "", "ascending, descending or match-download-order")
	annotate(f, "order", "sort.order")
	f.String("strategy", "", "auto, timestamp, postdatetime or forecast-aware")
	annotate(f, "strategy", "sort.strategy")
	return cmd
}
