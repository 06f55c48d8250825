package cmd

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/api"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/archive"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/progress"
)

// newEarliestCmd creates the 'earliest' subcommand, which probes each dataset
// for its first posting date inside the window.
func newEarliestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "earliest",
		Short: "Find the earliest available posting date per dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			if len(cfg.Download.Datasets) == 0 {
				return errors.New("at least one --dataset is required")
			}
			from, to, err := cfg.Window()
			if err != nil {
				return err
			}
			client, _, err := appInstance.NewClient()
			if err != nil {
				return err
			}
			lister := appInstance.NewLister(client)
			products, err := client.ListProducts(cmd.Context())
			if err != nil {
				appInstance.Logger().Warn("product catalog unavailable", zap.Error(err))
			}

			var rows [][]string
			var errs []error
			for _, ds := range cfg.Download.Datasets {
				url := archive.DefaultArchiveURL(cfg.API.BaseURL, ds)
				if p, ok := products[ds]; ok {
					url = p.ArchiveURL(cfg.API.BaseURL)
				}
				found, err := lister.FindEarliest(cmd.Context(), ds, url, from, to)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", ds, err))
					rows = append(rows, []string{ds, statusText("error", false), ""})
					continue
				}
				if !found.Found {
					rows = append(rows, []string{ds, statusText("none in window", false), ""})
					continue
				}
				appInstance.Events().Emit(progress.Event{
					Stage: progress.StageEarliestDetected, Dataset: ds,
					Note: found.Date.Format("2006-01-02"), Status: string(found.Granularity),
				})
				rows = append(rows, []string{ds, found.Date.Format("2006-01-02"), string(found.Granularity)})
			}
			renderTable(cmd.OutOrStdout(), []string{"dataset", "earliest", "granularity"}, rows)
			return errors.Join(errs...)
		},
	}
	addWindowFlags(cmd.Flags())
	return cmd
}

// newProductsCmd creates the 'products' subcommand, which lists the catalog
// visible to the subscription.
func newProductsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "products",
		Short: "List the API products visible to the subscription",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			client, _, err := appInstance.NewClient()
			if err != nil {
				return err
			}
			products, err := client.ListProducts(cmd.Context())
			if err != nil {
				return fmt.Errorf("list products: %w", err)
			}
			ids := make([]string, 0, len(products))
			for id := range products {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				rows = append(rows, []string{id, products[id].Title})
			}
			renderTable(cmd.OutOrStdout(), []string{"dataset", "title"}, rows)
			return nil
		},
	}
}

// newStatusCmd creates the 'status' subcommand, which prints saved checkpoints
// or serves them over HTTP with --serve.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-dataset checkpoint records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			store, err := appInstance.NewCheckpoints()
			if err != nil {
				return err
			}
			if addr := appInstance.Config().Server.Addr; addr != "" {
				srv := api.NewServer(nil, store, appInstance.MetricsHandler(), appInstance.Logger())
				return srv.Serve(cmd.Context(), addr)
			}
			records, err := store.List()
			if err != nil {
				return err
			}
			printCheckpoints(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().String("serve", "", "serve checkpoints on this address until interrupted")
	annotate(cmd.Flags(), "serve", "server.addr")
	return cmd
}
