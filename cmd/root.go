// Package cmd defines and implements the CLI commands for the ercot-archiver executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/app"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/config"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/logging"
)

const (
	// configKeyAnnotation ties a flag to the config key it overrides.
	configKeyAnnotation = "config_key"
	// invertAnnotation marks a "--no-x" style flag that stores the negation.
	invertAnnotation = "config_invert"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = app.New

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "ercot-archiver",
		Short: "Archive ERCOT public reports into monthly consolidated files.",
		Long: `ercot-archiver downloads documents from the ERCOT public-reports archive
API, consolidates them into per-month CSV files, keeps them sorted, and can
later repair missing posting times without re-downloading everything.`,
		SilenceUsage: true,

		// Loads config with this command's flags layered on top, then builds
		// the shared App for the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v := config.New()
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.LoadInto(v, cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, err := resolveApp(cmd.Context()); err == nil {
				appInstance.Close()
				_ = appInstance.Logger().Sync()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (YAML)")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	annotate(pf, "log-level", "logging.level")
	pf.StringSliceP("dataset", "d", nil, "dataset ids, e.g. NP4-732-CD (repeatable or comma separated)")
	annotate(pf, "dataset", "download.datasets")
	pf.String("out-dir", "", "output directory for downloads and period files")
	annotate(pf, "out-dir", "download.out_dir")
	pf.String("state-dir", "", "checkpoint directory")
	annotate(pf, "state-dir", "download.state_dir")
	pf.String("logs-dir", "", "directory receiving one sub-directory per run")
	annotate(pf, "logs-dir", "download.logs_dir")
	pf.Bool("dry-run", false, "plan the work without writing downloads or period files")
	annotate(pf, "dry-run", "download.dry_run")

	cmd.AddCommand(
		newDownloadCmd(),
		newBackfillCmd(),
		newSortCmd(),
		newEarliestCmd(),
		newProductsCmd(),
		newStatusCmd(),
	)
	return cmd
}

// annotate marks flag name as an override for config key.
func annotate(flags *pflag.FlagSet, name, key string) {
	if err := flags.SetAnnotation(name, configKeyAnnotation, []string{key}); err != nil {
		panic(fmt.Sprintf("annotate flag %s: %v", name, err))
	}
}

// annotateInverted marks a boolean flag whose value is the negation of key.
func annotateInverted(flags *pflag.FlagSet, name, key string) {
	annotate(flags, name, key)
	if err := flags.SetAnnotation(name, invertAnnotation, []string{"true"}); err != nil {
		panic(fmt.Sprintf("annotate flag %s: %v", name, err))
	}
}

// bindFlags binds every annotated flag to its config key. Unchanged flags
// never override file or environment values.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[configKeyAnnotation]
		if len(keys) == 0 {
			return
		}
		if len(f.Annotations[invertAnnotation]) > 0 {
			if f.Changed {
				enabled, err := strconv.ParseBool(f.Value.String())
				if err != nil {
					errs = append(errs, fmt.Errorf("parse --%s: %w", f.Name, err))
					return
				}
				v.Set(keys[0], !enabled)
			}
			return
		}
		if err := v.BindPFlag(keys[0], f); err != nil {
			errs = append(errs, fmt.Errorf("bind --%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
