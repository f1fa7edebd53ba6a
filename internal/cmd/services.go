package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mealplanhq/mealplan/internal/app"
	"github.com/mealplanhq/mealplan/internal/config"
)

// withServices loads the config, builds the shared services and runs fn.
// Admin commands log to stderr so stdout stays parseable.
func withServices(cmd *cobra.Command, fn func(ctx context.Context, svc *app.Services) error) error {
	cfg, err := config.Load(resolveConfigPath(cmd, nil, defaultConfigPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logCfg := cfg.Logging
	if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
		logCfg.Level = "warn"
	}
	logCfg.Format = "text"
	logger := newLogger(logCfg, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("close services", "error", err)
		}
	}()
	return fn(ctx, svc)
}

// addCommonFlags registers the flags shared by admin commands.
func addCommonFlags(cmd *cobra.Command, withJSON bool) {
	cmd.Flags().BoolP("verbose", "v", false, "log at the configured level instead of warn")
	if withJSON {
		cmd.Flags().Bool("json", false, "print JSON instead of a table")
	}
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
