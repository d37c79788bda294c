package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/loadstate/internal/config"
	"github.com/JakeFAU/loadstate/internal/server"
)

// runner is what serve needs from the application.
type runner interface {
	Run(ctx context.Context) error
}

// buildApp is the application factory. It's a variable so tests can replace it.
var buildApp = func(ctx context.Context, cfg *config.Config) (runner, error) {
	return server.Build(ctx, cfg)
}

// loadConfig is replaced in tests.
var loadConfig = config.Load

type cfgKeyType struct{}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "loadstate",
		Short: "Tracks the progress of asynchronous loads.",
		Long: `loadstate records the phase, progress and categories of in-flight loads,
answers whether any load in a category is still active, and fans every change
out to history, Pub/Sub and metrics sinks.`,
		SilenceUsage: true,

		// Config is loaded once here so every subcommand sees the same view.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKeyType{}, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env LOADSTATE_* overrides apply)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRegistryCmd())

	return cmd
}

func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(cfgKeyType{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "command failed: %v\n", err)
		os.Exit(1)
	}
}
