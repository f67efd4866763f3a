package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cfclear/internal/config"
	"github.com/xkilldash9x/cfclear/internal/observability"
	"github.com/xkilldash9x/cfclear/internal/server"
)

// newServeCmd creates and configures the `serve` command.
func newServeCmd(v *viper.Viper) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve clearance acquisition over HTTP",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlag("server.listen", cmd.Flags().Lookup("listen")); err != nil {
				return err
			}
			return v.BindPFlag("proxy.url", cmd.Flags().Lookup("proxy"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			if cfg.Server.Listen == "" {
				return fmt.Errorf("server.listen must be set")
			}

			clearer, err := newClearer(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}

			logger.Info("Starting HTTP API",
				zap.String("listen", cfg.Server.Listen),
				zap.Bool("single_flight", cfg.Coordinator.SingleFlight),
				zap.Bool("cache", cfg.Cache.Enabled),
			)
			return server.New(cfg.Server, clearer, logger, Version).Run(ctx)
		},
	}

	serveCmd.Flags().String("listen", "127.0.0.1:8191", "Address to listen on. (Overrides config/env)")
	serveCmd.Flags().String("proxy", "", "Default upstream proxy for requests that do not name one. (Overrides config/env)")

	return serveCmd
}
