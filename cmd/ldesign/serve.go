package main

import (
	"os/signal"
	"syscall"

	"github.com/ldesign/toolkit/app"
	"github.com/ldesign/toolkit/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the planning API",
		Long:  "Run the HTTP planning API until SIGINT or SIGTERM. Settings come from\n--config and LDESIGN_* environment variables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && !cmd.Flags().Changed("verbose") {
				zerolog.SetGlobalLevel(lvl)
			}

			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log.Info().Str("engine", cfg.Cache.Engine).Str("events", cfg.Events.Backend).Msg("starting ldesign service")
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "service config file (yaml, toml or json)")
	return cmd
}
