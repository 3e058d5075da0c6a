package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/polyglot/pkg/api"
	"github.com/pario-ai/polyglot/pkg/config"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP conversion API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			eng, logger, err := openEngineFromConfig(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = eng.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng.Start(ctx)

			if watch {
				go func() {
					if err := watchConfig(ctx, configPath, logger, eng.Reload); err != nil {
						logger.Error("config watcher stopped", zap.Error(err))
					}
				}()
			}

			srv := api.New(eng, api.Options{
				Listen:         cfg.Listen,
				MaxBodyBytes:   maxBodyBytes(cfg),
				AllowedOrigins: cfg.API.AllowedOrigins,
				RateLimit:      cfg.API.RateLimit,
				RateBurst:      cfg.API.RateBurst,
				Logger:         logger,
			})
			logger.Info("starting polyglot api", zap.String("config", configPath), zap.String("version", version))
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "polyglot.yaml", "path to config file")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "reload provider settings when the config file changes")
	return cmd
}

// maxBodyBytes leaves room for a full batch of maximum-size sources.
func maxBodyBytes(cfg *config.Config) int64 {
	if cfg.Limits.MaxSourceBytes <= 0 {
		return 0
	}
	return int64(cfg.Limits.MaxSourceBytes)*int64(max(cfg.Batch.MaxSize, 1)) + 64<<10
}
