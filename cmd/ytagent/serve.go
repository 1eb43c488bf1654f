package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/app"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, worker pool and operator API",
	Long: `Start every component and run the schedule table until SIGINT or
SIGTERM. On a signal the scheduler stops first, in-flight runs get the
shutdown timeout to finish, and a deploy notification announces the stop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}

		log.Info("starting ytagent",
			logger.String("version", Version),
			logger.String("git_commit", GitCommit),
			logger.String("config", configPath),
			logger.String("zone", cfg.App.Zone),
			logger.Int("workers", cfg.Workers.PoolSize))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return app.New(cfg, log).Run(ctx)
	},
}
