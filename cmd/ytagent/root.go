package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/config"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/logger"
)

var (
	configPath string
	envFile    string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ytagent",
	Short: "ytagent - scheduled agents for YouTube channel operations",
	Long: `ytagent runs the periodic agents of a YouTube content platform:
trend monitoring, competitor analysis, comment responses, content
reminders, performance tracking, script QA and keyword research.
Runs are scheduled in the configured zone and share one daily quota
of the video search platform.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.toml", "path to the TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "dotenv file loaded before the configuration")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(schedulesCmd)
	rootCmd.AddCommand(quotaCmd)
}

// loadConfig reads the dotenv file and the configuration and rejects an
// invalid result with every problem listed.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvOptional(envFile); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, "  - "+e.Error())
		}
		return nil, fmt.Errorf("configuration validation failed:\n%s", strings.Join(msgs, "\n"))
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetDefault(log)
	return log, nil
}
