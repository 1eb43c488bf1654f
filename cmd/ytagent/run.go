package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/app"
	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
)

var runInput string

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <agent_kind>",
	Short: "Run one agent now and print the finished task",
	Long: `Run a single manual task of the given agent kind through the
orchestrator, with the same deadline, retries, quota and notifications as a
scheduled run. The command exits non-zero unless the task succeeded.

Agent kinds: trend_monitor, competitor_analyzer, comment_responder,
content_scheduler, performance_tracker, qa_checker, keyword_researcher.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := model.ParseAgentKind(args[0])
		if err != nil {
			return err
		}
		input, err := parseInput(runInput)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a := app.New(cfg, log, app.WithoutServer())
		defer a.Close()
		if err := a.Initialize(ctx); err != nil {
			return err
		}

		task, err := a.RunOnce(ctx, kind, input)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(task); err != nil {
			return err
		}
		if task.Status != model.StatusSucceeded {
			return fmt.Errorf("task %s %s: %s", task.ID, task.Status, task.ErrorMessage)
		}
		return nil
	},
}

// parseInput decodes the --input flag; an empty flag is an empty object.
func parseInput(raw string) (map[string]any, error) {
	input := map[string]any{}
	if raw == "" {
		return input, nil
	}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("invalid --input: must be a JSON object: %w", err)
	}
	return input, nil
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", `run input as a JSON object, e.g. '{"mode":"weekly"}'`)
}
