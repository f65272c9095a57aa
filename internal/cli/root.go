// Package cli implements the replay command line interface.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/replay/internal/config"
	"github.com/me/replay/internal/logging"
	"github.com/me/replay/internal/queue"
	"github.com/me/replay/pkg/model"
)

var (
	flagWorkDir   string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	cfg    config.Config
)

// defaultWorkDir returns the project root, checking REPLAY_WORKDIR first.
func defaultWorkDir() string {
	if d := os.Getenv("REPLAY_WORKDIR"); d != "" {
		return d
	}
	return "."
}

// NewRootCmd creates the root cobra command for the replay CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "replay",
		Short: "replay — queue and reproduce long-running experiments",
		Long:  "replay queues experiment runs, executes them through background workers,\nand tracks their results for later retrieval.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadFromDir(flagWorkDir)
			if err != nil {
				return err
			}
			cfg = loaded
			if flagLogLevel != "" {
				cfg.LogLevel = flagLogLevel
			}
			if flagLogFormat != "" {
				cfg.LogFormat = flagLogFormat
			}
			if flagDebug {
				cfg.LogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagWorkDir, "workdir", defaultWorkDir(), "Project root directory (or REPLAY_WORKDIR env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format (text, json)")

	root.AddCommand(
		newQueueCmd(),
		newRunCmd(),
		newStatusCmd(),
		newResultsCmd(),
		newLogsCmd(),
		newKillCmd(),
		newRemoveCmd(),
		newShutdownCmd(),
		newWorkerCmd(),
		newServerCmd(),
	)

	return root
}

// openRuntime opens the queue runtime for the configured project root.
// Callers must Close it.
func openRuntime(ctx context.Context) (*queue.Runtime, error) {
	return queue.Open(ctx, cfg.WorkDir, cfg.StageTarget, logger)
}

// buildSpec assembles a job spec from command line arguments.
func buildSpec(name, output string, envPairs, command []string) (model.JobSpec, error) {
	env := make(map[string]string, len(envPairs))
	for _, pair := range envPairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return model.JobSpec{}, fmt.Errorf("invalid env pair %q, want KEY=VALUE", pair)
		}
		env[k] = v
	}
	if len(env) == 0 {
		env = nil
	}
	return model.JobSpec{
		Name:    name,
		Command: command,
		WorkDir: cfg.WorkDir,
		Env:     env,
		Output:  output,
	}, nil
}

// displayName prefers the assigned name, falling back to the short rev.
func displayName(e model.Entry) string {
	if e.Name != "" {
		return e.Name
	}
	return e.ShortRev()
}
