package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/replay/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var spawn bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a queue worker",
		Long: "Worker consumes queued experiments and executes them. With --spawn\n" +
			"the worker is started as a detached background process instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if spawn {
				pid, err := worker.Spawn(ctx, rt)
				if err != nil {
					return err
				}
				fmt.Printf("Started worker (pid %d).\n", pid)
				return nil
			}
			return worker.New(rt, time.Duration(cfg.PollInterval)).Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&spawn, "spawn", false, "Start the worker as a detached background process")
	return cmd
}
