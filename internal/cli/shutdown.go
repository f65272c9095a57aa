package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/replay/internal/queue"
)

func newShutdownCmd() *cobra.Command {
	var kill bool

	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Stop workers after their current experiment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := queue.NewBrokerQueue(rt).Shutdown(ctx, kill); err != nil {
				return err
			}
			if kill {
				fmt.Println("Shutdown requested; active experiments were terminated.")
			} else {
				fmt.Println("Shutdown requested; active experiments will finish first.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&kill, "kill", false, "Also terminate active experiments")
	return cmd
}
