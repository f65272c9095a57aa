package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/replay/internal/queue"
)

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <rev|name>...",
		Short: "Terminate running experiments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := queue.NewBrokerQueue(rt).Kill(ctx, args); err != nil {
				return err
			}
			fmt.Printf("Killed %d experiment(s).\n", len(args))
			return nil
		},
	}
}
