package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/replay/internal/queue"
)

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <rev|name>...",
		Short: "Withdraw queued experiments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := queue.NewBrokerQueue(rt).Remove(ctx, args); err != nil {
				return err
			}
			fmt.Printf("Removed %d experiment(s) from the queue.\n", len(args))
			return nil
		},
	}
}
