package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/me/replay/internal/queue"
)

func newLogsCmd() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs <rev|name>",
		Short: "Show the output of an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			return queue.NewBrokerQueue(rt).Logs(ctx, args[0], os.Stdout, follow)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream output until the run finishes")
	return cmd
}
