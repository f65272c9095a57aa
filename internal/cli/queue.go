package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/replay/internal/queue"
)

func newQueueCmd() *cobra.Command {
	var (
		name     string
		output   string
		envPairs []string
	)

	cmd := &cobra.Command{
		Use:   "queue [flags] -- command [args...]",
		Short: "Queue an experiment for a background worker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			spec, err := buildSpec(name, output, envPairs, args)
			if err != nil {
				return err
			}
			entry, err := queue.NewBrokerQueue(rt).Put(ctx, spec)
			if err != nil {
				return err
			}
			fmt.Printf("Queued experiment '%s' (%s)\n", displayName(entry), entry.ShortRev())
			fmt.Println("Run 'replay worker --spawn' to start processing.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Experiment name")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Artifact path to hash and stage after the run (default: captured output)")
	cmd.Flags().StringArrayVarP(&envPairs, "env", "e", nil, "Environment variable KEY=VALUE (repeatable)")
	return cmd
}
