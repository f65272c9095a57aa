package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/me/replay/internal/queue"
)

func newRunCmd() *cobra.Command {
	var (
		name     string
		output   string
		envPairs []string
	)

	cmd := &cobra.Command{
		Use:   "run [flags] [-- command [args...]]",
		Short: "Reproduce queued experiments synchronously",
		Long: "Run drains the queue in this process, oldest experiment first.\n" +
			"With a command, the command is queued before the drain starts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			q := queue.NewWorkspaceQueue(rt)
			q.Mirror = os.Stdout

			if len(args) > 0 {
				spec, err := buildSpec(name, output, envPairs, args)
				if err != nil {
					return err
				}
				if _, err := q.Put(ctx, spec); err != nil {
					return err
				}
			}

			results, err := q.Reproduce(ctx)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("Nothing reproduced.")
				return nil
			}

			refs := make([]string, 0, len(results))
			for ref := range results {
				refs = append(refs, ref)
			}
			sort.Strings(refs)
			fmt.Printf("Reproduced %d experiment(s):\n", len(refs))
			for _, ref := range refs {
				fmt.Printf("  %s  %s\n", results[ref][:12], ref)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Experiment name")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Artifact path to hash and stage after the run")
	cmd.Flags().StringArrayVarP(&envPairs, "env", "e", nil, "Environment variable KEY=VALUE (repeatable)")
	return cmd
}
