package cli

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/replay/internal/queue"
	"github.com/me/replay/pkg/model"
)

var fullRevRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

func newResultsCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "results <rev|name>",
		Short: "Fetch the result of an experiment, waiting for active runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			q := queue.NewBrokerQueue(rt)
			entry, err := resolveEntry(cmd, q, args[0])
			if err != nil {
				return err
			}

			res, err := q.GetResult(ctx, entry, timeout)
			if err != nil {
				return err
			}
			if res == nil {
				fmt.Printf("Experiment '%s' finished without a result.\n", model.ShortRev(entry.StashRev))
				return nil
			}
			fmt.Printf("%s\n  hash: %s\n", res.Ref, res.Hash)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Wait limit for active runs (0 waits forever)")
	return cmd
}

// resolveEntry matches a rev prefix or name across every queue state. A
// full 40-char rev is accepted as-is so results of already pruned entries
// stay reachable.
func resolveEntry(cmd *cobra.Command, q *queue.BrokerQueue, name string) (model.Entry, error) {
	ctx := cmd.Context()
	matched, err := queue.MatchEntriesByName([]string{name},
		q.IterActive(ctx), doneEntries(q, ctx), q.IterQueued(ctx))
	if err != nil {
		return model.Entry{}, err
	}
	if e := matched[name]; e != nil {
		return *e, nil
	}
	if fullRevRe.MatchString(name) {
		return model.Entry{StashRev: name}, nil
	}
	return model.Entry{}, &model.UnresolvedNamesError{Names: []string{name}}
}

func doneEntries(q *queue.BrokerQueue, ctx context.Context) queue.EntrySource {
	return func(yield func(model.Entry, error) bool) {
		for dr, err := range q.IterDone(ctx) {
			if !yield(dr.Entry, err) {
				return
			}
		}
	}
}
