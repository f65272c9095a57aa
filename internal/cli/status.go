package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/replay/internal/queue"
	"github.com/me/replay/internal/worker"
	"github.com/me/replay/pkg/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queued, running and finished experiments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			return printStatus(ctx, rt)
		},
	}
}

func printStatus(ctx context.Context, rt *queue.Runtime) error {
	q := queue.NewBrokerQueue(rt)

	// Stash records carry the enqueue time for the queued section.
	queuedAt := make(map[string]time.Time)
	stashed, err := rt.Stash.List(ctx)
	if err != nil {
		return err
	}
	for _, se := range stashed {
		queuedAt[se.Rev] = se.CreatedAt
	}

	var queued, active []model.Entry
	for e, err := range q.IterQueued(ctx) {
		if err != nil {
			return err
		}
		queued = append(queued, e)
	}
	for e, err := range q.IterActive(ctx) {
		if err != nil {
			return err
		}
		active = append(active, e)
	}
	var done []queue.DoneResult
	for dr, err := range q.IterDone(ctx) {
		if err != nil {
			return err
		}
		done = append(done, dr)
	}

	fmt.Printf("Queued (%d):\n", len(queued))
	for _, e := range queued {
		age := ""
		if at, ok := queuedAt[e.StashRev]; ok {
			age = humanize.Time(at)
		}
		fmt.Printf("  %s  %-20s %s\n", e.ShortRev(), displayName(e), age)
	}
	fmt.Printf("Active (%d):\n", len(active))
	for _, e := range active {
		fmt.Printf("  %s  %s\n", e.ShortRev(), displayName(e))
	}
	fmt.Printf("Done (%d):\n", len(done))
	for _, dr := range done {
		if dr.Result != nil {
			fmt.Printf("  %s  %-20s %s\n", dr.Entry.ShortRev(), displayName(dr.Entry), dr.Result.Hash[:12])
		} else {
			fmt.Printf("  %s  %-20s (no result)\n", dr.Entry.ShortRev(), displayName(dr.Entry))
		}
	}

	if st := worker.Status(rt); st != nil && st.Running {
		fmt.Printf("Worker: running (pid %d, started %s)\n", st.PID, humanize.Time(st.LastSeen))
	} else {
		fmt.Println("Worker: not running")
	}
	return nil
}
