package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/me/replay/internal/executor"
	"github.com/me/replay/pkg/model"
)

// WorkspaceQueue reproduces experiments synchronously in the calling
// process, oldest first. It has no notion of active or done entries:
// everything it pops runs to completion (or failure) before control
// returns, so only the queued view and the drain loop apply.
type WorkspaceQueue struct {
	rt *Runtime

	// Mirror, when set, receives a live copy of each run's output.
	Mirror io.Writer

	// newExecutor builds the executor for a popped entry. Overridable
	// for tests.
	newExecutor func(entry model.Entry, spec model.JobSpec) executor.Executor
}

// NewWorkspaceQueue creates a synchronous queue over rt.
func NewWorkspaceQueue(rt *Runtime) *WorkspaceQueue {
	q := &WorkspaceQueue{rt: rt}
	q.newExecutor = func(entry model.Entry, spec model.JobSpec) executor.Executor {
		return executor.NewWorkspace(entry, spec, executor.Options{
			InfoPath: rt.InfoPath(entry.StashRev),
			RunDir:   rt.RunDir(entry.StashRev),
			Stager:   rt.Stager,
			Mirror:   q.Mirror,
			Logger:   rt.Logger,
		})
	}
	return q
}

// Put stashes a job for the next Reproduce call.
func (q *WorkspaceQueue) Put(ctx context.Context, spec model.JobSpec) (model.Entry, error) {
	entry, _, err := q.rt.push(ctx, spec)
	if err != nil {
		return model.Entry{}, err
	}
	q.rt.Logger.Info("queued experiment",
		"rev", entry.ShortRev(), "name", entry.Name)
	return entry, nil
}

// Get pops the oldest stashed entry with an executor bound to it. The
// stash record survives until the run's result is collected.
func (q *WorkspaceQueue) Get(ctx context.Context) (*GetResult, error) {
	entries, err := q.rt.Stash.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, model.ErrQueueEmpty
	}
	se := entries[0]
	entry := q.rt.entryFromStash(se)
	return &GetResult{Entry: entry, Executor: q.newExecutor(entry, se.Spec)}, nil
}

// Reproduce drains the queue front to back. Each collected run's stash
// record is destroyed and its ref -> hash recorded. Aborting a run stops
// the drain and discards the results of this call; entries not yet popped
// stay queued.
func (q *WorkspaceQueue) Reproduce(ctx context.Context) (map[string]string, error) {
	results := make(map[string]string)
	for {
		gr, err := q.Get(ctx)
		if errors.Is(err, model.ErrQueueEmpty) {
			return results, nil
		}
		if err != nil {
			return nil, err
		}

		res, runErr := gr.Executor.Run(ctx)
		if cerr := gr.Executor.Cleanup(); cerr != nil {
			q.rt.Logger.Warn("executor cleanup failed",
				"rev", gr.Entry.ShortRev(), "error", cerr)
		}
		if errors.Is(runErr, model.ErrRunAborted) {
			q.rt.Logger.Info("run aborted", "rev", gr.Entry.ShortRev())
			return map[string]string{}, nil
		}
		if runErr != nil {
			return nil, runErr
		}
		if res == nil {
			return nil, &model.RunFailedError{
				Rev: gr.Entry.StashRev,
				Err: fmt.Errorf("run produced no result"),
			}
		}

		if err := q.rt.Stash.Remove(ctx, []string{gr.Entry.StashRev}); err != nil {
			return nil, fmt.Errorf("removing collected entry: %w", err)
		}
		results[res.Ref] = res.Hash
	}
}

// IterQueued yields stashed entries oldest first.
func (q *WorkspaceQueue) IterQueued(ctx context.Context) iter.Seq2[model.Entry, error] {
	return func(yield func(model.Entry, error) bool) {
		entries, err := q.rt.Stash.List(ctx)
		if err != nil {
			yield(model.Entry{}, err)
			return
		}
		for _, se := range entries {
			if !yield(q.rt.entryFromStash(se), nil) {
				return
			}
		}
	}
}

// IterActive never yields: synchronous runs are not observable from the
// outside.
func (q *WorkspaceQueue) IterActive(ctx context.Context) iter.Seq2[model.Entry, error] {
	return func(yield func(model.Entry, error) bool) {
		yield(model.Entry{}, model.ErrNotSupported)
	}
}

// IterDone never yields: collected runs leave no queue-side trace.
func (q *WorkspaceQueue) IterDone(ctx context.Context) iter.Seq2[DoneResult, error] {
	return func(yield func(DoneResult, error) bool) {
		yield(DoneResult{}, model.ErrNotSupported)
	}
}

// GetResult is not supported: results are returned by Reproduce directly.
func (q *WorkspaceQueue) GetResult(ctx context.Context, entry model.Entry, timeout time.Duration) (*model.ExecResult, error) {
	return nil, model.ErrNotSupported
}

// Kill is not supported: there is no detached process to signal.
func (q *WorkspaceQueue) Kill(ctx context.Context, revs []string) error {
	return model.ErrNotSupported
}

// Shutdown is not supported: there is no worker to stop.
func (q *WorkspaceQueue) Shutdown(ctx context.Context, kill bool) error {
	return model.ErrNotSupported
}

// Logs is not supported: output streams to the caller during Reproduce.
func (q *WorkspaceQueue) Logs(ctx context.Context, rev string, w io.Writer, follow bool) error {
	return model.ErrNotSupported
}

// Follow is not supported.
func (q *WorkspaceQueue) Follow(ctx context.Context, entry model.Entry, w io.Writer) error {
	return model.ErrNotSupported
}

// Remove withdraws still-queued entries from the stash.
func (q *WorkspaceQueue) Remove(ctx context.Context, revs []string) error {
	matched, err := MatchEntriesByName(revs, q.IterQueued(ctx))
	if err != nil {
		return err
	}
	if missing := unresolved(revs, matched); len(missing) > 0 {
		return &model.UnresolvedNamesError{Names: missing}
	}
	stashRevs := make([]string, 0, len(matched))
	for _, e := range matched {
		stashRevs = append(stashRevs, e.StashRev)
	}
	return q.rt.Stash.Remove(ctx, stashRevs)
}
