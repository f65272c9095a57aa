package queue

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/me/replay/internal/executor"
	"github.com/me/replay/pkg/model"
)

type fakeExecutor struct {
	res     *model.ExecResult
	err     error
	cleaned *bool
}

func (f *fakeExecutor) Run(ctx context.Context) (*model.ExecResult, error) {
	return f.res, f.err
}

func (f *fakeExecutor) Cleanup() error {
	if f.cleaned != nil {
		*f.cleaned = true
	}
	return nil
}

func TestWorkspaceQueuePutAndIterQueued(t *testing.T) {
	rt := testRuntime(t)
	q := NewWorkspaceQueue(rt)
	ctx := context.Background()

	first, err := q.Put(ctx, model.JobSpec{Name: "one", Command: []string{"true"}})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	second, err := q.Put(ctx, model.JobSpec{Name: "two", Command: []string{"true"}})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	entries := collectEntries(t, q.IterQueued(ctx))
	if len(entries) != 2 {
		t.Fatalf("IterQueued yielded %d entries, want 2", len(entries))
	}
	if !entries[0].Equal(first) || !entries[1].Equal(second) {
		t.Errorf("queue order = [%s %s], want oldest first", entries[0].Name, entries[1].Name)
	}
	if entries[0].QueueRef != QueueRef {
		t.Errorf("QueueRef = %q, want %q", entries[0].QueueRef, QueueRef)
	}
	if entries[0].BaselineRev == "" || entries[0].HeadRev != entries[0].BaselineRev {
		t.Errorf("derived baseline/head = %q/%q", entries[0].BaselineRev, entries[0].HeadRev)
	}
}

func TestWorkspaceQueueGetEmpty(t *testing.T) {
	rt := testRuntime(t)
	q := NewWorkspaceQueue(rt)

	if _, err := q.Get(context.Background()); !errors.Is(err, model.ErrQueueEmpty) {
		t.Errorf("Get on empty queue = %v, want ErrQueueEmpty", err)
	}
}

func TestWorkspaceQueueReproduceDrainsInOrder(t *testing.T) {
	rt := testRuntime(t)
	q := NewWorkspaceQueue(rt)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta"} {
		_, err := q.Put(ctx, model.JobSpec{
			Name:    name,
			Command: []string{"sh", "-c", "echo " + name},
			WorkDir: t.TempDir(),
		})
		if err != nil {
			t.Fatalf("Put(%s): %v", name, err)
		}
	}

	results, err := q.Reproduce(ctx)
	if err != nil {
		t.Fatalf("Reproduce: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Reproduce returned %d results, want 2: %v", len(results), results)
	}
	var haveAlpha, haveBeta bool
	for ref, hash := range results {
		if len(hash) != 64 {
			t.Errorf("hash for %s = %q, want sha256 hex", ref, hash)
		}
		haveAlpha = haveAlpha || strings.HasSuffix(ref, "/alpha")
		haveBeta = haveBeta || strings.HasSuffix(ref, "/beta")
	}
	if !haveAlpha || !haveBeta {
		t.Errorf("result refs missing experiment names: %v", results)
	}

	if entries := collectEntries(t, q.IterQueued(ctx)); len(entries) != 0 {
		t.Errorf("queue holds %d entries after drain, want 0", len(entries))
	}
}

func TestWorkspaceQueueReproduceFailureStops(t *testing.T) {
	rt := testRuntime(t)
	q := NewWorkspaceQueue(rt)
	ctx := context.Background()

	if _, err := q.Put(ctx, model.JobSpec{
		Name:    "broken",
		Command: []string{"sh", "-c", "exit 3"},
		WorkDir: t.TempDir(),
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := q.Put(ctx, model.JobSpec{
		Name:    "never-run",
		Command: []string{"true"},
		WorkDir: t.TempDir(),
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, err := q.Reproduce(ctx)
	var failed *model.RunFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Reproduce = %v, want RunFailedError", err)
	}

	// The failed entry was popped but not collected; both records remain.
	if entries := collectEntries(t, q.IterQueued(ctx)); len(entries) != 2 {
		t.Errorf("queue holds %d entries after failure, want 2", len(entries))
	}
}

func TestWorkspaceQueueReproduceAbortDiscardsResults(t *testing.T) {
	rt := testRuntime(t)
	q := NewWorkspaceQueue(rt)
	ctx := context.Background()

	okEntry, err := q.Put(ctx, model.JobSpec{Name: "finished", Command: []string{"true"}})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := q.Put(ctx, model.JobSpec{Name: "interrupted", Command: []string{"true"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var firstCleaned, secondCleaned bool
	q.newExecutor = func(entry model.Entry, spec model.JobSpec) executor.Executor {
		if entry.Equal(okEntry) {
			return &fakeExecutor{
				res:     &model.ExecResult{Ref: "refs/replay/abc1234/finished", Hash: strings.Repeat("a", 64)},
				cleaned: &firstCleaned,
			}
		}
		return &fakeExecutor{err: model.ErrRunAborted, cleaned: &secondCleaned}
	}

	results, err := q.Reproduce(ctx)
	if err != nil {
		t.Fatalf("Reproduce: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("aborted Reproduce returned %v, want empty results", results)
	}
	if !firstCleaned || !secondCleaned {
		t.Errorf("cleanup ran = (%t, %t), want both", firstCleaned, secondCleaned)
	}

	// The collected entry is gone; the aborted one is still queued.
	entries := collectEntries(t, q.IterQueued(ctx))
	if len(entries) != 1 || entries[0].Name != "interrupted" {
		t.Errorf("queue after abort = %+v, want only the interrupted entry", entries)
	}
}

func TestWorkspaceQueueRemove(t *testing.T) {
	rt := testRuntime(t)
	q := NewWorkspaceQueue(rt)
	ctx := context.Background()

	keep, err := q.Put(ctx, model.JobSpec{Name: "keep", Command: []string{"true"}})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	drop, err := q.Put(ctx, model.JobSpec{Name: "drop", Command: []string{"true"}})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := q.Remove(ctx, []string{drop.StashRev[:8]}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	entries := collectEntries(t, q.IterQueued(ctx))
	if len(entries) != 1 || !entries[0].Equal(keep) {
		t.Errorf("queue after remove = %+v, want only %s", entries, keep.Name)
	}

	var unres *model.UnresolvedNamesError
	if err := q.Remove(ctx, []string{"missing"}); !errors.As(err, &unres) {
		t.Errorf("Remove(missing) = %v, want UnresolvedNamesError", err)
	}
}

func TestWorkspaceQueueUnsupportedOperations(t *testing.T) {
	rt := testRuntime(t)
	q := NewWorkspaceQueue(rt)
	ctx := context.Background()

	if _, err := q.GetResult(ctx, model.Entry{}, 0); !errors.Is(err, model.ErrNotSupported) {
		t.Errorf("GetResult = %v, want ErrNotSupported", err)
	}
	if err := q.Kill(ctx, []string{"x"}); !errors.Is(err, model.ErrNotSupported) {
		t.Errorf("Kill = %v, want ErrNotSupported", err)
	}
	if err := q.Shutdown(ctx, false); !errors.Is(err, model.ErrNotSupported) {
		t.Errorf("Shutdown = %v, want ErrNotSupported", err)
	}
	for _, err := range q.IterActive(ctx) {
		if !errors.Is(err, model.ErrNotSupported) {
			t.Errorf("IterActive = %v, want ErrNotSupported", err)
		}
	}
	for _, err := range q.IterDone(ctx) {
		if !errors.Is(err, model.ErrNotSupported) {
			t.Errorf("IterDone = %v, want ErrNotSupported", err)
		}
	}
}
