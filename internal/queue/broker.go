package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"time"

	"github.com/me/replay/internal/broker"
	"github.com/me/replay/internal/proc"
	"github.com/me/replay/pkg/model"
)

// ProcessManager is the slice of the process manager the broker queue
// drives. *proc.Manager satisfies it.
type ProcessManager interface {
	Get(key string) (*proc.Info, error)
	Kill(key string) error
	Follow(ctx context.Context, key string, w io.Writer) error
}

// BrokerQueue hands experiments to detached workers through the message
// broker. Entry state is derived, never stored: queued means the message
// is undelivered, active means delivered with the task still running, done
// means the task reached a terminal state.
type BrokerQueue struct {
	rt    *Runtime
	procs ProcessManager
}

// NewBrokerQueue creates a broker-backed queue over rt.
func NewBrokerQueue(rt *Runtime) *BrokerQueue {
	return &BrokerQueue{rt: rt, procs: rt.Proc}
}

// Put stashes a job and publishes it to the broker.
func (q *BrokerQueue) Put(ctx context.Context, spec model.JobSpec) (model.Entry, error) {
	entry, se, err := q.rt.push(ctx, spec)
	if err != nil {
		return model.Entry{}, err
	}
	body, err := EncodeTaskPayload(TaskPayload{Entry: entry, Spec: se.Spec})
	if err != nil {
		return model.Entry{}, err
	}
	if _, err := q.rt.Broker.Publish(ctx, TaskRunExperiment, body); err != nil {
		return model.Entry{}, fmt.Errorf("publishing job: %w", err)
	}
	q.rt.Logger.Info("queued experiment",
		"rev", entry.ShortRev(), "name", entry.Name)
	return entry, nil
}

// Get is not supported: broker entries are popped by workers, not callers.
func (q *BrokerQueue) Get(ctx context.Context) (*GetResult, error) {
	return nil, model.ErrNotSupported
}

// Reproduce is not supported: use Put and let a worker drain the queue.
func (q *BrokerQueue) Reproduce(ctx context.Context) (map[string]string, error) {
	return nil, model.ErrNotSupported
}

// messageEntry pairs a broker message with its decoded entry.
type messageEntry struct {
	tag    string
	taskID string
	entry  model.Entry
}

func (q *BrokerQueue) messages(ctx context.Context, delivered bool) ([]messageEntry, error) {
	list := q.rt.Broker.Queued
	if delivered {
		list = q.rt.Broker.Delivered
	}
	found, err := list(ctx)
	if err != nil {
		return nil, err
	}
	var out []messageEntry
	for _, m := range found {
		if m.Task != TaskRunExperiment {
			continue
		}
		p, err := DecodeTaskPayload(m.Body)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", m.Tag, err)
		}
		out = append(out, messageEntry{tag: m.Tag, taskID: m.TaskID, entry: p.Entry})
	}
	return out, nil
}

// IterQueued yields entries whose messages have not been delivered,
// oldest first.
func (q *BrokerQueue) IterQueued(ctx context.Context) iter.Seq2[model.Entry, error] {
	return func(yield func(model.Entry, error) bool) {
		msgs, err := q.messages(ctx, false)
		if err != nil {
			yield(model.Entry{}, err)
			return
		}
		for _, me := range msgs {
			if !yield(me.entry, nil) {
				return
			}
		}
	}
}

// IterActive yields delivered entries whose tasks have not finished. The
// task state is checked per element as the sequence is pulled.
func (q *BrokerQueue) IterActive(ctx context.Context) iter.Seq2[model.Entry, error] {
	return func(yield func(model.Entry, error) bool) {
		msgs, err := q.messages(ctx, true)
		if err != nil {
			yield(model.Entry{}, err)
			return
		}
		for _, me := range msgs {
			terminal, err := q.rt.Broker.TaskTerminal(ctx, me.taskID)
			if err != nil {
				yield(model.Entry{}, err)
				return
			}
			if model.Classify(true, terminal) != model.StateActive {
				continue
			}
			if !yield(me.entry, nil) {
				return
			}
		}
	}
}

// IterDone yields delivered entries whose tasks finished, paired with
// their results. The result defaults to nil when the run info record has
// not been written.
func (q *BrokerQueue) IterDone(ctx context.Context) iter.Seq2[DoneResult, error] {
	return func(yield func(DoneResult, error) bool) {
		msgs, err := q.messages(ctx, true)
		if err != nil {
			yield(DoneResult{}, err)
			return
		}
		for _, me := range msgs {
			terminal, err := q.rt.Broker.TaskTerminal(ctx, me.taskID)
			if err != nil {
				yield(DoneResult{}, err)
				return
			}
			if model.Classify(true, terminal) != model.StateDone {
				continue
			}
			res, err := q.loadResult(me.entry.StashRev)
			if err != nil {
				yield(DoneResult{}, err)
				return
			}
			if !yield(DoneResult{Entry: me.entry, Result: res}, nil) {
				return
			}
		}
	}
}

// iterDoneEntries adapts IterDone to a plain entry source for the
// resolver.
func (q *BrokerQueue) iterDoneEntries(ctx context.Context) EntrySource {
	return func(yield func(model.Entry, error) bool) {
		for dr, err := range q.IterDone(ctx) {
			if !yield(dr.Entry, err) {
				return
			}
		}
	}
}

// loadResult reads the persisted result for a revision. A missing record
// is not an error; a corrupt one is.
func (q *BrokerQueue) loadResult(rev string) (*model.ExecResult, error) {
	info, err := model.LoadRunInfo(q.rt.InfoPath(rev))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return info.Result(), nil
}

// GetResult returns the result for entry. The fast path reads the
// collected run info record directly. Otherwise the entry's state decides:
// queued entries fail with NotStartedError, active entries are awaited up
// to timeout (0 waits without bound), and an entry found nowhere, or whose
// work already finished without a collected record, is unknown.
func (q *BrokerQueue) GetResult(ctx context.Context, entry model.Entry, timeout time.Duration) (*model.ExecResult, error) {
	rev := entry.StashRev

	info, err := model.LoadRunInfo(q.rt.InfoPath(rev))
	if err == nil && info.Collected {
		return info.Result(), nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	for e, err := range q.IterQueued(ctx) {
		if err != nil {
			return nil, err
		}
		if e.Equal(entry) {
			return nil, &model.NotStartedError{Rev: rev}
		}
	}

	msgs, err := q.messages(ctx, true)
	if err != nil {
		return nil, err
	}
	for _, me := range msgs {
		if !me.entry.Equal(entry) {
			continue
		}
		terminal, err := q.rt.Broker.TaskTerminal(ctx, me.taskID)
		if err != nil {
			return nil, err
		}
		if terminal {
			// Consumed and finished, yet the collected record never
			// appeared: the entry is not active, so there is nothing to
			// wait for.
			continue
		}
		if err := q.rt.Broker.WaitTask(ctx, me.taskID, timeout); err != nil {
			if errors.Is(err, broker.ErrWaitTimeout) {
				return nil, &model.ResultTimeoutError{Rev: rev}
			}
			return nil, err
		}
		info, err := model.LoadRunInfo(q.rt.InfoPath(rev))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &model.UnknownEntryError{Rev: rev}
		}
		if err != nil {
			return nil, err
		}
		return info.Result(), nil
	}

	return nil, &model.UnknownEntryError{Rev: rev}
}

// Kill terminates the processes of the named active entries. Every name
// must resolve against the active set; otherwise nothing is killed and all
// unresolved names are reported together.
func (q *BrokerQueue) Kill(ctx context.Context, revs []string) error {
	matched, err := MatchEntriesByName(revs, q.IterActive(ctx))
	if err != nil {
		return err
	}
	if missing := unresolved(revs, matched); len(missing) > 0 {
		return &model.UnresolvedNamesError{Names: missing}
	}
	killed := make(map[string]bool, len(matched))
	for _, e := range matched {
		if killed[e.StashRev] {
			continue
		}
		killed[e.StashRev] = true
		if err := q.procs.Kill(e.StashRev); err != nil {
			return fmt.Errorf("killing %s: %w", model.ShortRev(e.StashRev), err)
		}
	}
	return nil
}

// Shutdown asks workers to stop accepting new work. With kill, every
// currently active entry's process is also terminated; processes that
// already exited are tolerated.
func (q *BrokerQueue) Shutdown(ctx context.Context, kill bool) error {
	if err := q.rt.Broker.RequestShutdown(ctx); err != nil {
		return err
	}
	if !kill {
		return nil
	}
	for e, err := range q.IterActive(ctx) {
		if err != nil {
			return err
		}
		if err := q.procs.Kill(e.StashRev); err != nil {
			if errors.Is(err, os.ErrProcessDone) || errors.Is(err, proc.ErrNotFound) {
				continue
			}
			return fmt.Errorf("killing %s: %w", e.ShortRev(), err)
		}
	}
	return nil
}

// Follow streams an entry's live output to w until the process exits or
// ctx is cancelled.
func (q *BrokerQueue) Follow(ctx context.Context, entry model.Entry, w io.Writer) error {
	return q.procs.Follow(ctx, entry.StashRev, w)
}

// Logs writes the recorded output of a revision to w. The name is
// resolved against active and done entries first; a match that is merely
// queued reports that the experiment has not started. In follow mode the
// stream runs until the process exits, and caller cancellation ends it
// without error.
func (q *BrokerQueue) Logs(ctx context.Context, rev string, w io.Writer, follow bool) error {
	matched, err := MatchEntriesByName([]string{rev},
		q.IterActive(ctx), q.iterDoneEntries(ctx))
	if err != nil {
		return err
	}
	entry := matched[rev]
	if entry == nil {
		queued, err := MatchEntriesByName([]string{rev}, q.IterQueued(ctx))
		if err != nil {
			return err
		}
		if queued[rev] != nil {
			return &model.NotStartedError{Rev: queued[rev].StashRev}
		}
		return &model.UnresolvedNamesError{Names: []string{rev}}
	}

	if follow {
		err := q.Follow(ctx, *entry, w)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	info, err := q.procs.Get(entry.StashRev)
	if errors.Is(err, proc.ErrNotFound) {
		return &model.MissingLogsError{Rev: entry.StashRev}
	}
	if err != nil {
		return err
	}
	f, err := os.Open(info.Stdout)
	if errors.Is(err, fs.ErrNotExist) {
		return &model.MissingLogsError{Rev: entry.StashRev}
	}
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copying logs: %w", err)
	}
	return nil
}

// Remove withdraws the named still-queued entries. Every name must
// resolve against the queued set.
func (q *BrokerQueue) Remove(ctx context.Context, revs []string) error {
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
	return q.removeRevs(ctx, stashRevs)
}

// removeRevs rejects the broker messages for the given stash revisions,
// then removes the stash records. The stash removal runs even when a
// rejection failed; the first rejection error is reported after it.
func (q *BrokerQueue) removeRevs(ctx context.Context, stashRevs []string) error {
	set := make(map[string]bool, len(stashRevs))
	for _, r := range stashRevs {
		set[r] = true
	}

	var rejectErr error
	msgs, err := q.messages(ctx, false)
	if err != nil {
		rejectErr = err
	} else {
		for _, me := range msgs {
			if !set[me.entry.StashRev] {
				continue
			}
			if err := q.rt.Broker.Reject(ctx, me.tag); err != nil && rejectErr == nil {
				rejectErr = err
			}
		}
	}

	if err := q.rt.Stash.Remove(ctx, stashRevs); err != nil {
		return err
	}
	return rejectErr
}
