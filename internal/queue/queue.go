// Package queue implements the experiment queue engine: the mapping of
// queued work onto the three externally observed states (queued, active,
// done), name resolution across those states, result retrieval, and the
// kill/shutdown/log control operations.
//
// The engine owns no durable state of its own. The broker, the stash, and
// the run info records are each the source of truth for their slice; the
// queue's job is to correlate them. Iteration views are point-in-time
// snapshots and may be stale immediately after being read.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/me/replay/internal/executor"
	"github.com/me/replay/pkg/model"
)

// TaskRunExperiment is the broker task type for experiment runs. Messages
// of any other type are ignored by the queue.
const TaskRunExperiment = "replay.run"

// QueueRef is the logical reference name experiments are queued under.
const QueueRef = "refs/replay/queue"

// TaskPayload is the broker message body: the entry plus the job spec the
// worker needs to execute it.
type TaskPayload struct {
	Entry model.Entry   `json:"entry"`
	Spec  model.JobSpec `json:"spec"`
}

// EncodeTaskPayload serializes a payload for publishing.
func EncodeTaskPayload(p TaskPayload) ([]byte, error) {
	return json.Marshal(p)
}

// DecodeTaskPayload deserializes a broker message body.
func DecodeTaskPayload(data []byte) (TaskPayload, error) {
	var p TaskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return TaskPayload{}, fmt.Errorf("decode task payload: %w", err)
	}
	return p, nil
}

// GetResult pairs a popped entry with the executor bound to it.
type GetResult struct {
	Entry    model.Entry
	Executor executor.Executor
}

// DoneResult pairs a finished entry with its result. Result is nil when
// the run info record has not been written.
type DoneResult struct {
	Entry  model.Entry
	Result *model.ExecResult
}

// Queue is the surface the CLI and server layers drive. Operations that do
// not apply to a queue's execution mode return model.ErrNotSupported.
type Queue interface {
	// Put stashes a job and hands it to the queue, returning the new entry.
	Put(ctx context.Context, spec model.JobSpec) (model.Entry, error)

	// Get pops the oldest stashed entry and an executor bound to it.
	Get(ctx context.Context) (*GetResult, error)

	// Reproduce drains the queue, returning produced ref -> hash for every
	// collected job.
	Reproduce(ctx context.Context) (map[string]string, error)

	IterQueued(ctx context.Context) iter.Seq2[model.Entry, error]
	IterActive(ctx context.Context) iter.Seq2[model.Entry, error]
	IterDone(ctx context.Context) iter.Seq2[DoneResult, error]

	// GetResult returns the result for entry, blocking up to timeout while
	// the entry is active. timeout == 0 waits without bound.
	GetResult(ctx context.Context, entry model.Entry, timeout time.Duration) (*model.ExecResult, error)

	// Kill terminates the processes of the given active revisions or names.
	Kill(ctx context.Context, revs []string) error

	// Shutdown stops workers from accepting new work; kill also terminates
	// every currently active entry's process.
	Shutdown(ctx context.Context, kill bool) error

	// Logs writes the recorded output of a revision to w, or streams it
	// live when follow is set.
	Logs(ctx context.Context, rev string, w io.Writer, follow bool) error

	// Follow streams an entry's live output to w until the process exits
	// or ctx is cancelled.
	Follow(ctx context.Context, entry model.Entry, w io.Writer) error

	// Remove withdraws still-queued revisions from the queue and deletes
	// their stash records.
	Remove(ctx context.Context, revs []string) error
}
