// Package worker runs the consume loop behind the broker queue: it pulls
// experiment tasks from the broker, executes them as managed subprocesses,
// collects results, and reports task outcomes back to the broker.
package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/me/replay/internal/broker"
	"github.com/me/replay/internal/executor"
	"github.com/me/replay/internal/proc"
	"github.com/me/replay/internal/queue"
	"github.com/me/replay/pkg/model"
)

// DefaultPollInterval is how often an idle worker checks the broker.
const DefaultPollInterval = time.Second

// Worker drains the broker queue one task at a time.
type Worker struct {
	rt     *queue.Runtime
	poll   time.Duration
	logger *slog.Logger
}

// New creates a worker over rt. poll <= 0 uses DefaultPollInterval.
func New(rt *queue.Runtime, poll time.Duration) *Worker {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Worker{
		rt:     rt,
		poll:   poll,
		logger: rt.Logger.With("component", "worker"),
	}
}

// Run consumes tasks until ctx is cancelled or a shutdown is requested
// through the broker. Tasks already running when shutdown is requested are
// finished first; a requested shutdown only stops new work from being
// accepted.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "poll", w.poll)
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		requested, err := w.rt.Broker.ShutdownRequested(ctx)
		if err != nil {
			return fmt.Errorf("checking shutdown flag: %w", err)
		}
		if requested {
			w.logger.Info("worker stopping, shutdown requested")
			return nil
		}

		msg, err := w.rt.Broker.Consume(ctx, queue.TaskRunExperiment)
		if err != nil {
			return fmt.Errorf("consuming task: %w", err)
		}
		if msg != nil {
			w.execute(ctx, msg)
			// Drain back to back; only idle workers sleep.
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping, context cancelled")
			return nil
		case <-ticker.C:
		}
	}
}

// execute runs one consumed task to completion and reports its outcome.
// Failures are terminal task states, never loop errors: a broken job must
// not take the worker down.
func (w *Worker) execute(ctx context.Context, msg *broker.Message) {
	payload, err := queue.DecodeTaskPayload(msg.Body)
	if err != nil {
		w.logger.Error("undecodable task body", "task_id", msg.TaskID, "error", err)
		w.completeTask(msg.TaskID, false)
		return
	}
	entry := payload.Entry
	spec := payload.Spec
	rev := entry.StashRev
	logger := w.logger.With("rev", entry.ShortRev())
	logger.Info("executing experiment", "name", entry.Name, "command", spec.Command)

	ok := w.runAndCollect(ctx, entry, spec, logger)
	w.completeTask(msg.TaskID, ok)
	if ok {
		if err := w.rt.Stash.Remove(context.WithoutCancel(ctx), []string{rev}); err != nil {
			logger.Error("removing collected stash record", "error", err)
		}
		logger.Info("experiment collected")
	}
}

func (w *Worker) runAndCollect(ctx context.Context, entry model.Entry, spec model.JobSpec, logger *slog.Logger) bool {
	rev := entry.StashRev

	info := &model.RunInfo{
		Rev:         rev,
		BaselineRev: entry.BaselineRev,
		WorkDir:     spec.WorkDir,
	}

	h, err := w.rt.Proc.Spawn(rev, spec.Command, spec.WorkDir, spec.Env)
	if err != nil {
		logger.Error("spawning job", "error", err)
		return false
	}
	info.PID = h.Info().PID
	if err := info.Save(w.rt.InfoPath(rev)); err != nil {
		logger.Error("writing run info", "error", err)
	}

	code, err := h.Wait(ctx)
	if err != nil {
		logger.Error("waiting for job", "error", err)
		return false
	}
	if code != 0 {
		logger.Warn("job failed", "returncode", code)
		return false
	}

	_, err = executor.Collect(ctx, entry, spec, h.Info().Stdout,
		w.rt.InfoPath(rev), w.rt.Stager, logger)
	if err != nil {
		logger.Error("collecting result", "error", err)
		return false
	}
	return true
}

// completeTask records the terminal task state outside the request
// context so a cancelled run still reaches a terminal state.
func (w *Worker) completeTask(taskID string, ok bool) {
	if err := w.rt.Broker.CompleteTask(context.Background(), taskID, ok); err != nil {
		w.logger.Error("recording task state", "task_id", taskID, "ok", ok, "error", err)
	}
}

// NodeKey derives the stable process manager key for the worker serving
// rootDir.
func NodeKey(rootDir string) string {
	sum := sha256.Sum256([]byte(rootDir))
	return "replay-worker-" + hex.EncodeToString(sum[:])[:6]
}

// Spawn starts a detached worker process for rt's root directory using the
// current binary. A previously requested shutdown is cleared first so the
// new worker accepts work. Returns the pid of the spawned worker, or an
// error if one is already running.
func Spawn(ctx context.Context, rt *queue.Runtime) (int, error) {
	key := NodeKey(rt.RootDir)
	info, err := rt.Proc.Get(key)
	switch {
	case err == nil && info.Running():
		return 0, fmt.Errorf("worker already running with pid %d", info.PID)
	case err != nil && !errors.Is(err, proc.ErrNotFound):
		return 0, err
	}

	if err := rt.Broker.ClearShutdown(ctx); err != nil {
		return 0, fmt.Errorf("clearing shutdown flag: %w", err)
	}

	bin, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locating binary: %w", err)
	}
	spawned, err := rt.Proc.SpawnDetached(key,
		[]string{bin, "worker", "--workdir", rt.RootDir}, rt.RootDir, nil)
	if err != nil {
		return 0, fmt.Errorf("spawning worker: %w", err)
	}
	rt.Logger.Info("spawned worker", "pid", spawned.PID, "node", key)
	return spawned.PID, nil
}

// Status reports the detached worker's state for rootDir's runtime, or nil
// when no worker record exists.
func Status(rt *queue.Runtime) *model.WorkerState {
	info, err := rt.Proc.Get(NodeKey(rt.RootDir))
	if err != nil {
		return nil
	}
	return &model.WorkerState{
		Running:  info.Running(),
		PID:      info.PID,
		LastSeen: info.StartedAt,
	}
}
