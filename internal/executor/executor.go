// Package executor performs the actual reproduction work for one entry:
// it runs the job command, hashes the produced artifact, derives the
// experiment ref, and persists the run info record the queue engine reads
// results from.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/me/replay/internal/stage"
	"github.com/me/replay/pkg/model"
)

// Executor reproduces one entry. Cleanup must be called on every exit path,
// success or failure.
type Executor interface {
	Run(ctx context.Context) (*model.ExecResult, error)
	Cleanup() error
}

// Options configures a workspace executor.
type Options struct {
	// InfoPath is where the run info record is persisted.
	InfoPath string

	// RunDir is the scratch directory holding the captured stdout.
	RunDir string

	// Stager, when set, stages the declared output artifact after
	// collection.
	Stager stage.Stager

	// Mirror, when set, receives a live copy of the run's output.
	Mirror io.Writer

	Logger *slog.Logger
}

// Workspace runs the job command inline in the calling process. It is the
// executor behind the synchronous queue; broker workers reproduce through
// the process manager instead and share only the collection step.
type Workspace struct {
	entry model.Entry
	spec  model.JobSpec
	opts  Options
}

// NewWorkspace creates an executor bound to one entry.
func NewWorkspace(entry model.Entry, spec model.JobSpec, opts Options) *Workspace {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With("component", "executor")
	return &Workspace{entry: entry, spec: spec, opts: opts}
}

// Run executes the command and collects the result. A run terminated by the
// caller is reported as model.ErrRunAborted, distinct from a run that broke.
func (w *Workspace) Run(ctx context.Context) (*model.ExecResult, error) {
	if len(w.spec.Command) == 0 {
		return nil, &model.RunFailedError{Rev: w.entry.StashRev, Err: errors.New("empty command")}
	}
	if err := os.MkdirAll(w.opts.RunDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	info := &model.RunInfo{
		Rev:         w.entry.StashRev,
		BaselineRev: w.entry.BaselineRev,
		PID:         os.Getpid(),
		WorkDir:     w.spec.WorkDir,
	}
	if err := info.Save(w.opts.InfoPath); err != nil {
		return nil, fmt.Errorf("write run info: %w", err)
	}

	stdoutPath := filepath.Join(w.opts.RunDir, "stdout")
	out, err := os.Create(stdoutPath)
	if err != nil {
		return nil, fmt.Errorf("create stdout file: %w", err)
	}
	defer out.Close()

	var sink io.Writer = out
	if w.opts.Mirror != nil {
		sink = io.MultiWriter(out, w.opts.Mirror)
	}

	cmd := exec.CommandContext(ctx, w.spec.Command[0], w.spec.Command[1:]...)
	cmd.Dir = w.spec.WorkDir
	cmd.Stdout = sink
	cmd.Stderr = sink
	cmd.Env = os.Environ()
	for k, v := range w.spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	w.opts.Logger.Debug("running experiment",
		"rev", w.entry.ShortRev(), "command", w.spec.Command)

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, model.ErrRunAborted
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && exitErr.ExitCode() == -1 {
			// Killed by signal rather than exiting on its own.
			return nil, model.ErrRunAborted
		}
		return nil, &model.RunFailedError{Rev: w.entry.StashRev, Err: runErr}
	}

	return Collect(ctx, w.entry, w.spec, stdoutPath, w.opts.InfoPath, w.opts.Stager, w.opts.Logger)
}

// Cleanup releases the executor's scratch space. Safe to call after any
// outcome.
func (w *Workspace) Cleanup() error {
	return os.RemoveAll(w.opts.RunDir)
}

// Collect turns a finished run into a persisted result: hashes the declared
// output artifact (or the captured stdout when none is declared), derives
// the experiment ref, optionally stages the artifact out, and saves the run
// info record with collected set. It is shared between the workspace
// executor and the broker worker.
func Collect(ctx context.Context, entry model.Entry, spec model.JobSpec, stdoutPath, infoPath string, stager stage.Stager, logger *slog.Logger) (*model.ExecResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	hashSrc := stdoutPath
	artifact := ""
	if spec.Output != "" {
		artifact = spec.Output
		if !filepath.IsAbs(artifact) {
			artifact = filepath.Join(spec.WorkDir, spec.Output)
		}
		hashSrc = artifact
	}

	hash, err := hashFile(hashSrc)
	if err != nil {
		return nil, &model.RunFailedError{
			Rev: entry.StashRev,
			Err: fmt.Errorf("no usable result at %s: %w", hashSrc, err),
		}
	}

	result := &model.ExecResult{Ref: RefForEntry(entry), Hash: hash}

	info, err := model.LoadRunInfo(infoPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		info = &model.RunInfo{Rev: entry.StashRev, BaselineRev: entry.BaselineRev}
	}
	info.ResultRef = result.Ref
	info.ResultHash = result.Hash
	info.Collected = true

	if stager != nil && artifact != "" {
		loc, err := stager.StageOut(ctx, artifact, entry.StashRev)
		if err != nil {
			// The result is already collected; a failed stage-out loses
			// only the remote copy.
			logger.Warn("artifact stage-out failed", "rev", entry.ShortRev(), "error", err)
		} else {
			info.ArtifactURI = loc
		}
	}

	if err := info.Save(infoPath); err != nil {
		return nil, fmt.Errorf("save run info: %w", err)
	}

	logger.Debug("experiment collected", "rev", entry.ShortRev(), "ref", result.Ref)
	return result, nil
}

// RefForEntry derives the experiment ref a collected run is recorded under.
func RefForEntry(e model.Entry) string {
	name := e.Name
	if name == "" {
		name = e.ShortRev()
	}
	return "refs/replay/" + model.ShortRev(e.BaselineRev) + "/" + name
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
