package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/me/replay/internal/broker"
	"github.com/me/replay/internal/proc"
	"github.com/me/replay/internal/stage"
	"github.com/me/replay/internal/stash"
	"github.com/me/replay/pkg/model"
)

// StateDirName is the directory under the project root holding all queue
// state: the broker and stash databases, process records, and run output.
const StateDirName = ".replay"

// Runtime bundles the collaborators rooted at one project directory. It is
// the dependency context every queue implementation runs against.
type Runtime struct {
	RootDir string
	Broker  *broker.Broker
	Stash   *stash.Stash
	Proc    *proc.Manager
	Stager  stage.Stager
	Logger  *slog.Logger
}

// Open initializes the state directory under rootDir and opens the broker
// and stash databases. stageTarget selects where collected artifacts are
// staged out; empty means in place.
func Open(ctx context.Context, rootDir, stageTarget string, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolving root dir: %w", err)
	}
	stateDir := filepath.Join(abs, StateDirName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	b, err := broker.New(filepath.Join(stateDir, "broker.db"), logger)
	if err != nil {
		return nil, fmt.Errorf("opening broker: %w", err)
	}
	if err := b.Migrate(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("migrating broker: %w", err)
	}
	st, err := stash.New(filepath.Join(stateDir, "stash.db"), logger)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("opening stash: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		b.Close()
		st.Close()
		return nil, fmt.Errorf("migrating stash: %w", err)
	}
	pm := proc.New(filepath.Join(stateDir, "pids"), logger)
	stager, err := stage.New(ctx, stageTarget)
	if err != nil {
		b.Close()
		st.Close()
		return nil, fmt.Errorf("configuring stager: %w", err)
	}

	return &Runtime{
		RootDir: abs,
		Broker:  b,
		Stash:   st,
		Proc:    pm,
		Stager:  stager,
		Logger:  logger.With("component", "queue"),
	}, nil
}

// Close releases the underlying databases.
func (rt *Runtime) Close() error {
	return errors.Join(rt.Broker.Close(), rt.Stash.Close())
}

// InfoPath returns the run info record path for a revision.
func (rt *Runtime) InfoPath(rev string) string {
	return filepath.Join(rt.RootDir, StateDirName, "runs", rev, "info.json")
}

// RunDir returns the scratch directory for a revision's execution.
func (rt *Runtime) RunDir(rev string) string {
	return filepath.Join(rt.RootDir, StateDirName, "runs", rev, "scratch")
}

// baselineRev returns the baseline for a job, deriving a stable pseudo
// revision from the root directory when the spec carries none.
func (rt *Runtime) baselineRev(spec model.JobSpec) string {
	if spec.BaselineRev != "" {
		return spec.BaselineRev
	}
	sum := sha256.Sum256([]byte(rt.RootDir))
	return hex.EncodeToString(sum[:])[:40]
}

// entryFromStash lifts a stash record into the queue's entry model.
func (rt *Runtime) entryFromStash(se stash.Entry) model.Entry {
	return model.Entry{
		RootDir:     rt.RootDir,
		SCMRoot:     rt.RootDir,
		QueueRef:    QueueRef,
		StashRev:    se.Rev,
		BaselineRev: se.BaselineRev,
		Branch:      se.Branch,
		Name:        se.Name,
		HeadRev:     se.HeadRev,
	}
}

// push stashes a job and returns the resulting entry plus the stash record.
func (rt *Runtime) push(ctx context.Context, spec model.JobSpec) (model.Entry, stash.Entry, error) {
	baseline := rt.baselineRev(spec)
	headRev := baseline
	se, err := rt.Stash.Push(ctx, spec, baseline, headRev)
	if err != nil {
		return model.Entry{}, stash.Entry{}, fmt.Errorf("stashing job: %w", err)
	}
	return rt.entryFromStash(se), se, nil
}
