package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/me/replay/pkg/model"
)

func testEntry() model.Entry {
	return model.Entry{
		RootDir:     "/repo",
		SCMRoot:     "/repo",
		QueueRef:    "refs/replay/queue",
		StashRev:    "a94a8fe5ccb19ba61c4c0873d391e987982fbbd3",
		BaselineRev: "de9f2c7fd25e1b3afad3e85a0bd17d9b100db4b3",
		Name:        "soft-lion",
	}
}

func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	return Options{
		InfoPath: filepath.Join(dir, "info.json"),
		RunDir:   filepath.Join(dir, "run"),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestWorkspace_RunSuccess(t *testing.T) {
	entry := testEntry()
	opts := testOptions(t)

	w := NewWorkspace(entry, model.JobSpec{Command: []string{"sh", "-c", "echo score=0.93"}}, opts)
	defer w.Cleanup()

	result, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Ref != "refs/replay/de9f2c7/soft-lion" {
		t.Errorf("result ref = %q", result.Ref)
	}
	if len(result.Hash) != 64 {
		t.Errorf("result hash = %q, want sha256 hex", result.Hash)
	}

	info, err := model.LoadRunInfo(opts.InfoPath)
	if err != nil {
		t.Fatalf("LoadRunInfo: %v", err)
	}
	if !info.Collected {
		t.Error("run info not marked collected")
	}
	if got := info.Result(); got == nil || got.Hash != result.Hash {
		t.Errorf("persisted result = %+v, want hash %q", got, result.Hash)
	}
}

func TestWorkspace_RunHashesDeclaredOutput(t *testing.T) {
	entry := testEntry()
	opts := testOptions(t)
	workDir := t.TempDir()

	spec := model.JobSpec{
		Command: []string{"sh", "-c", "printf weights > model.bin"},
		WorkDir: workDir,
		Output:  "model.bin",
	}
	w := NewWorkspace(entry, spec, opts)
	defer w.Cleanup()

	result, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// sha256("weights")
	const want = "09e464365934557c1228e7efe077dab98a15b2e40aae6ceb4af9b40f5754fd28"
	if result.Hash != want {
		t.Errorf("hash = %q, want hash of declared output", result.Hash)
	}
}

func TestWorkspace_RunFailure(t *testing.T) {
	entry := testEntry()
	opts := testOptions(t)

	w := NewWorkspace(entry, model.JobSpec{Command: []string{"sh", "-c", "exit 1"}}, opts)
	defer w.Cleanup()

	_, err := w.Run(context.Background())
	var failed *model.RunFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Run = %v, want RunFailedError", err)
	}
	if failed.Rev != entry.StashRev {
		t.Errorf("failed rev = %q, want %q", failed.Rev, entry.StashRev)
	}

	// The info record exists but is not collected.
	info, err := model.LoadRunInfo(opts.InfoPath)
	if err != nil {
		t.Fatalf("LoadRunInfo: %v", err)
	}
	if info.Collected {
		t.Error("failed run must not be marked collected")
	}
}

func TestWorkspace_RunMissingOutputIsFailure(t *testing.T) {
	entry := testEntry()
	opts := testOptions(t)

	spec := model.JobSpec{
		Command: []string{"true"},
		WorkDir: t.TempDir(),
		Output:  "never-written.json",
	}
	w := NewWorkspace(entry, spec, opts)
	defer w.Cleanup()

	_, err := w.Run(context.Background())
	var failed *model.RunFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Run = %v, want RunFailedError for missing output", err)
	}
}

func TestWorkspace_RunAborted(t *testing.T) {
	entry := testEntry()
	opts := testOptions(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	w := NewWorkspace(entry, model.JobSpec{Command: []string{"sleep", "30"}}, opts)
	defer w.Cleanup()

	_, err := w.Run(ctx)
	if !errors.Is(err, model.ErrRunAborted) {
		t.Errorf("Run = %v, want ErrRunAborted", err)
	}
}

func TestWorkspace_MirrorReceivesOutput(t *testing.T) {
	entry := testEntry()
	opts := testOptions(t)

	var mirror strings.Builder
	opts.Mirror = &mirror

	w := NewWorkspace(entry, model.JobSpec{Command: []string{"echo", "live"}}, opts)
	defer w.Cleanup()

	if _, err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(mirror.String(), "live") {
		t.Errorf("mirror = %q, want run output", mirror.String())
	}
}

func TestWorkspace_Cleanup(t *testing.T) {
	entry := testEntry()
	opts := testOptions(t)

	w := NewWorkspace(entry, model.JobSpec{Command: []string{"echo", "x"}}, opts)
	if _, err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := w.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(opts.RunDir); !errors.Is(err, os.ErrNotExist) {
		t.Error("Cleanup left the run dir behind")
	}
}

func TestCollect_FromRecordedStdout(t *testing.T) {
	entry := testEntry()
	dir := t.TempDir()
	stdoutPath := filepath.Join(dir, "stdout")
	infoPath := filepath.Join(dir, "info.json")
	if err := os.WriteFile(stdoutPath, []byte("score=0.93\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := Collect(context.Background(), entry, model.JobSpec{}, stdoutPath, infoPath, nil, nil)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if result.Ref != RefForEntry(entry) {
		t.Errorf("ref = %q, want %q", result.Ref, RefForEntry(entry))
	}

	info, err := model.LoadRunInfo(infoPath)
	if err != nil {
		t.Fatalf("LoadRunInfo: %v", err)
	}
	if !info.Collected || info.ResultHash != result.Hash {
		t.Errorf("persisted info = %+v, want collected with hash %q", info, result.Hash)
	}
}

func TestRefForEntry(t *testing.T) {
	e := testEntry()
	if got := RefForEntry(e); got != "refs/replay/de9f2c7/soft-lion" {
		t.Errorf("RefForEntry = %q", got)
	}

	e.Name = ""
	if got := RefForEntry(e); got != "refs/replay/de9f2c7/a94a8fe" {
		t.Errorf("RefForEntry without name = %q", got)
	}
}
