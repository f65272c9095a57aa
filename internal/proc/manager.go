// Package proc spawns and tracks OS-level subprocesses keyed by name.
// Each process gets a directory under the manager root holding its captured
// stdout and an info record (pid, command, return code), so other processes
// can look it up, kill it, or follow its output.
package proc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// ErrNotFound is returned when no process is registered under a key.
var ErrNotFound = errors.New("process not found")

// followPollInterval is how often Follow re-checks the stdout file and the
// process state.
const followPollInterval = 200 * time.Millisecond

// Info is the persisted record of one managed process.
type Info struct {
	Key        string    `json:"key"`
	PID        int       `json:"pid"`
	Command    []string  `json:"command"`
	Stdout     string    `json:"stdout"`
	ReturnCode *int      `json:"returncode"`
	StartedAt  time.Time `json:"started_at"`
}

// Running reports whether the process has not yet recorded an exit.
func (i *Info) Running() bool {
	return i.ReturnCode == nil && alive(i.PID)
}

// Manager tracks subprocesses under a root directory.
type Manager struct {
	dir    string
	logger *slog.Logger
}

// New creates a Manager rooted at dir.
func New(dir string, logger *slog.Logger) *Manager {
	return &Manager{
		dir:    dir,
		logger: logger.With("component", "proc"),
	}
}

// Handle is the spawning process's grip on a managed child.
type Handle struct {
	m    *Manager
	cmd  *exec.Cmd
	info *Info
	out  *os.File
}

// Info returns the process record as of spawn time.
func (h *Handle) Info() *Info {
	return h.info
}

// Wait blocks until the child exits, records its return code in the info
// record, and returns the recorded code. The code is recorded on every exit
// path, including death by signal.
func (h *Handle) Wait(ctx context.Context) (int, error) {
	waitErr := make(chan error, 1)
	go func() { waitErr <- h.cmd.Wait() }()

	var err error
	select {
	case err = <-waitErr:
	case <-ctx.Done():
		// Caller gave up observing; the child keeps running and a later
		// Wait on the same handle is not possible, so kill it.
		h.cmd.Process.Kill()
		<-waitErr
		h.out.Close()
		return -1, ctx.Err()
	}
	h.out.Close()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	h.info.ReturnCode = &code
	if werr := h.m.writeInfo(h.info); werr != nil {
		h.m.logger.Error("record return code", "key", h.info.Key, "error", werr)
	}
	h.m.logger.Debug("process exited", "key", h.info.Key, "returncode", code)
	return code, nil
}

// Spawn starts command as a managed child of the calling process, with
// stdout and stderr captured to the process's stdout file. The caller must
// eventually call Wait on the returned handle to reap the child.
func (m *Manager) Spawn(key string, command []string, wdir string, env map[string]string) (*Handle, error) {
	info, cmd, out, err := m.start(key, command, wdir, env, false)
	if err != nil {
		return nil, err
	}
	return &Handle{m: m, cmd: cmd, info: info, out: out}, nil
}

// SpawnDetached starts command in its own session so it survives the caller.
// No return code is ever recorded; liveness is judged from the pid.
func (m *Manager) SpawnDetached(key string, command []string, wdir string, env map[string]string) (*Info, error) {
	info, cmd, out, err := m.start(key, command, wdir, env, true)
	if err != nil {
		return nil, err
	}
	out.Close()
	if err := cmd.Process.Release(); err != nil {
		m.logger.Warn("release detached process", "key", key, "error", err)
	}
	return info, nil
}

func (m *Manager) start(key string, command []string, wdir string, env map[string]string, detach bool) (*Info, *exec.Cmd, *os.File, error) {
	if len(command) == 0 {
		return nil, nil, nil, fmt.Errorf("spawn %s: empty command", key)
	}

	procDir := filepath.Join(m.dir, key)
	if err := os.MkdirAll(procDir, 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("create proc dir: %w", err)
	}

	stdoutPath := filepath.Join(procDir, "stdout")
	out, err := os.Create(stdoutPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create stdout file: %w", err)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = wdir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if detach {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	}

	if err := cmd.Start(); err != nil {
		out.Close()
		return nil, nil, nil, fmt.Errorf("spawn %s: %w", key, err)
	}

	info := &Info{
		Key:       key,
		PID:       cmd.Process.Pid,
		Command:   command,
		Stdout:    stdoutPath,
		StartedAt: time.Now().UTC(),
	}
	if err := m.writeInfo(info); err != nil {
		cmd.Process.Kill()
		out.Close()
		return nil, nil, nil, err
	}

	m.logger.Debug("process spawned", "key", key, "pid", info.PID, "detached", detach)
	return info, cmd, out, nil
}

// Get returns the info record for key, or ErrNotFound.
func (m *Manager) Get(key string) (*Info, error) {
	data, err := os.ReadFile(m.infoPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode proc info %s: %w", key, err)
	}
	return &info, nil
}

// Kill terminates the process registered under key. A process that already
// exited is reported as os.ErrProcessDone.
func (m *Manager) Kill(key string) error {
	info, err := m.Get(key)
	if err != nil {
		return err
	}
	if info.ReturnCode != nil || !alive(info.PID) {
		return fmt.Errorf("kill %s: %w", key, os.ErrProcessDone)
	}

	p, err := os.FindProcess(info.PID)
	if err != nil {
		return fmt.Errorf("kill %s: %w", key, err)
	}
	if err := p.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill %s: %w", key, os.ErrProcessDone)
		}
		return fmt.Errorf("kill %s: %w", key, err)
	}

	m.logger.Debug("process killed", "key", key, "pid", info.PID)
	return nil
}

// Follow streams the process's stdout to w as it is produced, blocking
// until the process exits and the file is drained, or the context is
// cancelled. Cancellation tears down only the stream, never the process.
func (m *Manager) Follow(ctx context.Context, key string, w io.Writer) error {
	info, err := m.Get(key)
	if err != nil {
		return err
	}

	f, err := os.Open(info.Stdout)
	if err != nil {
		return fmt.Errorf("open stdout for %s: %w", key, err)
	}
	defer f.Close()

	for {
		n, err := io.Copy(w, f)
		if err != nil {
			return err
		}

		if n == 0 {
			// Nothing new; stop once the process is gone.
			info, err := m.Get(key)
			if err != nil {
				return err
			}
			if !info.Running() {
				// One final drain in case output raced the exit check.
				if _, err := io.Copy(w, f); err != nil {
					return err
				}
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(followPollInterval):
		}
	}
}

func (m *Manager) infoPath(key string) string {
	return filepath.Join(m.dir, key, "info.json")
}

// writeInfo persists the record atomically so concurrent readers never see
// a partial write.
func (m *Manager) writeInfo(info *Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode proc info: %w", err)
	}
	path := m.infoPath(info.Key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// alive reports whether a process with the given pid exists.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
