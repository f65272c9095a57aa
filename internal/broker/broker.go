// Package broker implements the message broker and task-result backend the
// queue engine observes. Messages and task states live in one SQLite
// database per working directory; the broker is the single arbiter of which
// worker receives which message.
package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// ErrWaitTimeout is returned by WaitTask when the task did not reach a
// terminal state within the caller's bound.
var ErrWaitTimeout = errors.New("timed out waiting for task")

// waitPollInterval is how often WaitTask re-reads the task state.
const waitPollInterval = 100 * time.Millisecond

// Message is one enqueued unit of dispatchable work. The tag identifies the
// message itself (for rejection); the task id identifies the execution in
// the task-result backend.
type Message struct {
	Tag       string
	Task      string
	TaskID    string
	Body      []byte
	Delivered bool
}

// TaskState is the execution state tracked by the task-result backend.
type TaskState string

const (
	TaskPending TaskState = "PENDING"
	TaskStarted TaskState = "STARTED"
	TaskSuccess TaskState = "SUCCESS"
	TaskFailure TaskState = "FAILURE"
)

// IsTerminal returns true if the task has finished, successfully or not.
func (s TaskState) IsTerminal() bool {
	return s == TaskSuccess || s == TaskFailure
}

// Broker is a SQLite-backed message broker. Put order is preserved as
// message order; delivery is at-most-once per message.
type Broker struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the broker database at dbPath.
// Use ":memory:" for an in-memory broker (useful in tests).
func New(dbPath string, logger *slog.Logger) (*Broker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open broker db %s: %w", dbPath, err)
	}

	// Single connection: serializes writers and keeps :memory: databases
	// coherent across pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &Broker{
		db:     db,
		logger: logger.With("component", "broker"),
	}, nil
}

// Close closes the underlying database connection.
func (b *Broker) Close() error {
	return b.db.Close()
}

// Migrate creates all required tables and indexes.
func (b *Broker) Migrate(ctx context.Context) error {
	b.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, b.db)
}

// Publish enqueues a message for the given task type and returns the task
// id assigned to it. The message becomes visible to Queued immediately and
// is consumed asynchronously by a worker.
func (b *Broker) Publish(ctx context.Context, task string, body []byte) (string, error) {
	tag := uuid.New().String()
	taskID := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (tag, task, task_id, body, delivered, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		tag, task, taskID, body, now,
	); err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO task_states (id, state) VALUES (?, ?)`,
		taskID, TaskPending,
	); err != nil {
		return "", fmt.Errorf("insert task state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	b.logger.Debug("message published", "task", task, "task_id", taskID)
	return taskID, nil
}

// Queued returns a point-in-time snapshot of not-yet-delivered messages in
// put order.
func (b *Broker) Queued(ctx context.Context) ([]Message, error) {
	return b.selectMessages(ctx, false)
}

// Delivered returns a point-in-time snapshot of delivered messages in
// delivery order.
func (b *Broker) Delivered(ctx context.Context) ([]Message, error) {
	return b.selectMessages(ctx, true)
}

func (b *Broker) selectMessages(ctx context.Context, delivered bool) ([]Message, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT tag, task, task_id, body, delivered FROM messages
		 WHERE delivered = ? ORDER BY seq`, delivered,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Tag, &m.Task, &m.TaskID, &m.Body, &m.Delivered); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Reject withdraws a not-yet-delivered message and its task-state row.
// Rejecting a message that was already consumed or removed is a no-op: the
// caller's view of the queue may be stale.
func (b *Broker) Reject(ctx context.Context, tag string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var taskID string
	err = tx.QueryRowContext(ctx,
		`SELECT task_id FROM messages WHERE tag = ? AND delivered = 0`, tag,
	).Scan(&taskID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE tag = ?`, tag); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_states WHERE id = ?`, taskID); err != nil {
		return err
	}

	b.logger.Debug("message rejected", "tag", tag, "task_id", taskID)
	return tx.Commit()
}

// Consume atomically delivers the oldest undelivered message of the given
// task type to the caller and marks its task started. Returns (nil, nil)
// when no work is available. A message is delivered at most once.
func (b *Broker) Consume(ctx context.Context, task string) (*Message, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var m Message
	err = tx.QueryRowContext(ctx,
		`SELECT tag, task, task_id, body FROM messages
		 WHERE delivered = 0 AND task = ? ORDER BY seq LIMIT 1`, task,
	).Scan(&m.Tag, &m.Task, &m.TaskID, &m.Body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET delivered = 1 WHERE tag = ? AND delivered = 0`, m.Tag,
	)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		// Lost the race to another worker.
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE task_states SET state = ? WHERE id = ?`, TaskStarted, m.TaskID,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	m.Delivered = true
	b.logger.Debug("message consumed", "task", task, "task_id", m.TaskID)
	return &m, nil
}

// TaskTerminal reports whether the task has reached a terminal state.
// Unknown task ids are reported as not terminal.
func (b *Broker) TaskTerminal(ctx context.Context, taskID string) (bool, error) {
	var state TaskState
	err := b.db.QueryRowContext(ctx,
		`SELECT state FROM task_states WHERE id = ?`, taskID,
	).Scan(&state)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return state.IsTerminal(), nil
}

// CompleteTask records the terminal state of a task.
func (b *Broker) CompleteTask(ctx context.Context, taskID string, ok bool) error {
	state := TaskSuccess
	if !ok {
		state = TaskFailure
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := b.db.ExecContext(ctx,
		`UPDATE task_states SET state = ?, finished_at = ? WHERE id = ?`,
		state, now, taskID,
	)
	if err == nil {
		b.logger.Debug("task completed", "task_id", taskID, "state", state)
	}
	return err
}

// WaitTask blocks until the task reaches a terminal state. timeout == 0
// means wait without bound. Returns ErrWaitTimeout when the bound is
// exceeded and the context error when the caller cancels; neither affects
// the running task.
func (b *Broker) WaitTask(ctx context.Context, taskID string, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		terminal, err := b.TaskTerminal(ctx, taskID)
		if err != nil {
			return err
		}
		if terminal {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrWaitTimeout
		case <-ticker.C:
		}
	}
}

// RequestShutdown signals workers to stop accepting new work. The flag
// persists until ClearShutdown.
func (b *Broker) RequestShutdown(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO control (key, value) VALUES ('shutdown', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ShutdownRequested reports whether a shutdown has been requested.
func (b *Broker) ShutdownRequested(ctx context.Context) (bool, error) {
	var value string
	err := b.db.QueryRowContext(ctx,
		`SELECT value FROM control WHERE key = 'shutdown'`,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ClearShutdown removes a pending shutdown request, typically before a new
// worker is spawned.
func (b *Broker) ClearShutdown(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM control WHERE key = 'shutdown'`)
	return err
}
