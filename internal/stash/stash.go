// Package stash durably records queued job inputs. Each pushed job gets a
// unique stash revision, the identifier every other part of the system keys
// on. The queue engine consumes the stash only through List and Remove.
package stash

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/me/replay/pkg/model"

	_ "modernc.org/sqlite"
)

// Entry is one stashed job: the revision assigned at push time, its
// provenance, and the job spec to execute.
type Entry struct {
	Rev         string
	BaselineRev string
	Branch      string
	Name        string
	HeadRev     string
	Spec        model.JobSpec
	CreatedAt   time.Time
}

// Stash is a SQLite-backed ordered stash of job records.
type Stash struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the stash database at dbPath.
// Use ":memory:" for an in-memory stash (useful in tests).
func New(dbPath string, logger *slog.Logger) (*Stash, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open stash db %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}

	return &Stash{
		db:     db,
		logger: logger.With("component", "stash"),
	}, nil
}

// Close closes the underlying database connection.
func (s *Stash) Close() error {
	return s.db.Close()
}

// Migrate creates the stash table.
func (s *Stash) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS stash (
		idx          INTEGER PRIMARY KEY AUTOINCREMENT,
		rev          TEXT NOT NULL UNIQUE,
		baseline_rev TEXT NOT NULL,
		branch       TEXT NOT NULL DEFAULT '',
		name         TEXT NOT NULL DEFAULT '',
		head_rev     TEXT NOT NULL DEFAULT '',
		spec         TEXT NOT NULL,
		created_at   TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("migrate stash schema: %w", err)
	}
	return nil
}

// Push records a job and assigns it a fresh stash revision.
func (s *Stash) Push(ctx context.Context, spec model.JobSpec, baselineRev, headRev string) (Entry, error) {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal job spec: %w", err)
	}

	entry := Entry{
		Rev:         newRev(),
		BaselineRev: baselineRev,
		Branch:      spec.Branch,
		Name:        spec.Name,
		HeadRev:     headRev,
		Spec:        spec,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stash (rev, baseline_rev, branch, name, head_rev, spec, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Rev, entry.BaselineRev, entry.Branch, entry.Name, entry.HeadRev,
		string(specJSON), entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert stash entry: %w", err)
	}

	s.logger.Debug("job stashed", "rev", model.ShortRev(entry.Rev), "name", entry.Name)
	return entry, nil
}

// List returns all stash entries in insertion order.
func (s *Stash) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rev, baseline_rev, branch, name, head_rev, spec, created_at
		 FROM stash ORDER BY idx`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var specJSON, createdAt string
		if err := rows.Scan(&e.Rev, &e.BaselineRev, &e.Branch, &e.Name, &e.HeadRev,
			&specJSON, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(specJSON), &e.Spec); err != nil {
			return nil, fmt.Errorf("unmarshal spec for %s: %w", e.Rev, err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Remove deletes the stash records for the given revisions. Unknown
// revisions are ignored.
func (s *Stash) Remove(ctx context.Context, revs []string) error {
	if len(revs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rev := range revs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM stash WHERE rev = ?`, rev); err != nil {
			return fmt.Errorf("remove stash entry %s: %w", rev, err)
		}
	}
	return tx.Commit()
}

// newRev generates a 40 character revision identifier.
func newRev() string {
	sum := sha256.Sum256([]byte(uuid.New().String()))
	return hex.EncodeToString(sum[:])[:40]
}
