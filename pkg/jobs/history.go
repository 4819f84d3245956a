package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// History outcomes beyond the terminal job statuses.
const (
	// OutcomeAbandoned is recorded for a job whose tracking gave up.
	OutcomeAbandoned = "ABANDONED"

	// OutcomeMalformed is recorded for a SUCCESS job whose result could not
	// be decoded.
	OutcomeMalformed = "MALFORMED"
)

// recordedAtLayout is fixed-width so that text order is time order.
const recordedAtLayout = "2006-01-02T15:04:05.000000000Z"

// HistoryEntry is one finished job as seen by this client.
type HistoryEntry struct {
	JobID      int64     `json:"job_id" yaml:"job_id"`
	CompanyID  int64     `json:"company_id" yaml:"company_id"`
	Kind       string    `json:"kind" yaml:"kind"`
	Outcome    string    `json:"outcome" yaml:"outcome"`
	Message    string    `json:"message,omitempty" yaml:"message,omitempty"`
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded_at"`
}

// EntryFromEvent builds a history entry from a terminal or abandoned event.
func EntryFromEvent(companyID int64, kind string, ev Event) (HistoryEntry, error) {
	e := HistoryEntry{
		JobID:      ev.JobID,
		CompanyID:  companyID,
		Kind:       kind,
		RecordedAt: ev.At.UTC(),
	}
	switch ev.Kind {
	case EventTerminal:
		e.Outcome = string(ev.Job.Status)
		switch r := ev.Job.Result.(type) {
		case Failed:
			e.Message = r.Message
		case Succeeded:
			e.Message = r.Text()
		}
	case EventAbandoned:
		e.Outcome = OutcomeAbandoned
		if ev.Err != nil {
			e.Message = ev.Err.Error()
		}
	default:
		return e, fmt.Errorf("event %q does not end a job", ev.Kind)
	}
	return e, nil
}

// MarkMalformed records that the entry's SUCCESS result could not be read.
// The decode error replaces the raw result text.
func (e *HistoryEntry) MarkMalformed(err error) {
	e.Outcome = OutcomeMalformed
	if err != nil {
		e.Message = err.Error()
	}
}

// HistoryStore keeps a local record of finished jobs per company in SQLite.
type HistoryStore struct {
	db *sql.DB
}

// OpenHistory opens (and creates if needed) the history database at path.
// ":memory:" opens a private in-memory database.
func OpenHistory(ctx context.Context, path string) (*HistoryStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history path is empty")
	}

	dsn := path
	if path != ":memory:" {
		// #nosec G301 -- state dir, user-owned
		if err := os.MkdirAll(filepath.Dir(filepath.Clean(path)), 0o700); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
		dsn = "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open job history: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping job history: %w", err)
	}
	if err := migrateHistory(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &HistoryStore{db: db}, nil
}

func migrateHistory(ctx context.Context, db *sql.DB) error {
	const stmt = `CREATE TABLE IF NOT EXISTS job_history (
		company_id  INTEGER NOT NULL,
		job_id      INTEGER NOT NULL,
		kind        TEXT NOT NULL DEFAULT '',
		outcome     TEXT NOT NULL,
		message     TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (company_id, job_id)
	);`
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migrate job history: %w", err)
	}
	return nil
}

// Record stores an entry, replacing any earlier entry for the same job.
func (h *HistoryStore) Record(ctx context.Context, e HistoryEntry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO job_history (company_id, job_id, kind, outcome, message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id, job_id) DO UPDATE SET
			kind = excluded.kind,
			outcome = excluded.outcome,
			message = excluded.message,
			recorded_at = excluded.recorded_at`,
		e.CompanyID, e.JobID, e.Kind, e.Outcome, e.Message, e.RecordedAt.UTC().Format(recordedAtLayout))
	if err != nil {
		return fmt.Errorf("record job %d: %w", e.JobID, err)
	}
	return nil
}

// List returns a company's entries, most recent first. limit <= 0 means all.
func (h *HistoryStore) List(ctx context.Context, companyID int64, limit int) ([]HistoryEntry, error) {
	q := `SELECT company_id, job_id, kind, outcome, message, recorded_at
		FROM job_history WHERE company_id = ?
		ORDER BY recorded_at DESC, job_id DESC`
	args := []any{companyID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list job history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e          HistoryEntry
			recordedAt string
		)
		if err := rows.Scan(&e.CompanyID, &e.JobID, &e.Kind, &e.Outcome, &e.Message, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan job history: %w", err)
		}
		if e.RecordedAt, err = time.Parse(recordedAtLayout, recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at %q: %w", recordedAt, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (h *HistoryStore) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}
