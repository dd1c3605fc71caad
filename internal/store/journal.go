// Package store persists merged subject records: an append-only journal
// during the run and flat tables when the run is flushed.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tursodatabase/go-libsql"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jmylchreest/refyne-harvest/internal/merge"
	"github.com/jmylchreest/refyne-harvest/internal/schema"
)

// JournalOptions selects the journal backend.
type JournalOptions struct {
	// TursoURL and TursoAuthToken turn the journal into a libsql embedded
	// replica synced with a remote database.
	TursoURL       string
	TursoAuthToken string
}

// Journal is the append-only run journal. Each row is one immutable
// snapshot of a subject record.
type Journal struct {
	db        *sql.DB
	logger    *slog.Logger
	isMemory  bool
	connector *libsql.Connector // set for embedded replicas
}

// Entry is one journal row.
type Entry struct {
	Seq       int64
	RunID     string
	SubjectID string
	Hash      string
	Record    *merge.SubjectRecord
	CreatedAt time.Time
}

// Failure is a subject the run could not process.
type Failure struct {
	RunID     string
	SubjectID string
	Stage     string
	Error     string
	CreatedAt time.Time
}

// OpenJournal opens (creating if needed) the journal at path. ":memory:"
// opens a private in-memory journal.
func OpenJournal(path string, opts JournalOptions, logger *slog.Logger) (*Journal, error) {
	logger = logger.With("component", "journal")
	isMemory := path == ":memory:"

	if !isMemory {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
		}
	}

	j := &Journal{logger: logger, isMemory: isMemory}

	if opts.TursoURL != "" && !isReplicaURL(opts.TursoURL) {
		return nil, fmt.Errorf("unsupported TURSO_URL scheme: %q", opts.TursoURL)
	}

	switch {
	case opts.TursoURL != "" && !isMemory:
		connector, err := libsql.NewEmbeddedReplicaConnector(path, opts.TursoURL,
			libsql.WithAuthToken(opts.TursoAuthToken),
			libsql.WithReadYourWrites(true),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Turso connector: %w", err)
		}
		j.connector = connector
		j.db = sql.OpenDB(connector)
		logger.Info("using libsql embedded replica journal", "path", path)
	default:
		connStr := "file::memory:?_pragma=busy_timeout(5000)"
		if !isMemory {
			connStr = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
		db, err := sql.Open("sqlite", connStr)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		j.db = db
	}

	// SQLite is single-writer; one connection also keeps :memory: alive.
	j.db.SetMaxOpenConns(1)
	j.db.SetMaxIdleConns(1)
	j.db.SetConnMaxLifetime(0)

	if err := j.migrate(); err != nil {
		j.db.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	logger.Info("journal initialized", "path", path, "in_memory", isMemory, "replica", j.connector != nil)
	return j, nil
}

func (j *Journal) migrate() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL DEFAULT '',
		subject_id TEXT NOT NULL,
		content_hash TEXT NOT NULL UNIQUE,
		subject_json TEXT NOT NULL,
		details_json TEXT NOT NULL DEFAULT '[]',
		sources INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_subject_id ON entries(subject_id);
	CREATE TABLE IF NOT EXISTS failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL DEFAULT '',
		subject_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	`
	_, err := j.db.Exec(ddl)
	return err
}

// ContentHash identifies a record by its field values. Map keys are
// marshalled in sorted order, so equal records hash equally.
func ContentHash(rec *merge.SubjectRecord) (string, error) {
	payload, err := json.Marshal(struct {
		ID      string          `json:"id"`
		Subject schema.Fields   `json:"subject"`
		Details []schema.Fields `json:"details"`
	}{rec.ID, rec.Subject, rec.Details})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Append stores a snapshot of rec. It reports false when an identical
// snapshot is already journaled.
func (j *Journal) Append(ctx context.Context, runID string, rec *merge.SubjectRecord) (bool, error) {
	hash, err := ContentHash(rec)
	if err != nil {
		return false, fmt.Errorf("failed to hash record: %w", err)
	}
	subjectJSON, err := json.Marshal(rec.Subject)
	if err != nil {
		return false, fmt.Errorf("failed to marshal subject: %w", err)
	}
	details := rec.Details
	if details == nil {
		details = []schema.Fields{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return false, fmt.Errorf("failed to marshal details: %w", err)
	}

	query := `
	INSERT INTO entries (run_id, subject_id, content_hash, subject_json, details_json, sources, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(content_hash) DO NOTHING
	`
	res, err := j.db.ExecContext(ctx, query,
		runID,
		rec.ID,
		hash,
		string(subjectJSON),
		string(detailsJSON),
		rec.Sources,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("failed to append journal entry: %w", err)
	}

	n, _ := res.RowsAffected()
	j.logger.Debug("journal entry appended", "subject_id", rec.ID, "hash", hash[:12], "new", n > 0)
	return n > 0, nil
}

// Entries returns every journal row in insertion order.
func (j *Journal) Entries(ctx context.Context) ([]Entry, error) {
	query := `
	SELECT seq, run_id, subject_id, content_hash, subject_json, details_json, sources, created_at
	FROM entries
	ORDER BY seq
	`
	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var subjectJSON, detailsJSON, createdAt string
		rec := &merge.SubjectRecord{}
		if err := rows.Scan(&e.Seq, &e.RunID, &e.SubjectID, &e.Hash, &subjectJSON, &detailsJSON, &rec.Sources, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		if err := json.Unmarshal([]byte(subjectJSON), &rec.Subject); err != nil {
			j.logger.Warn("skipping journal entry with corrupt subject", "seq", e.Seq, "error", err)
			continue
		}
		if err := json.Unmarshal([]byte(detailsJSON), &rec.Details); err != nil {
			j.logger.Warn("skipping journal entry with corrupt details", "seq", e.Seq, "error", err)
			continue
		}
		rec.ID = e.SubjectID
		e.Record = rec
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordFailure journals a subject that could not be processed.
func (j *Journal) RecordFailure(ctx context.Context, f Failure) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO failures (run_id, subject_id, stage, error, created_at) VALUES (?, ?, ?, ?, ?)",
		f.RunID, f.SubjectID, f.Stage, f.Error, f.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

// Failures returns the failures journaled for runID, or for every run when
// runID is empty.
func (j *Journal) Failures(ctx context.Context, runID string) ([]Failure, error) {
	query := "SELECT run_id, subject_id, stage, error, created_at FROM failures"
	var args []any
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " ORDER BY id"

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		var createdAt string
		if err := rows.Scan(&f.RunID, &f.SubjectID, &f.Stage, &f.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Sync pushes local writes to the remote database of an embedded replica.
// It is a no-op for local journals.
func (j *Journal) Sync() error {
	if j.connector == nil {
		return nil
	}
	if _, err := j.connector.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal replica: %w", err)
	}
	return nil
}

// Close syncs replicas, checkpoints the WAL and closes the database.
func (j *Journal) Close() error {
	if err := j.Sync(); err != nil {
		j.logger.Warn("failed to sync before close", "error", err)
	}
	if !j.isMemory && j.connector == nil {
		if _, err := j.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			j.logger.Warn("failed to checkpoint WAL before close", "error", err)
		}
	}
	err := j.db.Close()
	if j.connector != nil {
		if cerr := j.connector.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// isReplicaURL reports whether url names a remote libsql database.
func isReplicaURL(url string) bool {
	return strings.HasPrefix(url, "libsql://") || strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://")
}
