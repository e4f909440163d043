// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	xglog "github.com/ManuGH/recingest/internal/log"
	"github.com/ManuGH/recingest/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore implements OutcomeStore on SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (and migrates) the ledger at dbPath.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("outcome store: create dir: %w", err)
	}
	_, statErr := os.Stat(dbPath)
	existed := statErr == nil

	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	if existed {
		issues, err := sqlite.VerifyIntegrity(db, "quick")
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("outcome store: integrity check: %w", err)
		}
		if issues != nil {
			logger := xglog.WithComponent("store")
			logger.Error().
				Str("event", "store.corrupt").
				Str(xglog.FieldPath, dbPath).
				Strs("issues", issues).
				Msg("outcome ledger failed integrity check")
			_ = db.Close()
			return nil, fmt.Errorf("outcome store: %s is corrupt", dbPath)
		}
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("outcome store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate() error {
	current, err := sqlite.UserVersion(s.DB)
	if err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS job_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		source TEXT NOT NULL,
		output TEXT NOT NULL,
		source_size INTEGER NOT NULL,
		source_mtime_ns INTEGER NOT NULL,
		result TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		caption_result TEXT NOT NULL DEFAULT '',
		started_at_ms INTEGER NOT NULL,
		finished_at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_job_outcomes_source ON job_outcomes(source, id);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Record(ctx context.Context, o Outcome) error {
	if err := validate(o); err != nil {
		return err
	}
	const q = `
	INSERT INTO job_outcomes (job_id, source, output, source_size, source_mtime_ns, result,
		attempts, reason, caption_result, started_at_ms, finished_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.DB.ExecContext(ctx, q,
		o.JobID, o.Source, o.Output, o.SourceSize, o.SourceModTime.UnixNano(), string(o.Result),
		o.Attempts, o.Reason, o.CaptionResult, o.StartedAt.UnixMilli(), o.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", o.JobID, err)
	}
	return nil
}

const selectColumns = `job_id, source, output, source_size, source_mtime_ns, result,
	attempts, reason, caption_result, started_at_ms, finished_at_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row scanner) (Outcome, error) {
	var o Outcome
	var result string
	var mtimeNs, startedMs, finishedMs int64
	if err := row.Scan(&o.JobID, &o.Source, &o.Output, &o.SourceSize, &mtimeNs, &result,
		&o.Attempts, &o.Reason, &o.CaptionResult, &startedMs, &finishedMs); err != nil {
		return Outcome{}, err
	}
	o.Result = Result(result)
	o.SourceModTime = time.Unix(0, mtimeNs)
	o.StartedAt = time.UnixMilli(startedMs)
	o.FinishedAt = time.UnixMilli(finishedMs)
	return o, nil
}

func (s *SqliteStore) Lookup(ctx context.Context, source string) (Outcome, bool, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM job_outcomes WHERE source = ? ORDER BY id DESC LIMIT 1`, source)
	o, err := scanOutcome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Outcome{}, false, nil
	}
	if err != nil {
		return Outcome{}, false, fmt.Errorf("lookup outcome: %w", err)
	}
	return o, true, nil
}

func (s *SqliteStore) Recent(ctx context.Context, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM job_outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
