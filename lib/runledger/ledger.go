// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package runledger keeps a SQLite table of finished run iterations:
// when each ran, how it ended, and where its snapshot went.
package runledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/spcs-instruments/pfex/lib/sqlitepool"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	iteration   INTEGER NOT NULL,
	started_ms  INTEGER NOT NULL,
	ended_ms    INTEGER NOT NULL,
	outcome     TEXT NOT NULL,
	experiment  TEXT NOT NULL DEFAULT '',
	path        TEXT NOT NULL DEFAULT '',
	digest      TEXT NOT NULL DEFAULT '',
	archive_key TEXT NOT NULL DEFAULT '',
	devices     INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_started ON runs (started_ms);
`

const columns = "run_id, iteration, started_ms, ended_ms, outcome, experiment, path, digest, archive_key, devices, error"

// Record is one finished run iteration.
type Record struct {
	RunID      string
	Iteration  int
	StartedAt  time.Time
	EndedAt    time.Time
	Outcome    string
	Experiment string
	Path       string
	Digest     string
	ArchiveKey string
	Devices    int
	Error      string
}

// Ledger is an open run ledger.
type Ledger struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Open opens or creates the ledger at path.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening run ledger: %w", err)
	}
	return &Ledger{pool: pool, logger: logger}, nil
}

// Close closes the ledger.
func (l *Ledger) Close() error {
	return l.pool.Close()
}

// Add stores record, replacing an earlier record with the same RunID.
func (l *Ledger) Add(ctx context.Context, record Record) error {
	err := l.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"INSERT OR REPLACE INTO runs ("+columns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{
				record.RunID,
				record.Iteration,
				record.StartedAt.UnixMilli(),
				record.EndedAt.UnixMilli(),
				record.Outcome,
				record.Experiment,
				record.Path,
				record.Digest,
				record.ArchiveKey,
				record.Devices,
				record.Error,
			}})
	})
	if err != nil {
		return fmt.Errorf("run ledger: adding %s: %w", record.RunID, err)
	}
	l.logger.Debug("run recorded", "run_id", record.RunID, "outcome", record.Outcome)
	return nil
}

// Get returns the record for runID.
func (l *Ledger) Get(ctx context.Context, runID string) (Record, error) {
	records, err := l.query(ctx, "SELECT "+columns+" FROM runs WHERE run_id = ?", runID)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, fmt.Errorf("run ledger: %s: %w", runID, ErrNotFound)
	}
	return records[0], nil
}

// Recent returns up to limit records, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	return l.query(ctx, "SELECT "+columns+" FROM runs ORDER BY started_ms DESC, iteration DESC LIMIT ?", limit)
}

func (l *Ledger) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	var records []Record
	err := l.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				records = append(records, scanRecord(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("run ledger: query: %w", err)
	}
	return records, nil
}

func scanRecord(stmt *sqlite.Stmt) Record {
	return Record{
		RunID:      stmt.ColumnText(0),
		Iteration:  stmt.ColumnInt(1),
		StartedAt:  time.UnixMilli(stmt.ColumnInt64(2)),
		EndedAt:    time.UnixMilli(stmt.ColumnInt64(3)),
		Outcome:    stmt.ColumnText(4),
		Experiment: stmt.ColumnText(5),
		Path:       stmt.ColumnText(6),
		Digest:     stmt.ColumnText(7),
		ArchiveKey: stmt.ColumnText(8),
		Devices:    stmt.ColumnInt(9),
		Error:      stmt.ColumnText(10),
	}
}
