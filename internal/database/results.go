// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Result statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusInvalid   = "invalid"
)

// Result is one processing attempt of a leased item. An item recovered after a
// lease expiry and processed again produces a second row.
type Result struct {
	ID         int64     `json:"id"`
	Queue      string    `json:"queue"`
	ItemKey    string    `json:"item_key"`
	ItemID     string    `json:"item_id"`
	RequestID  string    `json:"request_id"`
	Image      string    `json:"image"`
	Session    string    `json:"session"`
	Status     string    `json:"status"`
	ExitCode   int       `json:"exit_code"`
	Output     string    `json:"output"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ResultStore persists processing attempts to SQLite.
type ResultStore struct {
	db *sql.DB
}

// OpenResultStore opens (or creates) the database at path.
func OpenResultStore(path string) (*ResultStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Workers record concurrently; a single writer avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store, err := NewResultStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewResultStore wraps an open database and ensures the schema exists.
func NewResultStore(db *sql.DB) (*ResultStore, error) {
	store := &ResultStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize results schema: %w", err)
	}
	return store, nil
}

func (s *ResultStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		queue TEXT NOT NULL,
		item_key TEXT NOT NULL,
		item_id TEXT,
		request_id TEXT,
		image TEXT,
		session TEXT,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		output TEXT,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_item_id ON results(item_id);
	CREATE INDEX IF NOT EXISTS idx_results_finished_at ON results(finished_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// DB returns the underlying handle so other tables can share the connection.
func (s *ResultStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *ResultStore) Close() error {
	return s.db.Close()
}

// Record inserts r and returns its row id.
func (s *ResultStore) Record(ctx context.Context, r Result) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO results (queue, item_key, item_id, request_id, image, session, status, exit_code, output, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Queue, r.ItemKey, r.ItemID, r.RequestID, r.Image, r.Session, r.Status, r.ExitCode, r.Output, r.Error,
		r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const selectResults = `SELECT id, queue, item_key, item_id, request_id, image, session, status, exit_code, output, error, started_at, finished_at FROM results`

// Recent returns the last limit results, newest first.
func (s *ResultStore) Recent(ctx context.Context, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectResults+" ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	return scanResults(rows)
}

// ByItem returns every attempt recorded for itemID, oldest first.
func (s *ResultStore) ByItem(ctx context.Context, itemID string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, selectResults+" WHERE item_id = ? ORDER BY id ASC", itemID)
	if err != nil {
		return nil, err
	}
	return scanResults(rows)
}

func scanResults(rows *sql.Rows) ([]Result, error) {
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r                           Result
			itemID, requestID, image    sql.NullString
			session, output, errMessage sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Queue, &r.ItemKey, &itemID, &requestID, &image, &session,
			&r.Status, &r.ExitCode, &output, &errMessage, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.ItemID = itemID.String
		r.RequestID = requestID.String
		r.Image = image.String
		r.Session = session.String
		r.Output = output.String
		r.Error = errMessage.String
		results = append(results, r)
	}
	return results, rows.Err()
}
