// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/jobhive/internal/events"
)

// EventLog persists queue events to SQLite so the timeline survives restarts.
type EventLog struct {
	db *sql.DB
}

// NewEventLog creates an event log on db
func NewEventLog(db *sql.DB) (*EventLog, error) {
	l := &EventLog{db: db}
	if err := l.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize events schema: %w", err)
	}
	return l, nil
}

func (l *EventLog) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS queue_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		event_type TEXT NOT NULL,
		queue TEXT,
		item_key TEXT,
		item_id TEXT,
		session TEXT,
		count INTEGER NOT NULL DEFAULT 0,
		message TEXT,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_queue_events_item_key ON queue_events(item_key);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Append stores one event.
func (l *EventLog) Append(ctx context.Context, ev events.Event) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO queue_events (timestamp, event_type, queue, item_key, item_id, session, count, message, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Timestamp.UTC(), ev.Type, ev.Queue, ev.ItemKey, ev.ItemID, ev.Session, ev.Count, ev.Message, ev.Error,
	)
	return err
}

const selectEvents = `SELECT timestamp, event_type, queue, item_key, item_id, session, count, message, error FROM queue_events`

// Recent returns the last limit events, newest first.
func (l *EventLog) Recent(ctx context.Context, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, selectEvents+" ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// ByItemKey returns the history of one item, oldest first.
func (l *EventLog) ByItemKey(ctx context.Context, itemKey string) ([]events.Event, error) {
	rows, err := l.db.QueryContext(ctx, selectEvents+" WHERE item_key = ? ORDER BY id ASC", itemKey)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// Follow appends every event published on b until ctx is done.
func (l *EventLog) Follow(ctx context.Context, b *events.Broadcaster) {
	ch := b.Subscribe(256)
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := l.Append(ctx, ev); err != nil {
				log.Printf("EventLog: failed to store %s event: %v", ev.Type, err)
			}
		}
	}
}

func scanEvents(rows *sql.Rows) ([]events.Event, error) {
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			ev                           events.Event
			queue, itemKey, itemID       sql.NullString
			session, message, errMessage sql.NullString
		)
		if err := rows.Scan(&ev.Timestamp, &ev.Type, &queue, &itemKey, &itemID, &session,
			&ev.Count, &message, &errMessage); err != nil {
			return nil, err
		}
		ev.Queue = queue.String
		ev.ItemKey = itemKey.String
		ev.ItemID = itemID.String
		ev.Session = session.String
		ev.Message = message.String
		ev.Error = errMessage.String
		out = append(out, ev)
	}
	return out, rows.Err()
}
