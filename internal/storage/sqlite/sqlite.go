// Package sqlite persists monitor events in a SQLite journal and enforces
// its retention policy.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/steveyegge/vigil/internal/events"
)

// Journal stores monitor events. It implements events.Sink.
type Journal struct {
	db *sql.DB
}

// EventFilter selects journal events. Zero fields match everything.
type EventFilter struct {
	Type       events.EventType
	Severity   events.EventSeverity
	StateID    string
	Dimension  string
	AfterTime  time.Time
	BeforeTime time.Time
	Limit      int
}

// New opens (or creates) the journal at path. ":memory:" gives a
// throwaway journal for tests.
func New(path string) (*Journal, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		// WAL lets readers (status queries) proceed while cycles write
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: SQLite has a single writer and :memory: is per connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(context.Background(), db, journalMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}

// Emit stores one event
func (j *Journal) Emit(ctx context.Context, event *events.Event) error {
	dataJSON := []byte("{}")
	if len(event.Data) > 0 {
		var err error
		if dataJSON, err = json.Marshal(event.Data); err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
	}

	query := `
		INSERT INTO monitor_events (
			id, type, timestamp, state_id, dimension, severity, message, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := j.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.Timestamp.UTC(),
		event.StateID,
		event.Dimension,
		string(event.Severity),
		event.Message,
		string(dataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store event (type=%s, state=%s): %w", event.Type, event.StateID, err)
	}
	return nil
}

// Query retrieves events matching the filter, most recent first
func (j *Journal) Query(ctx context.Context, filter EventFilter) ([]*events.Event, error) {
	query := `
		SELECT id, type, timestamp, state_id, dimension, severity, message, data
		FROM monitor_events
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, string(filter.Type))
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filter.Severity))
	}
	if filter.StateID != "" {
		query += " AND state_id = ?"
		args = append(args, filter.StateID)
	}
	if filter.Dimension != "" {
		query += " AND dimension = ?"
		args = append(args, filter.Dimension)
	}
	if !filter.AfterTime.IsZero() {
		query += " AND timestamp > ?"
		args = append(args, filter.AfterTime.UTC())
	}
	if !filter.BeforeTime.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, filter.BeforeTime.UTC())
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// Recent returns the latest limit events
func (j *Journal) Recent(ctx context.Context, limit int) ([]*events.Event, error) {
	return j.Query(ctx, EventFilter{Limit: limit})
}

func scanEvents(rows *sql.Rows) ([]*events.Event, error) {
	var result []*events.Event

	for rows.Next() {
		var event events.Event
		var eventType, severity, dataJSON string
		var timestamp time.Time

		err := rows.Scan(
			&event.ID,
			&eventType,
			&timestamp,
			&event.StateID,
			&event.Dimension,
			&severity,
			&event.Message,
			&dataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		event.Type = events.EventType(eventType)
		event.Severity = events.EventSeverity(severity)
		event.Timestamp = timestamp

		if dataJSON != "" && dataJSON != "{}" {
			event.Data = make(map[string]interface{})
			if err := json.Unmarshal([]byte(dataJSON), &event.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}

		result = append(result, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return result, nil
}
