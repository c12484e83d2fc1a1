package logging

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteWriter persists events to a single-table SQLite database,
// letting operators query a stack's history with ordinary SQL instead
// of scanning a JSONL file. It implements Sink and is safe for
// concurrent use; modernc.org/sqlite serializes writes internally, but
// the writer still takes its own lock so Write and Close never race on
// the prepared statement.
type SQLiteWriter struct {
	mu   sync.Mutex
	db   *sql.DB
	stmt *sql.Stmt
}

// NewSQLiteWriter opens (creating if necessary) a SQLite database at
// path and ensures the events table and its indexes exist.
func NewSQLiteWriter(path string) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateLogFile, err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ts         TEXT NOT NULL,
	stack      TEXT NOT NULL,
	transition TEXT NOT NULL,
	layer      TEXT,
	cause      TEXT,
	data       TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_stack ON events(stack);
CREATE INDEX IF NOT EXISTS idx_events_transition ON events(transition);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrCreateLogFile, err)
	}

	stmt, err := db.Prepare(`INSERT INTO events (ts, stack, transition, layer, cause, data) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrCreateLogFile, err)
	}

	return &SQLiteWriter{db: db, stmt: stmt}, nil
}

// Write inserts a row for event.
func (w *SQLiteWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var data interface{}
	if len(event.Data) > 0 {
		data = string(event.Data)
	}

	_, err := w.stmt.Exec(
		event.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00"),
		event.StackName,
		event.Transition,
		nullIfEmpty(event.Layer),
		nullIfEmpty(event.Cause),
		data,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteEvent, err)
	}
	return nil
}

// Close releases the prepared statement and closes the database.
func (w *SQLiteWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.stmt.Close()
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrCloseWriter, err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
