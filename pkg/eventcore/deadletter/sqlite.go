package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tusquake/eventcore/pkg/eventcore/envelope"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ErrStoreClosed is returned from operations on a closed store.
var ErrStoreClosed = fmt.Errorf("dead-letter store is closed")

// SQLite persists dead letters to SQLite. It is suitable for single-process
// production use; entries survive restarts for operator replay.
type SQLite struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLite creates a SQLite-backed dead-letter store.
// The path should be a file path (e.g. "./deadletters.db") or ":memory:" for
// testing.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dead_letters (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			envelope BLOB,
			handler TEXT NOT NULL,
			reason TEXT NOT NULL,
			attempts TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_dead_letters_event_id
		ON dead_letters(event_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Append implements Sink.
func (s *SQLite) Append(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	attempts, err := json.Marshal(entry.Attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}

	raw := entry.Raw
	if raw == nil && entry.Event.Type != "" {
		// Keep the envelope bytes for replay even when only the decoded
		// event was handed in.
		raw, err = envelope.Encode(entry.Event)
		if err != nil {
			return fmt.Errorf("encode envelope: %w", err)
		}
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dead_letters
			(event_id, event_type, subject_id, envelope, handler, reason, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.Event.ID.String(),
		entry.Event.Type,
		entry.Event.SubjectID,
		raw,
		entry.Handler,
		entry.Reason,
		string(attempts),
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append dead letter: %w", err)
	}
	return nil
}

// List implements Store. Entries come back in append order.
func (s *SQLite) List(ctx context.Context, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT envelope, handler, reason, attempts, created_at
		FROM dead_letters
		ORDER BY seq
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			raw       []byte
			handler   string
			reason    string
			attempts  string
			createdAt string
		)
		if err := rows.Scan(&raw, &handler, &reason, &attempts, &createdAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}

		entry := &Entry{Raw: raw, Handler: handler, Reason: reason}
		if evt, err := envelope.Decode(raw); err == nil {
			entry.Event = evt
		}
		if err := json.Unmarshal([]byte(attempts), &entry.Attempts); err != nil {
			return nil, fmt.Errorf("unmarshal attempts: %w", err)
		}
		entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return entries, nil
}

// Count implements Store.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
