// Package botevents persists monitor signals and bot heartbeats to SQLite
// so the admin process can show history that the text log cannot carry.
package botevents

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds written by the bot besides the captcha signals.
const (
	KindStarted  = "started"
	KindStopped  = "stopped"
	KindPlatform = "platform_failed"
)

// Event is one recorded occurrence.
type Event struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Platform string    `json:"platform,omitempty"`
	Kind     string    `json:"kind"`
	URL      string    `json:"url,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Store reads and writes events.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// NewStore wraps an opened database.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

// Record inserts e, filling ID and At when empty.
func (s *Store) Record(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	err := exec(ctx, s.db, `
		INSERT INTO bot_events (event_id, username, platform, kind, url, detail, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.Username, e.Platform, e.Kind, e.URL, e.Detail, e.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("botevents: record: %w", err)
	}
	return nil
}

// RecordAsync records e and logs failures instead of returning them, for
// callers that must not block on the store. Close waits for these writes.
func (s *Store) RecordAsync(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("botevents: store closed, event dropped", "kind", e.Kind)
		return
	}
	s.pending.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Record(ctx, e); err != nil {
			s.logger.Warn("botevents: record failed", "kind", e.Kind, "error", err)
		}
	}()
}

// Close refuses further asynchronous records and waits for the pending
// ones. It does not close the database; call it before db.Close.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.pending.Wait()
	return nil
}

// List returns the most recent events of username, newest first.
func (s *Store) List(ctx context.Context, username string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, username, platform, kind, url, detail, created_at
		FROM bot_events WHERE username = ?
		ORDER BY created_at DESC, event_id DESC LIMIT ?`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("botevents: list: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var ms int64
		if err := rows.Scan(&e.ID, &e.Username, &e.Platform, &e.Kind, &e.URL, &e.Detail, &ms); err != nil {
			return nil, fmt.Errorf("botevents: scan: %w", err)
		}
		e.At = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes events older than the retention window.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM bot_events WHERE created_at < ?",
		s.now().Add(-retention).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("botevents: prune: %w", err)
	}
	return res.RowsAffected()
}
