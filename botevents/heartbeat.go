package botevents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// DefaultHeartbeatInterval is how often a running bot reports.
const DefaultHeartbeatInterval = 15 * time.Second

// Heartbeat writes a liveness row for one bot. The current platform is
// reported so the admin view can tell where a silent bot is stuck.
type Heartbeat struct {
	db       *sql.DB
	username string
	hostname string
	pid      int
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	platform string

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewHeartbeat creates a writer. interval <= 0 uses 15s.
func NewHeartbeat(db *sql.DB, username string, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Heartbeat{
		db:       db,
		username: username,
		hostname: host,
		pid:      os.Getpid(),
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetPlatform records the platform the bot is working on.
func (h *Heartbeat) SetPlatform(p string) {
	h.mu.Lock()
	h.platform = p
	h.mu.Unlock()
}

// Start writes one beat now and then every interval until Stop or ctx is
// done.
func (h *Heartbeat) Start(ctx context.Context) {
	go h.loop(ctx)
}

// Stop ends the loop and waits for it. Safe to call more than once.
func (h *Heartbeat) Stop() {
	h.once.Do(func() { close(h.stop) })
	<-h.done
}

// Beat writes one row.
func (h *Heartbeat) Beat(ctx context.Context) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	h.mu.Lock()
	platform := h.platform
	h.mu.Unlock()

	err := exec(ctx, h.db, `
		INSERT INTO bot_heartbeats (username, hostname, pid, platform, goroutines, alloc_mb, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(username) DO UPDATE SET
			hostname = excluded.hostname, pid = excluded.pid, platform = excluded.platform,
			goroutines = excluded.goroutines, alloc_mb = excluded.alloc_mb,
			updated_at = excluded.updated_at`,
		h.username, h.hostname, h.pid, platform, runtime.NumGoroutine(),
		float64(mem.Alloc)/1024/1024, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("botevents: heartbeat: %w", err)
	}
	return nil
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.Beat(ctx); err != nil {
		h.logger.Warn("botevents: heartbeat failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.C:
			if err := h.Beat(ctx); err != nil {
				h.logger.Warn("botevents: heartbeat failed", "error", err)
			}
		}
	}
}

// HeartbeatStatus is the latest beat of a bot.
type HeartbeatStatus struct {
	Username string        `json:"username"`
	Hostname string        `json:"hostname"`
	PID      int           `json:"pid"`
	Platform string        `json:"platform,omitempty"`
	At       time.Time     `json:"at"`
	Age      time.Duration `json:"age"`
	Alive    bool          `json:"alive"`
}

// LatestHeartbeat returns the last beat of username, or nil when none was
// recorded. A beat older than staleAfter is reported not alive.
func LatestHeartbeat(ctx context.Context, db *sql.DB, username string, staleAfter time.Duration) (*HeartbeatStatus, error) {
	var hs HeartbeatStatus
	var ms int64
	err := db.QueryRowContext(ctx, `
		SELECT username, hostname, pid, platform, updated_at
		FROM bot_heartbeats WHERE username = ?`, username).
		Scan(&hs.Username, &hs.Hostname, &hs.PID, &hs.Platform, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("botevents: latest heartbeat: %w", err)
	}
	hs.At = time.UnixMilli(ms)
	hs.Age = time.Since(hs.At)
	hs.Alive = hs.Age <= staleAfter
	return &hs, nil
}
