// Package adminapi is the admin surface over the bot fleet: status derived
// from each bot's log, start and stop through the supervisor, log tails and
// the recorded event history. It is exposed as chi routes and as MCP tools.
package adminapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/hazyhaar/socialbot/botevents"
	"github.com/hazyhaar/socialbot/botlog"
	"github.com/hazyhaar/socialbot/botstatus"
	"github.com/hazyhaar/socialbot/registry"
)

const maxTailLines = 5000

// Bots starts and stops bot processes.
type Bots interface {
	Start(username string) error
	Stop(username string) error
	Running(username string) bool
}

// Accounts lists the configured accounts.
type Accounts interface {
	Snapshot() *registry.Snapshot
}

// Config locates logs and bounds answers.
type Config struct {
	LogDir    string
	TailLines int // default lines for a log tail. Default: 200.
	// HeartbeatStale marks a heartbeat older than this as not alive.
	// Default: 3 × botevents.DefaultHeartbeatInterval.
	HeartbeatStale time.Duration
}

func (c *Config) defaults() {
	if c.TailLines <= 0 {
		c.TailLines = 200
	}
	if c.HeartbeatStale <= 0 {
		c.HeartbeatStale = 3 * botevents.DefaultHeartbeatInterval
	}
}

// BotStatus is the answer to a status query.
type BotStatus struct {
	Username string `json:"username"`
	botstatus.Status
	Running   bool                       `json:"running"`
	Heartbeat *botevents.HeartbeatStatus `json:"heartbeat,omitempty"`
}

// Service answers admin queries. The classifier, and its cache, live as
// long as the Service.
type Service struct {
	cfg        Config
	bots       Bots
	accounts   Accounts
	classifier *botstatus.Classifier
	db         *sql.DB
	events     *botevents.Store
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClassifier replaces the default classifier.
func WithClassifier(c *botstatus.Classifier) Option { return func(s *Service) { s.classifier = c } }

// WithEventsDB enables heartbeats in status answers and the event history.
func WithEventsDB(db *sql.DB) Option {
	return func(s *Service) { s.db = db }
}

// New creates a Service. accounts may be nil, in which case any username
// is accepted.
func New(cfg Config, bots Bots, accounts Accounts, opts ...Option) *Service {
	cfg.defaults()
	s := &Service{cfg: cfg, bots: bots, accounts: accounts, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.classifier == nil {
		s.classifier = botstatus.NewClassifier(botstatus.NewCache())
	}
	if s.db != nil {
		s.events = botevents.NewStore(s.db, s.logger)
	}
	return s
}

func (s *Service) known(username string) error {
	if username == "" {
		return fmt.Errorf("%w: empty username", registry.ErrUnknownAccount)
	}
	if s.accounts == nil {
		return nil
	}
	_, err := s.accounts.Snapshot().Account(username)
	return err
}

// GetStatus classifies the log of username and attaches the supervisor
// state and the last heartbeat.
func (s *Service) GetStatus(ctx context.Context, username string) (BotStatus, error) {
	if err := s.known(username); err != nil {
		return BotStatus{}, err
	}
	st := BotStatus{
		Username: username,
		Status:   s.classifier.Status(botlog.Path(s.cfg.LogDir, username)),
	}
	if s.bots != nil {
		st.Running = s.bots.Running(username)
	}
	if s.db != nil {
		hb, err := botevents.LatestHeartbeat(ctx, s.db, username, s.cfg.HeartbeatStale)
		if err != nil {
			s.logger.Warn("adminapi: heartbeat", "username", username, "error", err)
		}
		st.Heartbeat = hb
	}
	return st, nil
}

// ListStatus returns the status of every configured account.
func (s *Service) ListStatus(ctx context.Context) ([]BotStatus, error) {
	if s.accounts == nil {
		return nil, nil
	}
	names := s.accounts.Snapshot().Usernames()
	out := make([]BotStatus, 0, len(names))
	for _, name := range names {
		st, err := s.GetStatus(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// StartBot starts the bot of username.
func (s *Service) StartBot(_ context.Context, username string) error {
	if err := s.known(username); err != nil {
		return err
	}
	if err := s.bots.Start(username); err != nil {
		return err
	}
	s.logger.Info("adminapi: bot start requested", "username", username)
	return nil
}

// StopBot stops the bot of username.
func (s *Service) StopBot(_ context.Context, username string) error {
	if err := s.known(username); err != nil {
		return err
	}
	if err := s.bots.Stop(username); err != nil {
		return err
	}
	s.logger.Info("adminapi: bot stop requested", "username", username)
	return nil
}

// Logs returns the last n lines of the log of username. n <= 0 uses the
// configured default. A missing log yields no lines.
func (s *Service) Logs(username string, n int) ([]string, error) {
	if err := s.known(username); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = s.cfg.TailLines
	}
	n = min(n, maxTailLines)
	lines, err := botstatus.Tail(botlog.Path(s.cfg.LogDir, username), n)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	return lines, err
}

// ErrNoEvents is returned when no events database is configured.
var ErrNoEvents = errors.New("adminapi: events database not configured")

// Events returns the recorded events of username, newest first.
func (s *Service) Events(ctx context.Context, username string, limit int) ([]botevents.Event, error) {
	if err := s.known(username); err != nil {
		return nil, err
	}
	if s.events == nil {
		return nil, ErrNoEvents
	}
	return s.events.List(ctx, username, limit)
}
