// Package supervisor runs one bot process per account and restarts it when
// it crashes. Restarts back off exponentially; a bot that exits on a
// configuration error or a stop escalation is left down. Lifecycle lines
// are appended to the bot's own log so the status classifier sees them.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/socialbot/bot"
	"github.com/hazyhaar/socialbot/botlog"
	"github.com/hazyhaar/socialbot/human"
	"github.com/hazyhaar/socialbot/registry"
)

var (
	ErrAlreadyRunning = errors.New("supervisor: bot already running")
	ErrNotRunning     = errors.New("supervisor: bot not running")
	ErrClosed         = errors.New("supervisor: closed")
)

// Config tunes restarts.
type Config struct {
	LogDir      string
	Backoff     time.Duration // first restart delay, doubled each time. Default: 1s.
	MaxBackoff  time.Duration // Default: 1m.
	MaxRestarts int           // consecutive crashes before giving up. Default: 5.
	// StableAfter resets the crash counter when a process ran this long.
	// Default: 10m.
	StableAfter time.Duration
}

func (c *Config) defaults() {
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 5
	}
	if c.StableAfter <= 0 {
		c.StableAfter = 10 * time.Minute
	}
}

// Accounts is the source of known usernames.
type Accounts interface {
	Snapshot() *registry.Snapshot
}

// Info describes a running bot.
type Info struct {
	Username string    `json:"username"`
	PID      int       `json:"pid"`
	Restarts int       `json:"restarts"`
	Since    time.Time `json:"since"`
}

type proc struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	pid      int
	restarts int
	since    time.Time
}

// Supervisor owns the bot processes.
type Supervisor struct {
	cfg      Config
	command  Command
	accounts Accounts
	logger   *slog.Logger
	sleep    human.SleepFunc
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	procs  map[string]*proc
	closed bool
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// WithAccounts makes Start refuse usernames missing from the registry.
func WithAccounts(a Accounts) Option { return func(s *Supervisor) { s.accounts = a } }

// WithSleepFunc replaces the backoff wait.
func WithSleepFunc(fn human.SleepFunc) Option { return func(s *Supervisor) { s.sleep = fn } }

func WithClock(now func() time.Time) Option { return func(s *Supervisor) { s.now = now } }

// New creates a supervisor starting processes with command.
func New(cfg Config, command Command, opts ...Option) *Supervisor {
	cfg.defaults()
	s := &Supervisor{
		cfg:     cfg,
		command: command,
		logger:  slog.Default(),
		sleep:   human.Wait,
		now:     time.Now,
		procs:   make(map[string]*proc),
	}
	for _, o := range opts {
		o(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start launches the bot of username.
func (s *Supervisor) Start(username string) error {
	if s.accounts != nil {
		if _, err := s.accounts.Snapshot().Account(username); err != nil {
			return fmt.Errorf("supervisor: start %s: %w", username, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.procs[username]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, username)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	p := &proc{cancel: cancel, done: make(chan struct{}), since: s.now()}
	s.procs[username] = p
	go s.loop(ctx, username, p)
	s.logger.Info("supervisor: bot started", "username", username)
	return nil
}

// Stop terminates the bot of username and waits for it to exit.
func (s *Supervisor) Stop(username string) error {
	s.mu.Lock()
	p, ok := s.procs[username]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, username)
	}

	p.cancel()
	<-p.done
	s.note(username, "Manually stopped", false)
	s.logger.Info("supervisor: bot stopped", "username", username)
	return nil
}

// Running reports whether username has a live supervision loop, including
// while it waits to be restarted.
func (s *Supervisor) Running(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[username]
	return ok
}

// List returns the supervised bots sorted by username.
func (s *Supervisor) List() []Info {
	s.mu.Lock()
	out := make([]Info, 0, len(s.procs))
	for name, p := range s.procs {
		p.mu.Lock()
		out = append(out, Info{Username: name, PID: p.pid, Restarts: p.restarts, Since: p.since})
		p.mu.Unlock()
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Close stops every bot and refuses new starts.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	procs := make([]*proc, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	s.cancel()
	for _, p := range procs {
		<-p.done
	}
}

func (s *Supervisor) loop(ctx context.Context, username string, p *proc) {
	defer func() {
		s.mu.Lock()
		if s.procs[username] == p {
			delete(s.procs, username)
		}
		s.mu.Unlock()
		close(p.done)
	}()

	crashes := 0
	for {
		started := s.now()
		err := s.runOnce(ctx, username, p)
		if ctx.Err() != nil {
			return
		}

		code := exitCode(err)
		switch code {
		case bot.ExitOK:
			s.logger.Info("supervisor: bot exited", "username", username)
			return
		case bot.ExitConfigError, bot.ExitStopped:
			s.logger.Warn("supervisor: bot stopped itself, not restarting", "username", username, "code", code)
			return
		}

		if s.now().Sub(started) >= s.cfg.StableAfter {
			crashes = 0
		}
		crashes++
		if crashes > s.cfg.MaxRestarts {
			s.note(username, fmt.Sprintf("Bot crashed after %d restarts", s.cfg.MaxRestarts), true)
			s.logger.Error("supervisor: giving up", "username", username, "restarts", s.cfg.MaxRestarts, "error", err)
			return
		}
		if s.accounts != nil {
			if _, aerr := s.accounts.Snapshot().Account(username); aerr != nil {
				s.logger.Warn("supervisor: account removed, not restarting", "username", username)
				return
			}
		}

		wait := backoff(s.cfg.Backoff, s.cfg.MaxBackoff, crashes)
		s.logger.Warn("supervisor: bot crashed, restarting", "username", username,
			"code", code, "error", err, "attempt", crashes, "backoff", wait.String())
		p.mu.Lock()
		p.restarts++
		p.mu.Unlock()
		if s.sleep(ctx, wait) != nil {
			return
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, username string, p *proc) error {
	child, err := s.command(ctx, username)
	if err != nil {
		return fmt.Errorf("supervisor: start %s: %w", username, err)
	}
	p.mu.Lock()
	p.pid = child.Pid()
	p.mu.Unlock()
	return child.Wait()
}

// backoff returns base doubled per previous attempt, capped at limit.
func backoff(base, limit time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}

func exitCode(err error) int {
	if err == nil {
		return bot.ExitOK
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		if c := coder.ExitCode(); c >= 0 {
			return c
		}
	}
	return bot.ExitFailure
}

// note appends a lifecycle line to the bot log.
func (s *Supervisor) note(username, msg string, isErr bool) {
	if s.cfg.LogDir == "" {
		return
	}
	if err := os.MkdirAll(s.cfg.LogDir, 0o755); err != nil {
		s.logger.Warn("supervisor: log dir", "error", err)
		return
	}
	if err := botlog.Append(botlog.Path(s.cfg.LogDir, username), s.now(), msg, isErr); err != nil {
		s.logger.Warn("supervisor: append log", "username", username, "error", err)
	}
}
