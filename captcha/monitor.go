// Package captcha watches a live page for verification screens and holds
// the engagement loop at AwaitClear until the page is back on its platform's
// home URL.
//
// Detection runs on every main-frame navigation, on suspicious HTTP
// responses and on a fixed poll interval. Pausing is edge-triggered: a
// detection while already paused never creates a second pause handle. The
// only resume criterion is the current URL being exactly the home URL.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/socialbot/browser"
	"github.com/hazyhaar/socialbot/platform"
)

var (
	// ErrResolutionTimeout is returned by AwaitClear when a pause outlived
	// the resolution timeout. The monitor stays paused.
	ErrResolutionTimeout = errors.New("captcha: resolution timed out")

	// ErrMonitorDisabled is returned by Check once the monitor has disabled
	// itself after repeated failures.
	ErrMonitorDisabled = errors.New("captcha: monitor disabled")

	// ErrMonitorStopped is returned by AwaitClear when the monitor is
	// stopped while paused.
	ErrMonitorStopped = errors.New("captcha: monitor stopped")
)

// Defaults.
const (
	DefaultPollInterval      = 2 * time.Second
	DefaultResolutionTimeout = 5 * time.Minute
	DefaultMaxFailures       = 3
)

// Page is the part of a browser tab the monitor needs.
type Page interface {
	CurrentURL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	FindElement(ctx context.Context, selector string) (browser.Element, error)
	SubscribeNavigation(fn func(url string)) (cancel func())
	SubscribeResponse(fn func(browser.Response)) (cancel func())
}

// State is a snapshot of the monitor.
type State struct {
	Monitoring          bool
	Paused              bool
	Disabled            bool
	HandleID            string
	PausedAt            time.Time
	Deadline            time.Time
	ConsecutiveFailures int
}

// pauseHandle is one suspension. done is closed exactly once; err is set
// before closing.
type pauseHandle struct {
	id       string
	at       time.Time
	deadline time.Time
	done     chan struct{}
	err      error
}

func (h *pauseHandle) release(err error) {
	h.err = err
	close(h.done)
}

// Monitor is the per-tab challenge detector. Create with New.
type Monitor struct {
	page     Page
	cfg      platform.Config
	patterns []platform.Pattern
	logger   *slog.Logger
	router   *Router
	now      func() time.Time

	pollInterval time.Duration
	timeout      time.Duration
	maxFailures  int

	// checks collapses concurrent Check calls into one detection step so a
	// single page error counts once.
	checks singleflight.Group

	mu          sync.Mutex
	started     bool
	monitoring  bool
	disabled    bool
	paused      bool
	handle      *pauseHandle
	failures    int
	cancel      context.CancelFunc
	unsubscribe []func()
	done        chan struct{}
	trigger     chan string
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Monitor) { m.logger = l } }

// WithPollInterval overrides the 2s poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithResolutionTimeout overrides the 5 minute resolution timeout.
func WithResolutionTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock injects the time source used for pause deadlines.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// WithObserver registers an observer at construction.
func WithObserver(o Observer) Option { return func(m *Monitor) { m.router.Add(o) } }

// New creates a monitor for page on the given platform. It does nothing
// until Start.
func New(page Page, cfg platform.Config, opts ...Option) *Monitor {
	m := &Monitor{
		page:         page,
		cfg:          cfg,
		patterns:     cfg.Patterns(),
		logger:       slog.Default(),
		router:       NewRouter(nil),
		now:          time.Now,
		pollInterval: DefaultPollInterval,
		timeout:      DefaultResolutionTimeout,
		maxFailures:  DefaultMaxFailures,
		trigger:      make(chan string, 1),
	}
	for _, o := range opts {
		o(m)
	}
	m.router.logger = m.logger
	return m
}

// Subscribe registers an observer for paused, resolved, timeout and
// disabled events.
func (m *Monitor) Subscribe(o Observer) { m.router.Add(o) }

// Start begins detection. It is idempotent. A platform without
// verification patterns gets a monitor that never pauses.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	if len(m.patterns) == 0 {
		m.logger.Info("captcha: no verification patterns, monitoring off", "platform", m.cfg.Name)
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.monitoring = true
	m.done = make(chan struct{})
	m.unsubscribe = []func(){
		m.page.SubscribeNavigation(func(u string) { m.poke("navigation") }),
		m.page.SubscribeResponse(func(r browser.Response) {
			if r.Status == 429 || platform.IsVerification(r.URL, m.patterns) {
				m.poke(fmt.Sprintf("response %d", r.Status))
			}
		}),
	}
	go m.loop(ctx, m.done)
	m.logger.Info("captcha: monitoring", "platform", m.cfg.Name, "patterns", len(m.patterns))
}

// Stop cancels detection. It is idempotent. A pending pause handle is
// released with ErrMonitorStopped.
func (m *Monitor) Stop() {
	m.mu.Lock()
	done := m.done
	m.shutdownLocked()
	if m.handle != nil {
		m.handle.release(ErrMonitorStopped)
		m.handle = nil
		m.paused = false
	}
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// shutdownLocked cancels the loop and the page subscriptions without
// waiting for the loop to exit.
func (m *Monitor) shutdownLocked() {
	if m.cancel != nil {
		m.cancel()
	}
	for _, fn := range m.unsubscribe {
		fn()
	}
	m.unsubscribe = nil
	m.monitoring = false
}

// Paused reports whether the monitor is holding a pause.
func (m *Monitor) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// State returns a snapshot.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := State{
		Monitoring:          m.monitoring,
		Paused:              m.paused,
		Disabled:            m.disabled,
		ConsecutiveFailures: m.failures,
	}
	if m.handle != nil {
		s.HandleID = m.handle.id
		s.PausedAt = m.handle.at
		s.Deadline = m.handle.deadline
	}
	return s
}

// AwaitClear returns nil at once when not paused. Otherwise it blocks until
// the pause resolves (nil), times out (ErrResolutionTimeout), the monitor
// stops (ErrMonitorStopped) or ctx is done.
func (m *Monitor) AwaitClear(ctx context.Context) error {
	m.mu.Lock()
	h := m.handle
	m.mu.Unlock()
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) poke(reason string) {
	select {
	case m.trigger <- reason:
	default:
	}
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-m.trigger:
			m.logger.Debug("captcha: check", "platform", m.cfg.Name, "trigger", reason)
		case <-ticker.C:
		}
		if err := m.Check(ctx); errors.Is(err, ErrMonitorDisabled) {
			return
		}
	}
}

// Check runs one detection step. The poll loop calls it; tests call it
// directly. It returns the check error, or ErrMonitorDisabled once the
// monitor has given up. A call made while another is in flight waits for
// that step and shares its result.
func (m *Monitor) Check(ctx context.Context) error {
	ch := m.checks.DoChan("check", func() (any, error) {
		return nil, m.check(ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) check(ctx context.Context) error {
	m.mu.Lock()
	disabled, paused := m.disabled, m.paused
	m.mu.Unlock()
	if disabled {
		return ErrMonitorDisabled
	}
	if len(m.patterns) == 0 {
		return nil
	}

	u, err := m.page.CurrentURL(ctx)
	if err != nil {
		return m.fail(ctx, err)
	}

	if paused {
		m.resetFailures()
		m.checkPaused(u)
		return nil
	}

	detected, reason, err := m.detect(ctx, u)
	if err != nil {
		return m.fail(ctx, err)
	}
	m.resetFailures()
	if detected {
		m.pause(u, reason)
	}
	return nil
}

// detect reports whether u or the page content shows a challenge.
func (m *Monitor) detect(ctx context.Context, u string) (bool, string, error) {
	for _, p := range m.patterns {
		if p.Match(u) {
			return true, "url " + p.String(), nil
		}
	}

	src, err := m.page.HTML(ctx)
	if err != nil {
		return false, "", fmt.Errorf("captcha: read content: %w", err)
	}
	if reason := ScanHTML(strings.NewReader(src), m.cfg.TextMarkers); reason != "" {
		return true, reason, nil
	}

	for _, sel := range m.cfg.ElementSelectors {
		_, err := m.page.FindElement(ctx, sel)
		if err == nil {
			return true, "element " + sel, nil
		}
		if !errors.Is(err, browser.ErrElementNotFound) {
			return false, "", fmt.Errorf("captcha: find %s: %w", sel, err)
		}
	}
	return false, "", nil
}

func (m *Monitor) pause(u, reason string) {
	now := m.now()
	m.mu.Lock()
	if m.paused || m.disabled {
		m.mu.Unlock()
		return
	}
	h := m.newHandleLocked(now)
	m.paused = true
	m.mu.Unlock()

	m.logger.Warn("Captcha/Code verification detected, paused",
		"platform", m.cfg.Name, "url", u, "reason", reason, "handle", h.id)
	m.router.Observe(Event{Signal: SignalPaused, Platform: m.cfg.Name, URL: u, HandleID: h.id, Reason: reason, At: now})
}

func (m *Monitor) checkPaused(u string) {
	now := m.now()
	m.mu.Lock()
	h := m.handle
	if h == nil {
		m.mu.Unlock()
		return
	}

	if u == m.cfg.HomeURL {
		m.paused = false
		m.handle = nil
		m.failures = 0
		h.release(nil)
		m.mu.Unlock()

		m.logger.Info("captcha: resolved, resuming", "platform", m.cfg.Name, "url", u,
			"handle", h.id, "paused_for", now.Sub(h.at).Round(time.Second).String())
		m.router.Observe(Event{Signal: SignalResolved, Platform: m.cfg.Name, URL: u, HandleID: h.id, At: now})
		return
	}

	if now.Before(h.deadline) {
		m.mu.Unlock()
		return
	}

	// Timed out: reject waiters, stay paused behind a fresh handle.
	m.newHandleLocked(now)
	h.release(ErrResolutionTimeout)
	m.mu.Unlock()

	m.logger.Error("Captcha/Code resolution timed out",
		"platform", m.cfg.Name, "url", u, "handle", h.id, "timeout", m.timeout.String())
	m.router.Observe(Event{Signal: SignalTimeout, Platform: m.cfg.Name, URL: u, HandleID: h.id,
		Reason: "resolution timeout", At: now})
}

func (m *Monitor) newHandleLocked(now time.Time) *pauseHandle {
	h := &pauseHandle{
		id:       uuid.Must(uuid.NewV7()).String(),
		at:       now,
		deadline: now.Add(m.timeout),
		done:     make(chan struct{}),
	}
	m.handle = h
	return h
}

func (m *Monitor) resetFailures() {
	m.mu.Lock()
	m.failures = 0
	m.mu.Unlock()
}

// fail counts a check error. At maxFailures consecutive errors the monitor
// disables itself and releases any pending pause so the loop proceeds
// unmonitored.
func (m *Monitor) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	m.failures++
	n := m.failures
	if n < m.maxFailures {
		m.mu.Unlock()
		m.logger.Warn("captcha: check failed", "platform", m.cfg.Name, "failures", n, "error", err)
		return err
	}

	m.disabled = true
	m.shutdownLocked()
	h := m.handle
	m.handle = nil
	m.paused = false
	if h != nil {
		h.release(nil)
	}
	m.mu.Unlock()

	m.logger.Error("captcha: monitor disabled after consecutive check failures, continuing unmonitored",
		"platform", m.cfg.Name, "failures", n, "error", err)
	ev := Event{Signal: SignalDisabled, Platform: m.cfg.Name, Reason: err.Error(), At: m.now()}
	if h != nil {
		ev.HandleID = h.id
	}
	m.router.Observe(ev)
	return ErrMonitorDisabled
}
