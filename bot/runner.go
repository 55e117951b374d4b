// Package bot drives one account through its subscribed platforms: verify
// the proxy, sign in on each platform, wait out verification screens,
// perform a bounded amount of human-paced engagement, then close the
// browser and hibernate before the next pass.
//
// Platforms within a pass run one after the other so a single captcha pause
// holds the whole account.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/hazyhaar/socialbot/botevents"
	"github.com/hazyhaar/socialbot/browser"
	"github.com/hazyhaar/socialbot/captcha"
	"github.com/hazyhaar/socialbot/human"
	"github.com/hazyhaar/socialbot/internal/config"
	"github.com/hazyhaar/socialbot/platform"
	"github.com/hazyhaar/socialbot/registry"
)

// EventRecorder persists bot events without blocking the loop.
type EventRecorder interface {
	RecordAsync(botevents.Event)
}

// PlatformReporter is told which platform the bot is on.
type PlatformReporter interface {
	SetPlatform(string)
}

// Runner is the automation loop of one account.
type Runner struct {
	cfg       *config.Config
	account   registry.Account
	targets   []registry.Target
	launcher  browser.Launcher
	platforms *platform.Registry

	logger     *slog.Logger
	sleeper    *human.Sleeper
	typist     *human.Typist
	retry      browser.Retry
	events     EventRecorder
	reporter   PlatformReporter
	proxyCheck ProxyChecker
	observers  []captcha.Observer
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. The bot process passes a botlog handler.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithSleeper replaces the source of delays and randomness.
func WithSleeper(s *human.Sleeper) Option { return func(r *Runner) { r.sleeper = s } }

// WithRetry overrides the element lookup budget.
func WithRetry(rt browser.Retry) Option { return func(r *Runner) { r.retry = rt } }

// WithEvents persists monitor signals and run milestones.
func WithEvents(e EventRecorder) Option { return func(r *Runner) { r.events = e } }

// WithPlatformReporter reports the current platform, typically to the
// heartbeat writer.
func WithPlatformReporter(p PlatformReporter) Option { return func(r *Runner) { r.reporter = p } }

// WithProxyChecker replaces the HTTP IP echo check.
func WithProxyChecker(c ProxyChecker) Option { return func(r *Runner) { r.proxyCheck = c } }

// WithRegistry replaces the registry derived from the configuration.
func WithRegistry(reg *platform.Registry) Option { return func(r *Runner) { r.platforms = reg } }

// WithObserver adds a captcha observer to every platform monitor.
func WithObserver(o captcha.Observer) Option {
	return func(r *Runner) { r.observers = append(r.observers, o) }
}

// New creates the runner of account. targets are the companies and profiles
// to visit, across platforms.
func New(cfg *config.Config, account registry.Account, targets []registry.Target, launcher browser.Launcher, opts ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		account:  account,
		targets:  targets,
		launcher: launcher,
		logger:   slog.Default(),
		retry:    browser.DefaultRetry,
	}
	for _, o := range opts {
		o(r)
	}
	if r.sleeper == nil {
		r.sleeper = human.NewSleeper()
	}
	r.typist = human.NewTypist(r.sleeper, cfg.Engagement.TypoProbability)
	if r.proxyCheck == nil && account.HasProxy() {
		r.proxyCheck = HTTPProxyChecker(cfg.Proxy.EchoURL, r.proxy(), cfg.Proxy.Timeout)
	}
	return r
}

func (r *Runner) proxy() *browser.Proxy {
	if !r.account.HasProxy() {
		return nil
	}
	return &browser.Proxy{
		Address:  r.account.Address,
		Port:     int(r.account.Port),
		Username: r.account.ProxyUsername,
		Password: r.account.ProxyPassword,
	}
}

// Validate checks the account against the platform registry. It returns a
// *ConfigError.
func (r *Runner) Validate() error {
	if r.account.Username == "" {
		return &ConfigError{Field: "username", Reason: "empty"}
	}
	if r.account.Password == "" {
		return &ConfigError{Field: "password", Reason: "missing for " + r.account.Username}
	}
	if len(r.account.Platforms) == 0 {
		return &ConfigError{Field: "platforms", Reason: "account subscribes to no platform"}
	}
	if r.platforms == nil {
		reg, err := r.cfg.Registry()
		if err != nil {
			return &ConfigError{Field: "platforms", Reason: err.Error()}
		}
		r.platforms = reg
	}
	if err := r.platforms.Require(r.account.Platforms); err != nil {
		return &ConfigError{Field: "platforms", Reason: err.Error()}
	}
	if r.account.HasProxy() && r.account.Port <= 0 {
		return &ConfigError{Field: "port", Reason: "proxy address without port"}
	}
	return nil
}

// Run validates the configuration, then runs passes separated by
// hibernation until ctx is done or a pass escalates.
func (r *Runner) Run(ctx context.Context) (err error) {
	if err := r.Validate(); err != nil {
		r.logger.Error("Stopped: configuration error", "error", err)
		return err
	}

	r.logger.Info("Starting bot: "+r.account.Username, "platforms", len(r.account.Platforms))
	r.record(botevents.Event{Kind: botevents.KindStarted})
	defer func() {
		switch {
		case ctx.Err() != nil:
			r.logger.Info("Stopped", "reason", context.Cause(ctx))
			err = nil
		case errors.Is(err, captcha.ErrResolutionTimeout):
			r.logger.Error("Stopped: Captcha/Code unresolved", "error", err)
		case err != nil:
			r.logger.Error("Session ended", "error", err)
		}
		r.record(botevents.Event{Kind: botevents.KindStopped, Detail: errString(err)})
	}()

	for pass := 1; ; pass++ {
		if err := r.RunPass(ctx); err != nil {
			return err
		}
		d := r.sleeper.Duration(human.R(r.cfg.Timing.Hibernation, r.cfg.Timing.Hibernation+r.cfg.Timing.HibernationJitter))
		r.logger.Info("bot: pass complete, hibernating", "pass", pass, "for", d.Round(time.Second).String())
		if r.reporter != nil {
			r.reporter.SetPlatform("")
		}
		if err := r.sleeper.Sleep(ctx, d); err != nil {
			return err
		}
	}
}

// RunPass visits every subscribed platform once. A platform failure is
// logged and followed by the failure backoff; only cancellation, proxy
// failure and stop escalations end the pass with an error.
func (r *Runner) RunPass(ctx context.Context) error {
	if r.platforms == nil {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if r.account.HasProxy() {
		if err := r.verifyProxy(ctx); err != nil {
			return err
		}
	}

	b, err := r.launcher.Launch(ctx, browser.LaunchOptions{
		Proxy:      r.proxy(),
		ProfileDir: filepath.Join(r.cfg.Browser.ProfilesDir, r.account.Username),
	})
	if err != nil {
		return fmt.Errorf("bot: launch browser: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			r.logger.Warn("bot: close browser", "error", err)
		}
	}()

	for i, key := range r.account.Platforms {
		pc, err := r.platforms.Lookup(key)
		if err != nil {
			return &ConfigError{Field: "platforms", Reason: err.Error()}
		}
		if r.reporter != nil {
			r.reporter.SetPlatform(pc.Name)
		}

		err = r.visitPlatform(ctx, b, key, pc)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrStopBot):
			return err
		case err != nil:
			r.logger.Error("Error on platform, backing off", "platform", pc.Name, "error", err,
				"backoff", r.cfg.Timing.FailureBackoff.String())
			r.record(botevents.Event{Kind: botevents.KindPlatform, Platform: pc.Name, Detail: err.Error()})
			if err := r.sleeper.Sleep(ctx, r.cfg.Timing.FailureBackoff); err != nil {
				return err
			}
		}

		if i < len(r.account.Platforms)-1 {
			if err := r.sleeper.In(ctx, r.cfg.Timing.InterPlatformDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// visitPlatform runs one platform turn in its own tab under its own
// monitor. Panics are turned into errors here so one platform cannot take
// the account down.
func (r *Runner) visitPlatform(ctx context.Context, b browser.Browser, key string, pc platform.Config) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("bot: %s: panic: %v", pc.Name, rec)
		}
	}()

	page, err := b.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("bot: %s: open tab: %w", pc.Name, err)
	}
	defer page.Close()

	opts := []captcha.Option{
		captcha.WithLogger(r.logger),
		captcha.WithPollInterval(r.cfg.Timing.PollInterval),
		captcha.WithResolutionTimeout(r.cfg.Timing.ResolutionTimeout),
		captcha.WithObserver(captcha.ObserverFunc(r.recordSignal)),
	}
	for _, o := range r.observers {
		opts = append(opts, captcha.WithObserver(o))
	}
	mon := captcha.New(page, pc, opts...)
	mon.Start(ctx)
	defer mon.Stop()

	s := &session{
		r:      r,
		key:    key,
		pc:     pc,
		page:   page,
		mon:    mon,
		budget: newBudget(r.cfg.Engagement.MaxActionsPerPlatform),
	}
	r.logger.Info("bot: platform turn", "platform", pc.Name)
	if err := s.run(ctx); err != nil {
		return fmt.Errorf("%s: %w", pc.Name, err)
	}
	r.logger.Info("bot: platform done", "platform", pc.Name, "actions", s.budget.spent)
	return nil
}

func (r *Runner) recordSignal(e captcha.Event) {
	r.record(botevents.Event{
		Platform: e.Platform,
		Kind:     e.Signal.String(),
		URL:      e.URL,
		Detail:   e.Reason,
		At:       e.At,
	})
}

func (r *Runner) record(e botevents.Event) {
	if r.events == nil {
		return
	}
	e.Username = r.account.Username
	r.events.RecordAsync(e)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
