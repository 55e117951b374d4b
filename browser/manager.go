package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Config configures the Rod launcher.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headful runs a visible Chrome on an Xvfb display so an operator can
	// solve a verification screen by hand over VNC.
	Headful bool

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager launches Chrome instances through Rod. One Manager serves one
// bot process; each Launch returns an independent browser.
type Manager struct {
	cfg  Config
	mu   sync.Mutex
	xvfb *exec.Cmd
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Launch starts Chrome (or connects to a remote instance) with the given
// proxy and profile, and returns the browser handle.
func (m *Manager) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	log := m.cfg.Logger

	if m.cfg.Headful {
		if err := m.ensureDisplay(ctx); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	var (
		wsURL string
		lnch  *launcher.Launcher
	)
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx)
		if m.cfg.Headful {
			l = l.Headless(false).Env("DISPLAY="+m.cfg.XvfbDisplay)
		} else {
			l = l.Headless(true)
		}
		if opts.ProfileDir != "" {
			l = l.UserDataDir(opts.ProfileDir)
		}
		if opts.Proxy != nil && opts.Proxy.Address != "" {
			l = l.Proxy(proxyHost(opts.Proxy))
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headful", m.cfg.Headful)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if lnch != nil {
			lnch.Cleanup()
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	rb := &rodBrowser{
		browser: b,
		lnch:    lnch,
		ctx:     ctx,
		blocked: newBlockList(m.cfg.ResourceBlocking),
		logger:  log,
	}

	if p := opts.Proxy; p != nil && p.Username != "" {
		// Fetch-domain auth interception and request hijacking both pause
		// requests; running the two together stalls navigation.
		rb.blocked = nil
		wait := b.HandleAuth(p.Username, p.Password)
		go func() {
			if err := wait(); err != nil {
				log.Warn("browser: proxy auth handler", "error", err)
			}
		}()
	}

	return rb, nil
}

// Close stops the Xvfb display if one was started.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopDisplay()
	return nil
}

func proxyHost(p *Proxy) string {
	if p.Port == 0 {
		return p.Address
	}
	return p.Address + ":" + strconv.Itoa(p.Port)
}

// rodBrowser implements Browser.
type rodBrowser struct {
	browser *rod.Browser
	lnch    *launcher.Launcher
	ctx     context.Context
	blocked blockList
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (b *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	return openTab(ctx, b)
}

func (b *rodBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
	}
	return err
}
