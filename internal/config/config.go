// Package config loads the YAML configuration shared by the bot and admin
// processes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/socialbot/human"
	"github.com/hazyhaar/socialbot/platform"
)

// Captcha timeout policies.
const (
	OnTimeoutStop = "stop"
	OnTimeoutWait = "wait"
)

// Config is the whole file.
type Config struct {
	Browser    BrowserConfig              `yaml:"browser"`
	Platforms  map[string]platform.Config `yaml:"platforms"`
	Timing     TimingConfig               `yaml:"timing"`
	Engagement EngagementConfig           `yaml:"engagement"`
	Proxy      ProxyConfig                `yaml:"proxy"`
	Paths      PathsConfig                `yaml:"paths"`
	Admin      AdminConfig                `yaml:"admin"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	RemoteURL        string   `yaml:"remote_url"`
	Headful          bool     `yaml:"headful"`
	XvfbDisplay      string   `yaml:"xvfb_display"`
	ProfilesDir      string   `yaml:"profiles_dir"`
	ResourceBlocking []string `yaml:"resource_blocking"`
}

// TimingConfig holds every delay of the loop and the monitor.
type TimingConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	ResolutionTimeout  time.Duration `yaml:"resolution_timeout"`
	OnCaptchaTimeout   string        `yaml:"on_captcha_timeout"`
	ReadDelay          human.Range   `yaml:"read_delay"`
	LikeReadDelay      human.Range   `yaml:"like_read_delay"`
	LikeCooldown       human.Range   `yaml:"like_cooldown"`
	FailureBackoff     time.Duration `yaml:"failure_backoff"`
	InterPlatformDelay human.Range   `yaml:"inter_platform_delay"`
	Hibernation        time.Duration `yaml:"hibernation"`
	HibernationJitter  time.Duration `yaml:"hibernation_jitter"`
	StallThreshold     time.Duration `yaml:"stall_threshold"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
}

// EngagementConfig bounds the randomised actions of one platform visit.
// FollowProbability, TypoProbability and MaxActionsPerPlatform keep an
// explicit zero from the file: 0 turns follows or typos off, and a zero
// action budget means unlimited. The other fields left at zero take their
// defaults.
type EngagementConfig struct {
	Bursts                [2]int  `yaml:"bursts"`
	ScrollsPerBurst       [2]int  `yaml:"scrolls_per_burst"`
	ScrollBackProbability float64 `yaml:"scroll_back_probability"`
	MaxLikes              int     `yaml:"max_likes"`
	FollowProbability     float64 `yaml:"follow_probability"`
	TypoProbability       float64 `yaml:"typo_probability"`
	MaxActionsPerPlatform int     `yaml:"max_actions_per_platform"`
	MaxTargetsPerPass     int     `yaml:"max_targets_per_pass"`
}

// ProxyConfig controls the upstream proxy check.
type ProxyConfig struct {
	EchoURL  string        `yaml:"echo_url"`
	Attempts int           `yaml:"attempts"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PathsConfig locates the shared files.
type PathsConfig struct {
	Users     string `yaml:"users"`
	Companies string `yaml:"companies"`
	LogDir    string `yaml:"log_dir"`
	EventsDB  string `yaml:"events_db"`
}

// AdminConfig controls the admin process and its supervisor.
type AdminConfig struct {
	Listen            string        `yaml:"listen"`
	BotBinary         string        `yaml:"bot_binary"`
	BotArgs           []string      `yaml:"bot_args"`
	RestartBackoff    time.Duration `yaml:"restart_backoff"`
	MaxRestartBackoff time.Duration `yaml:"max_restart_backoff"`
	MaxRestarts       int           `yaml:"max_restarts"`
	TailLines         int           `yaml:"tail_lines"`
}

func (c *Config) applyDefaults() {
	if c.Browser.ProfilesDir == "" {
		c.Browser.ProfilesDir = "data/profiles"
	}

	t := &c.Timing
	if t.PollInterval <= 0 {
		t.PollInterval = 2 * time.Second
	}
	if t.ResolutionTimeout <= 0 {
		t.ResolutionTimeout = 5 * time.Minute
	}
	if t.OnCaptchaTimeout == "" {
		t.OnCaptchaTimeout = OnTimeoutStop
	}
	defaultRange(&t.ReadDelay, 5*time.Second, 15*time.Second)
	defaultRange(&t.LikeReadDelay, 5*time.Second, 12*time.Second)
	defaultRange(&t.LikeCooldown, 3*time.Second, 8*time.Second)
	if t.FailureBackoff <= 0 {
		t.FailureBackoff = 10 * time.Second
	}
	defaultRange(&t.InterPlatformDelay, 30*time.Second, 90*time.Second)
	if t.Hibernation <= 0 {
		t.Hibernation = 2 * time.Hour
	}
	if t.HibernationJitter <= 0 {
		t.HibernationJitter = 30 * time.Minute
	}
	if t.StallThreshold <= 0 {
		t.StallThreshold = 30 * time.Second
	}
	if t.HeartbeatInterval <= 0 {
		t.HeartbeatInterval = 15 * time.Second
	}

	e := &c.Engagement
	if e.Bursts == [2]int{} {
		e.Bursts = [2]int{3, 6}
	}
	if e.ScrollsPerBurst == [2]int{} {
		e.ScrollsPerBurst = [2]int{1, 3}
	}
	if e.ScrollBackProbability <= 0 {
		e.ScrollBackProbability = 0.5
	}
	if e.MaxLikes <= 0 {
		e.MaxLikes = 3
	}
	if e.MaxTargetsPerPass <= 0 {
		e.MaxTargetsPerPass = 3
	}

	if c.Proxy.EchoURL == "" {
		c.Proxy.EchoURL = "https://api.ipify.org?format=json"
	}
	if c.Proxy.Attempts <= 0 {
		c.Proxy.Attempts = 3
	}
	if c.Proxy.Timeout <= 0 {
		c.Proxy.Timeout = 15 * time.Second
	}

	if c.Paths.Users == "" {
		c.Paths.Users = "data/users.json"
	}
	if c.Paths.Companies == "" {
		c.Paths.Companies = "data/companies.json"
	}
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = "logs"
	}
	if c.Paths.EventsDB == "" {
		c.Paths.EventsDB = "data/events.db"
	}

	if c.Admin.Listen == "" {
		c.Admin.Listen = "127.0.0.1:8090"
	}
	if c.Admin.BotBinary == "" {
		c.Admin.BotBinary = "socialbot"
	}
	if c.Admin.RestartBackoff <= 0 {
		c.Admin.RestartBackoff = time.Second
	}
	if c.Admin.MaxRestartBackoff <= 0 {
		c.Admin.MaxRestartBackoff = time.Minute
	}
	if c.Admin.MaxRestarts <= 0 {
		c.Admin.MaxRestarts = 5
	}
	if c.Admin.TailLines <= 0 {
		c.Admin.TailLines = 200
	}
}

func defaultRange(r *human.Range, lo, hi time.Duration) {
	if r.Min <= 0 && r.Max <= 0 {
		r.Min, r.Max = lo, hi
	}
}

func (c *Config) validate() error {
	switch c.Timing.OnCaptchaTimeout {
	case OnTimeoutStop, OnTimeoutWait:
	default:
		return fmt.Errorf("config: timing.on_captcha_timeout: %q is not %q or %q",
			c.Timing.OnCaptchaTimeout, OnTimeoutStop, OnTimeoutWait)
	}
	for _, p := range []float64{c.Engagement.ScrollBackProbability, c.Engagement.FollowProbability, c.Engagement.TypoProbability} {
		if p < 0 || p > 1 {
			return fmt.Errorf("config: engagement probability %v outside [0, 1]", p)
		}
	}
	return nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{
		Engagement: EngagementConfig{
			FollowProbability:     0.2,
			TypoProbability:       0.04,
			MaxActionsPerPlatform: 10,
		},
	}
	c.applyDefaults()
	return c
}

// Parse decodes YAML over Default, so keys absent from the file keep their
// defaults and explicit values, zero included, win.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile reads a YAML config file. An empty path returns Default.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Registry returns the built-in platforms overridden by the configured ones.
func (c *Config) Registry() (*platform.Registry, error) {
	if len(c.Platforms) == 0 {
		return platform.Builtin(), nil
	}
	over, err := platform.NewRegistry(c.Platforms)
	if err != nil {
		return nil, err
	}
	return platform.Merge(platform.Builtin(), over), nil
}

// BurstPolicy maps the engagement section to scroll bursts.
func (c *Config) BurstPolicy() human.BurstPolicy {
	p := human.DefaultBurstPolicy
	p.Bursts = c.Engagement.Bursts
	p.ScrollsPerBurst = c.Engagement.ScrollsPerBurst
	p.ScrollBackProb = c.Engagement.ScrollBackProbability
	p.ReadDelay = c.Timing.ReadDelay
	return p
}
