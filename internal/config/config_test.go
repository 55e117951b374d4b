package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Timing.PollInterval != 2*time.Second {
		t.Errorf("poll interval: got %v", c.Timing.PollInterval)
	}
	if c.Timing.ResolutionTimeout != 5*time.Minute {
		t.Errorf("resolution timeout: got %v", c.Timing.ResolutionTimeout)
	}
	if c.Timing.ReadDelay.Min != 5*time.Second || c.Timing.ReadDelay.Max != 15*time.Second {
		t.Errorf("read delay: got %+v", c.Timing.ReadDelay)
	}
	if c.Timing.FailureBackoff != 10*time.Second {
		t.Errorf("failure backoff: got %v", c.Timing.FailureBackoff)
	}
	if c.Engagement.Bursts != [2]int{3, 6} || c.Engagement.ScrollsPerBurst != [2]int{1, 3} {
		t.Errorf("bursts: %v %v", c.Engagement.Bursts, c.Engagement.ScrollsPerBurst)
	}
	if c.Proxy.Attempts != 3 {
		t.Errorf("proxy attempts: got %d", c.Proxy.Attempts)
	}
	if c.Timing.OnCaptchaTimeout != OnTimeoutStop {
		t.Errorf("on timeout: got %q", c.Timing.OnCaptchaTimeout)
	}
}

func TestParse(t *testing.T) {
	doc := `
browser:
  headful: true
  xvfb_display: ":99"
  resource_blocking: [images, media]
timing:
  poll_interval: 500ms
  on_captcha_timeout: wait
  like_cooldown: {min: 1s, max: 2s}
  hibernation: 3h
engagement:
  bursts: [1, 2]
  max_likes: 7
platforms:
  mastodon:
    login_url: https://mastodon.test/auth/sign_in
    home_url: https://mastodon.test/home
    verification_patterns: ["/challenge"]
`
	c, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if !c.Browser.Headful || c.Browser.XvfbDisplay != ":99" || len(c.Browser.ResourceBlocking) != 2 {
		t.Errorf("browser: %+v", c.Browser)
	}
	if c.Timing.PollInterval != 500*time.Millisecond || c.Timing.Hibernation != 3*time.Hour {
		t.Errorf("timing: %+v", c.Timing)
	}
	if c.Timing.LikeCooldown.Min != time.Second || c.Timing.LikeCooldown.Max != 2*time.Second {
		t.Errorf("like cooldown: %+v", c.Timing.LikeCooldown)
	}
	if c.Timing.OnCaptchaTimeout != OnTimeoutWait {
		t.Errorf("on timeout: %q", c.Timing.OnCaptchaTimeout)
	}
	if c.Engagement.Bursts != [2]int{1, 2} || c.Engagement.MaxLikes != 7 {
		t.Errorf("engagement: %+v", c.Engagement)
	}
	// untouched fields still defaulted
	if c.Timing.ResolutionTimeout != 5*time.Minute {
		t.Errorf("resolution timeout: %v", c.Timing.ResolutionTimeout)
	}

	reg, err := c.Registry()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Lookup("mastodon"); err != nil {
		t.Errorf("configured platform: %v", err)
	}
	if _, err := reg.Lookup("linkedin"); err != nil {
		t.Errorf("builtin platform kept: %v", err)
	}

	bp := c.BurstPolicy()
	if bp.Bursts != [2]int{1, 2} || bp.ReadDelay != c.Timing.ReadDelay {
		t.Errorf("burst policy: %+v", bp)
	}
}

func TestParse_ExplicitZeroEngagement(t *testing.T) {
	doc := `
engagement:
  follow_probability: 0
  typo_probability: 0
  max_actions_per_platform: 0
`
	c, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	e := c.Engagement
	if e.FollowProbability != 0 || e.TypoProbability != 0 || e.MaxActionsPerPlatform != 0 {
		t.Errorf("explicit zeros overridden: %+v", e)
	}

	c, err = Parse([]byte("engagement:\n  max_likes: 2\n"))
	if err != nil {
		t.Fatal(err)
	}
	e = c.Engagement
	if e.FollowProbability != 0.2 || e.TypoProbability != 0.04 || e.MaxActionsPerPlatform != 10 {
		t.Errorf("absent keys not defaulted: %+v", e)
	}

	if _, err := Parse([]byte("engagement:\n  typo_probability: -0.1\n")); err == nil {
		t.Error("expected error for a negative probability")
	}
}

func TestParse_InvalidPolicy(t *testing.T) {
	if _, err := Parse([]byte("timing:\n  on_captcha_timeout: retry\n")); err == nil {
		t.Fatal("expected error for unknown timeout policy")
	}
}

func TestLoadFile(t *testing.T) {
	c, err := LoadFile("")
	if err != nil || c.Admin.Listen != "127.0.0.1:8090" {
		t.Fatalf("empty path: %+v, %v", c, err)
	}

	path := filepath.Join(t.TempDir(), "socialbot.yaml")
	if err := os.WriteFile(path, []byte("admin:\n  listen: \":9000\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err = LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Admin.Listen != ":9000" || c.Admin.MaxRestartBackoff != time.Minute {
		t.Errorf("admin: %+v", c.Admin)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
