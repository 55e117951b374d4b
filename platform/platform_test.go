package platform

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestIsVerification_Substring(t *testing.T) {
	ps := []Pattern{CompilePattern("checkpoint/challenge/")}
	cases := []struct {
		url  string
		want bool
	}{
		{"https://www.linkedin.com/checkpoint/challenge/AgE123", true},
		{"https://www.linkedin.com/feed/", false},
		{"https://www.linkedin.com/CHECKPOINT/CHALLENGE/x", true}, // regex is case-insensitive
	}
	for _, c := range cases {
		if got := IsVerification(c.url, ps); got != c.want {
			t.Errorf("IsVerification(%q): got %v, want %v", c.url, got, c.want)
		}
	}
}

func TestIsVerification_Regex(t *testing.T) {
	ps := []Pattern{CompilePattern(`/challenge/\d+`)}
	if !IsVerification("https://x.test/challenge/42", ps) {
		t.Error("expected regex match")
	}
	if IsVerification("https://x.test/challenge/abc", ps) {
		t.Error("unexpected match")
	}
}

func TestIsVerification_InvalidRegexFallsBackToSubstring(t *testing.T) {
	p := CompilePattern("login[(")
	if p.re != nil {
		t.Fatal("expected pattern not to compile as regex")
	}
	if !p.Match("https://x.test/login[(/") {
		t.Error("expected substring match")
	}
}

func TestIsVerification_OrderIndependent(t *testing.T) {
	a := CompilePattern("checkpoint/")
	b := CompilePattern("two_factor")
	urls := []string{
		"https://x.test/checkpoint/1",
		"https://x.test/two_factor",
		"https://x.test/home",
	}
	for _, u := range urls {
		if IsVerification(u, []Pattern{a, b}) != IsVerification(u, []Pattern{b, a}) {
			t.Errorf("order dependence for %q", u)
		}
	}
}

func TestIsVerification_EmptySet(t *testing.T) {
	if IsVerification("https://x.test/checkpoint/", nil) {
		t.Error("empty pattern set must never match")
	}
	if CompilePattern("").Match("anything") {
		t.Error("empty pattern must never match")
	}
}

func TestRegistry_LookupAndRequire(t *testing.T) {
	r, err := NewRegistry(map[string]Config{
		"LinkedIn": {LoginURL: "https://l.test/login", HomeURL: "https://l.test/feed/"},
	})
	if err != nil {
		t.Fatal(err)
	}

	c, err := r.Lookup("linkedin")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if c.Name != "linkedin" {
		t.Errorf("Name: got %q, want %q", c.Name, "linkedin")
	}
	if c.MonitoringEnabled() {
		t.Error("no patterns configured, monitoring must be disabled")
	}

	if _, err := r.Lookup("myspace"); !errors.Is(err, ErrUnknownPlatform) {
		t.Errorf("Lookup unknown: got %v, want ErrUnknownPlatform", err)
	}
	if err := r.Require([]string{"linkedin", "myspace"}); !errors.Is(err, ErrUnknownPlatform) {
		t.Errorf("Require: got %v, want ErrUnknownPlatform", err)
	}
}

func TestRegistry_RejectsMissingURLs(t *testing.T) {
	_, err := NewRegistry(map[string]Config{"x": {LoginURL: "https://x.test/login"}})
	if err == nil {
		t.Fatal("expected error for missing home_url")
	}
}

func TestBuiltin(t *testing.T) {
	r := Builtin()
	for _, key := range []string{"linkedin", "facebook", "instagram"} {
		c, err := r.Lookup(key)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", key, err)
		}
		if !c.MonitoringEnabled() {
			t.Errorf("%s: expected verification patterns", key)
		}
	}
	ig, _ := r.Lookup("instagram")
	if !ig.ExtraHomeNavigate {
		t.Error("instagram: expected extra_home_navigate")
	}
}

func TestLoadFileAndMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platforms.yaml")
	data := []byte(`
linkedin:
  login_url: https://staging.test/login
  home_url: https://staging.test/feed/
  verification_patterns: ["captcha"]
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	over, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	merged := Merge(Builtin(), over)
	c, err := merged.Lookup("linkedin")
	if err != nil {
		t.Fatal(err)
	}
	if c.HomeURL != "https://staging.test/feed/" {
		t.Errorf("HomeURL: got %q", c.HomeURL)
	}
	if _, err := merged.Lookup("facebook"); err != nil {
		t.Errorf("facebook lost in merge: %v", err)
	}
}

func TestSearchURLFor(t *testing.T) {
	c := Config{SearchURL: "https://x.test/search?q=%s"}
	if got := c.SearchURLFor("Acme Corp"); got != "https://x.test/search?q=Acme+Corp" {
		t.Errorf("SearchURLFor: got %q", got)
	}
	if (Config{}).SearchURLFor("x") != "" {
		t.Error("expected empty URL without template")
	}
}
