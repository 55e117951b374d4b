// Package platform is the static registry of target sites. Each entry names
// the login and home URLs, the login form selectors, the verification URL
// patterns used by the captcha monitor and the selectors engagement actions
// need. Entries are immutable once the registry is built.
package platform

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// ErrUnknownPlatform is returned when an account references a platform key
// that has no registry entry.
var ErrUnknownPlatform = errors.New("platform: unknown platform")

// Pattern is one verification URL pattern. It matches a URL when the raw
// text is a substring of it or, if the raw text compiles as a regular
// expression, when the case-insensitive expression matches.
type Pattern struct {
	raw string
	re  *regexp.Regexp
}

// CompilePattern builds a Pattern. Text that is not a valid regular
// expression still works as a plain substring.
func CompilePattern(s string) Pattern {
	p := Pattern{raw: s}
	if re, err := regexp.Compile("(?i)" + s); err == nil {
		p.re = re
	}
	return p
}

// Match reports whether u matches the pattern.
func (p Pattern) Match(u string) bool {
	if p.raw == "" {
		return false
	}
	if strings.Contains(u, p.raw) {
		return true
	}
	return p.re != nil && p.re.MatchString(u)
}

func (p Pattern) String() string { return p.raw }

// IsVerification reports whether u matches any of the patterns.
func IsVerification(u string, patterns []Pattern) bool {
	for _, p := range patterns {
		if p.Match(u) {
			return true
		}
	}
	return false
}

// Config identifies one target site.
type Config struct {
	Name                 string `yaml:"name"`
	LoginURL             string `yaml:"login_url"`
	HomeURL              string `yaml:"home_url"`
	UsernameSelector     string `yaml:"username_selector"`
	PasswordSelector     string `yaml:"password_selector"`
	SigninButtonSelector string `yaml:"signin_button_selector"`

	// VerificationPatterns are substrings or regular expressions matched
	// against the current URL. Empty disables captcha monitoring.
	VerificationPatterns []string `yaml:"verification_patterns"`

	// TextMarkers and ElementSelectors are platform-specific content
	// indicators checked in addition to the generic captcha markers.
	TextMarkers      []string `yaml:"text_markers"`
	ElementSelectors []string `yaml:"element_selectors"`

	PostLikeSelector     string `yaml:"post_like_selector"`
	ReactionMenuSelector string `yaml:"reaction_menu_selector"`
	FollowSelector       string `yaml:"follow_selector"`

	// SearchURL is a fmt template taking the query-escaped entity name.
	SearchURL            string `yaml:"search_url"`
	SearchResultSelector string `yaml:"search_result_selector"`

	// ExtraHomeNavigate forces a navigation to HomeURL after login, for
	// sites that land somewhere else after the form submit.
	ExtraHomeNavigate bool `yaml:"extra_home_navigate"`

	patterns []Pattern
}

// Patterns returns the compiled verification patterns. Entries built
// outside a Registry are compiled on demand.
func (c Config) Patterns() []Pattern {
	if c.patterns == nil && len(c.VerificationPatterns) > 0 {
		c.compile()
	}
	return c.patterns
}

// MonitoringEnabled is false when the platform has no verification
// patterns; the captcha monitor then never pauses.
func (c Config) MonitoringEnabled() bool { return len(c.Patterns()) > 0 }

// SearchURLFor renders the search URL for an entity name. It returns the
// empty string when the platform has no search template.
func (c Config) SearchURLFor(name string) string {
	if c.SearchURL == "" {
		return ""
	}
	return fmt.Sprintf(c.SearchURL, url.QueryEscape(name))
}

func (c *Config) compile() {
	c.patterns = nil
	for _, s := range c.VerificationPatterns {
		if strings.TrimSpace(s) == "" {
			continue
		}
		c.patterns = append(c.patterns, CompilePattern(s))
	}
}

func (c Config) validate(key string) error {
	switch {
	case c.LoginURL == "":
		return fmt.Errorf("platform %s: login_url is required", key)
	case c.HomeURL == "":
		return fmt.Errorf("platform %s: home_url is required", key)
	}
	return nil
}

// Registry maps platform keys to their configuration.
type Registry struct {
	entries map[string]Config
}

// NewRegistry validates and compiles the given entries. Keys are
// case-insensitive.
func NewRegistry(entries map[string]Config) (*Registry, error) {
	r := &Registry{entries: make(map[string]Config, len(entries))}
	for key, c := range entries {
		k := strings.ToLower(strings.TrimSpace(key))
		if err := c.validate(k); err != nil {
			return nil, err
		}
		if c.Name == "" {
			c.Name = k
		}
		c.compile()
		r.entries[k] = c
	}
	return r, nil
}

// Lookup returns the entry for key.
func (r *Registry) Lookup(key string) (Config, error) {
	c, ok := r.entries[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, key)
	}
	return c, nil
}

// Require checks that every key has an entry. The automation loop calls it
// before launching a browser so a misconfigured account fails fast.
func (r *Registry) Require(keys []string) error {
	var missing []string
	for _, k := range keys {
		if _, err := r.Lookup(k); err != nil {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPlatform, strings.Join(missing, ", "))
	}
	return nil
}

// Keys returns the registered platform keys, sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
