// Package registry reads the account and target files owned by the admin
// layer. The files are rewritten whole by their owner; this package only
// reads them.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ErrUnknownAccount is returned when a username has no entry.
var ErrUnknownAccount = errors.New("registry: unknown account")

// Port accepts a JSON number or a numeric string.
type Port int

func (p *Port) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("registry: port %s: %w", b, err)
	}
	*p = Port(n)
	return nil
}

// Account is one bot identity.
type Account struct {
	Username      string   `json:"username"`
	Password      string   `json:"password"`
	Address       string   `json:"address,omitempty"`
	Port          Port     `json:"port,omitempty"`
	ProxyUsername string   `json:"proxyUsername,omitempty"`
	ProxyPassword string   `json:"proxyPassword,omitempty"`
	Platforms     []string `json:"platforms"`
}

// HasProxy reports whether an upstream proxy is configured.
func (a Account) HasProxy() bool { return a.Address != "" }

// Target is a company or profile page to visit.
type Target struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Platform string `json:"platform"`
}

// Snapshot is one consistent read of both files.
type Snapshot struct {
	accounts map[string]Account
	targets  []Target
}

// Load reads the accounts file and, when targetsPath is not empty, the
// targets file. A missing targets file yields no targets.
func Load(accountsPath, targetsPath string) (*Snapshot, error) {
	var accounts []Account
	if err := readJSON(accountsPath, &accounts); err != nil {
		return nil, err
	}
	var targets []Target
	if targetsPath != "" {
		if err := readJSON(targetsPath, &targets); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return NewSnapshot(accounts, targets)
}

// NewSnapshot indexes accounts by username. Duplicate or empty usernames
// are rejected.
func NewSnapshot(accounts []Account, targets []Target) (*Snapshot, error) {
	s := &Snapshot{accounts: make(map[string]Account, len(accounts)), targets: targets}
	for _, a := range accounts {
		if a.Username == "" {
			return nil, errors.New("registry: account without username")
		}
		if _, dup := s.accounts[a.Username]; dup {
			return nil, fmt.Errorf("registry: duplicate account %q", a.Username)
		}
		s.accounts[a.Username] = a
	}
	return s, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("registry: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("registry: parse %s: %w", path, err)
	}
	return nil
}

// Account returns the entry for username.
func (s *Snapshot) Account(username string) (Account, error) {
	a, ok := s.accounts[username]
	if !ok {
		return Account{}, fmt.Errorf("%w: %q", ErrUnknownAccount, username)
	}
	return a, nil
}

// Usernames returns all usernames, sorted.
func (s *Snapshot) Usernames() []string {
	out := make([]string, 0, len(s.accounts))
	for u := range s.accounts {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Targets returns the targets for platform. Targets without a platform
// apply to every platform.
func (s *Snapshot) Targets(platform string) []Target {
	var out []Target
	for _, t := range s.targets {
		if t.Platform == "" || strings.EqualFold(t.Platform, platform) {
			out = append(out, t)
		}
	}
	return out
}

// AllTargets returns every target.
func (s *Snapshot) AllTargets() []Target {
	return append([]Target(nil), s.targets...)
}
