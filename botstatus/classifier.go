// Package botstatus derives a bot's operational status from its append-only
// log. There is no health channel to the bot process: the classifier looks
// at the last timestamped line and at how the file size moved since the
// previous query, remembered in a Cache.
package botstatus

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/socialbot/botlog"
)

// Status values that are not keywords.
const (
	StatusNoLog      = "no log"
	StatusFailed     = "failed"
	StatusStarting   = "starting"
	StatusActive     = "active"
	StatusProcessing = "processing"
)

// DefaultStallThreshold is how long an unchanged log must sit idle before a
// keyword on its last line is trusted as terminal.
const DefaultStallThreshold = 30 * time.Second

// Status is the classification of one log file.
type Status struct {
	Status        string     `json:"status"`
	PostCount     int        `json:"postCount"`
	LineCount     int        `json:"lineCount"`
	LastLine      string     `json:"lastLine,omitempty"`
	LastActivity  time.Time  `json:"lastActivity,omitzero"`
	InactiveSince *time.Time `json:"inactiveSince,omitempty"`
}

type checkpoint struct {
	size          int64
	mtime         time.Time
	inactiveSince *time.Time
}

// Cache remembers, per log path, the size and mtime seen by the previous
// query and when the bot was first seen inactive. It lives as long as the
// process answering status queries; losing it only costs one query of
// hysteresis.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*checkpoint
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*checkpoint)}
}

// Forget drops the checkpoint for path.
func (c *Cache) Forget(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// Classifier answers status queries.
type Classifier struct {
	cache    *Cache
	stall    time.Duration
	now      func() time.Time
	keywords []string
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithStallThreshold overrides the 30s stall threshold.
func WithStallThreshold(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.stall = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option { return func(c *Classifier) { c.now = now } }

// WithKeywords replaces the keyword taxonomy.
func WithKeywords(k []string) Option { return func(c *Classifier) { c.keywords = k } }

// NewClassifier creates a classifier over cache. A nil cache gets a fresh
// one.
func NewClassifier(cache *Cache, opts ...Option) *Classifier {
	if cache == nil {
		cache = NewCache()
	}
	c := &Classifier{
		cache:    cache,
		stall:    DefaultStallThreshold,
		now:      time.Now,
		keywords: Keywords,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type scan struct {
	lines    int // timestamped
	nonEmpty int
	posts    int
	last     string
	lastTS   time.Time
}

func scanLog(path string) (scan, error) {
	var s scan
	f, err := os.Open(path)
	if err != nil {
		return s, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.nonEmpty++
		ts, _, ok := botlog.ParseLine(line)
		if !ok {
			continue
		}
		s.lines++
		s.last = line
		s.lastTS = ts
		if strings.Contains(line, PostMarker) {
			s.posts++
		}
	}
	return s, sc.Err()
}

// Status classifies the log at path and advances its checkpoint.
func (c *Classifier) Status(path string) Status {
	info, err := os.Stat(path)
	if err != nil {
		c.cache.Forget(path)
		return Status{Status: StatusNoLog}
	}
	s, err := scanLog(path)
	if err != nil && !errors.Is(err, bufio.ErrTooLong) {
		if errors.Is(err, fs.ErrNotExist) {
			c.cache.Forget(path)
		}
		return Status{Status: StatusNoLog}
	}

	out := Status{
		PostCount:    s.posts,
		LineCount:    s.lines,
		LastLine:     s.last,
		LastActivity: s.lastTS,
	}

	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()

	cp, seen := c.cache.entries[path]
	if !seen {
		// First observation is the baseline: nothing moved yet.
		cp = &checkpoint{size: info.Size(), mtime: info.ModTime()}
		c.cache.entries[path] = cp
	}
	now := c.now()
	size := info.Size()
	keyword := MatchKeyword(s.last, c.keywords)
	markInactive := func() {
		if cp.inactiveSince == nil {
			t := now
			cp.inactiveSince = &t
		}
	}

	switch {
	case s.nonEmpty == 0:
		out.Status = StatusStarting
		cp.inactiveSince = nil

	case s.lines == 0:
		out.Status = StatusFailed
		markInactive()

	case size == cp.size:
		stalled := now.Sub(info.ModTime()) > c.stall
		if keyword != "" && (stalled || cp.inactiveSince != nil) {
			out.Status = keyword
			markInactive()
		} else {
			out.Status = StatusProcessing
		}

	case size > cp.size:
		if keyword != "" {
			out.Status = keyword
			markInactive()
		} else {
			out.Status = StatusActive
			cp.inactiveSince = nil
		}

	default: // shrank: rotated or truncated
		switch {
		case strings.Contains(s.last, StartMarker):
			out.Status = StatusStarting
			cp.inactiveSince = nil
		case keyword != "":
			out.Status = keyword
			markInactive()
		default:
			out.Status = StatusProcessing
		}
	}

	cp.size = size
	cp.mtime = info.ModTime()
	if cp.inactiveSince != nil {
		t := *cp.inactiveSince
		out.InactiveSince = &t
	}
	return out
}
