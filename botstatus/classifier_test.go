package botstatus_test

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/socialbot/botstatus"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func setup(t *testing.T) (*botstatus.Classifier, *clock, string) {
	t.Helper()
	clk := &clock{t: time.Now()}
	c := botstatus.NewClassifier(botstatus.NewCache(), botstatus.WithClock(clk.Now))
	return c, clk, filepath.Join(t.TempDir(), "alice.log")
}

// write replaces the log content and sets its mtime to age before now.
func write(t *testing.T, path string, clk *clock, age time.Duration, lines ...string) {
	t.Helper()
	data := strings.Join(lines, "\n")
	if len(lines) > 0 {
		data += "\n"
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	touch(t, path, clk.Now().Add(-age))
}

func appendLines(t *testing.T, path string, clk *clock, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()
	touch(t, path, clk.Now())
}

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestStatus_MissingLog(t *testing.T) {
	c, _, path := setup(t)
	got := c.Status(path)
	if got.Status != "no log" || got.PostCount != 0 {
		t.Fatalf("got %+v", got)
	}
}

func TestStatus_NoTimestampedLines(t *testing.T) {
	c, clk, path := setup(t)
	write(t, path, clk, time.Minute, "panic: runtime error: nil map", "goroutine 1 [running]:")
	if got := c.Status(path); got.Status != "failed" {
		t.Fatalf("status: got %q, want failed", got.Status)
	}
}

func TestStatus_EmptyLog(t *testing.T) {
	c, clk, path := setup(t)
	write(t, path, clk, 0)
	if got := c.Status(path); got.Status != "starting" {
		t.Fatalf("status: got %q, want starting", got.Status)
	}
}

func TestStatus_StallWithoutKeywordIsProcessing(t *testing.T) {
	c, clk, path := setup(t)
	write(t, path, clk, 2*time.Minute, "[01-Jan-2025:10:00:00:AM] Starting bot: alice")

	for i := 0; i < 3; i++ {
		got := c.Status(path)
		if got.Status != "processing" {
			t.Fatalf("call %d: status %q, want processing", i, got.Status)
		}
		if got.InactiveSince != nil {
			t.Fatalf("call %d: inactiveSince set without a keyword", i)
		}
		clk.Advance(time.Minute)
	}
}

func TestStatus_StalledSessionEnded(t *testing.T) {
	c, clk, path := setup(t)
	write(t, path, clk, 2*time.Minute,
		"[01-Jan-2025:10:00:00:AM] Starting bot: alice",
		"[01-Jan-2025:10:05:00:AM] ERROR: Session ended",
	)

	first := c.Status(path)
	if first.Status != "Session ended" {
		t.Fatalf("status: got %q, want Session ended", first.Status)
	}
	if first.InactiveSince == nil {
		t.Fatal("inactiveSince not set")
	}

	clk.Advance(10 * time.Minute)
	second := c.Status(path)
	if second.Status != "Session ended" {
		t.Fatalf("second status: %q", second.Status)
	}
	if second.InactiveSince == nil || !second.InactiveSince.Equal(*first.InactiveSince) {
		t.Fatalf("inactiveSince moved: %v -> %v", first.InactiveSince, second.InactiveSince)
	}
}

func TestStatus_KeywordNotYetStalled(t *testing.T) {
	c, clk, path := setup(t)
	write(t, path, clk, 5*time.Second, "[01-Jan-2025:10:05:00:AM] ERROR: Session ended")
	if got := c.Status(path); got.Status != "processing" {
		t.Fatalf("status: got %q, want processing", got.Status)
	}
}

func TestStatus_GrowthIsActiveAndClearsInactive(t *testing.T) {
	c, clk, path := setup(t)
	write(t, path, clk, 2*time.Minute,
		"[01-Jan-2025:10:00:00:AM] Starting bot: alice",
		"[01-Jan-2025:10:01:00:AM] Captcha/Code verification detected, paused",
	)
	if got := c.Status(path); got.Status != "Captcha/Code" || got.InactiveSince == nil {
		t.Fatalf("before growth: %+v", got)
	}

	clk.Advance(time.Minute)
	appendLines(t, path, clk, "[01-Jan-2025:10:03:00:AM] Liked post platform=linkedin")
	got := c.Status(path)
	if got.Status != "active" {
		t.Fatalf("status: got %q, want active", got.Status)
	}
	if got.InactiveSince != nil {
		t.Fatalf("inactiveSince not cleared: %v", got.InactiveSince)
	}
	if got.PostCount != 1 || got.LineCount != 3 {
		t.Errorf("counts: posts %d lines %d", got.PostCount, got.LineCount)
	}
}

func TestStatus_GrowthWithKeyword(t *testing.T) {
	c, clk, path := setup(t)
	write(t, path, clk, time.Minute, "[01-Jan-2025:10:00:00:AM] Starting bot: alice")
	c.Status(path)

	appendLines(t, path, clk, "[01-Jan-2025:10:00:09:AM] ERROR: IP Config verification failed")
	got := c.Status(path)
	if got.Status != "IP Config" || got.InactiveSince == nil {
		t.Fatalf("got %+v", got)
	}
}

func TestStatus_ShrinkWithStartMarker(t *testing.T) {
	c, clk, path := setup(t)
	write(t, path, clk, 2*time.Minute,
		"[01-Jan-2025:10:00:00:AM] Starting bot: alice",
		"[01-Jan-2025:10:00:05:AM] Liked post",
		"[01-Jan-2025:10:09:00:AM] ERROR: crashed after 5 restarts",
	)
	if got := c.Status(path); got.Status != "crashed after" {
		t.Fatalf("status: %q", got.Status)
	}

	write(t, path, clk, 0, "[01-Jan-2025:11:00:00:AM] Starting bot: alice")
	got := c.Status(path)
	if got.Status != "starting" || got.InactiveSince != nil {
		t.Fatalf("after truncate: %+v", got)
	}
}

func TestStatus_Idempotent(t *testing.T) {
	logs := [][]string{
		{"[01-Jan-2025:10:00:00:AM] Starting bot: alice"},
		{"[01-Jan-2025:10:00:00:AM] Starting bot: alice", "[01-Jan-2025:10:00:00:AM] ERROR: Session ended"},
		{"[01-Jan-2025:10:00:00:AM] Manually stopped"},
		{"garbage"},
	}
	for _, ages := range []time.Duration{time.Second, time.Hour} {
		for _, lines := range logs {
			c, clk, path := setup(t)
			write(t, path, clk, ages, lines...)
			a := c.Status(path)
			b := c.Status(path)
			if !reflect.DeepEqual(a, b) {
				t.Errorf("age %v, log %q: %+v then %+v", ages, lines, a, b)
			}
		}
	}
}

func TestMatchKeyword_SpecificBeforeGeneric(t *testing.T) {
	cases := map[string]string{
		"[t] ERROR: Session ended":                    "Session ended",
		"[t] ERROR: Captcha/Code resolution timed out": "Captcha/Code",
		"[t] Manually stopped":                        "Manually stopped",
		"[t] ERROR: something broke":                  "ERROR",
		"[t] request failed: timeout of 30000ms":      "timeout of",
		"[t] Liked post":                              "",
	}
	for line, want := range cases {
		if got := botstatus.MatchKeyword(line, botstatus.Keywords); got != want {
			t.Errorf("MatchKeyword(%q): got %q, want %q", line, got, want)
		}
	}
}
