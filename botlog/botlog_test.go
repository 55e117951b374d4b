package botlog_test

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/socialbot/botlog"
)

var fixed = time.Date(2025, 1, 1, 22, 4, 5, 0, time.Local)

func newLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(botlog.NewHandler(buf, &botlog.Options{
		Level: slog.LevelDebug,
		Now:   func() time.Time { return fixed },
	}))
}

func TestHandler_InfoLine(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf).Info("Starting bot: alice")
	want := "[01-Jan-2025:10:04:05:PM] Starting bot: alice\n"
	if got := buf.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestHandler_ErrorLine(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf).Error("Session ended", "error", errors.New("browser closed"))
	want := `[01-Jan-2025:10:04:05:PM] ERROR: Session ended error="browser closed"` + "\n"
	if got := buf.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf).With("platform", "linkedin").WithGroup("post")
	l.Info("Liked post", "n", 3, slog.Group("cfg", "dry", true))
	want := "[01-Jan-2025:10:04:05:PM] Liked post platform=linkedin post.n=3 post.cfg.dry=true\n"
	if got := buf.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestHandler_SingleLine(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf).Warn("multi\nline message")
	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Fatalf("newlines: got %d in %q", got, buf.String())
	}
}

func TestHandler_Level(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(botlog.NewHandler(&buf, nil))
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug written at default level: %q", buf.String())
	}
}

func TestParseLine_RoundTripsFormat(t *testing.T) {
	line := botlog.FormatLine(fixed, "Session ended", true)
	ts, msg, ok := botlog.ParseLine(line)
	if !ok {
		t.Fatalf("ParseLine(%q) not ok", line)
	}
	if !ts.Equal(fixed) {
		t.Errorf("ts: got %v, want %v", ts, fixed)
	}
	if msg != "ERROR: Session ended" {
		t.Errorf("msg: got %q", msg)
	}
}

func TestParseLine_Rejects(t *testing.T) {
	for _, line := range []string{
		"",
		"panic: runtime error",
		"[2025-01-01T10:00:00Z] iso stamp",
		"[01-Jan-2025:10:00:0",
	} {
		if _, _, ok := botlog.ParseLine(line); ok {
			t.Errorf("ParseLine(%q) accepted", line)
		}
	}
}

func TestTee(t *testing.T) {
	var a, b bytes.Buffer
	l := slog.New(botlog.Tee(
		botlog.NewHandler(&a, &botlog.Options{Now: func() time.Time { return fixed }}),
		slog.NewJSONHandler(&b, nil),
	))
	l.Info("Stopped")
	if !strings.Contains(a.String(), "] Stopped") {
		t.Errorf("bot log: %q", a.String())
	}
	if !strings.Contains(b.String(), `"msg":"Stopped"`) {
		t.Errorf("json log: %q", b.String())
	}
}

func TestAppend(t *testing.T) {
	dir := t.TempDir()
	path := botlog.Path(dir, "alice")
	if err := botlog.Append(path, fixed, "Manually stopped", false); err != nil {
		t.Fatal(err)
	}
	if err := botlog.Append(path, fixed, "crashed after 5 restarts", true); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "alice.log"))
	if err != nil {
		t.Fatal(err)
	}
	want := "[01-Jan-2025:10:04:05:PM] Manually stopped\n[01-Jan-2025:10:04:05:PM] ERROR: crashed after 5 restarts\n"
	if string(data) != want {
		t.Fatalf("got %q, want %q", data, want)
	}
}
