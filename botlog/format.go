// Package botlog writes the per-account bot log. Every record becomes one
// line:
//
//	[02-Jan-2006:03:04:05:PM] message k=v
//	[02-Jan-2006:03:04:05:PM] ERROR: message k=v
//
// The status classifier parses these lines back with LineRE, so the layout
// and the regular expression live side by side here.
package botlog

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// TimeLayout is the bracketed timestamp layout.
const TimeLayout = "02-Jan-2006:03:04:05:PM"

// ErrorPrefix marks error-level lines.
const ErrorPrefix = "ERROR: "

// LineRE matches one log line: group 1 is the timestamp, group 2 the rest.
var LineRE = regexp.MustCompile(`^\[(\d{2}-[A-Za-z]{3}-\d{4}:\d{2}:\d{2}:\d{2}:(?:AM|PM))\] ?(.*)$`)

// FormatLine renders one line without the trailing newline.
func FormatLine(t time.Time, msg string, isErr bool) string {
	var b strings.Builder
	b.Grow(len(TimeLayout) + len(msg) + 12)
	b.WriteByte('[')
	b.WriteString(t.Format(TimeLayout))
	b.WriteString("] ")
	if isErr {
		b.WriteString(ErrorPrefix)
	}
	b.WriteString(msg)
	return b.String()
}

// ParseLine splits a line into its timestamp and message. ok is false for
// lines that do not carry a bracketed timestamp, such as a half-written
// final line or output from a crashed child.
func ParseLine(line string) (ts time.Time, msg string, ok bool) {
	m := LineRE.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return time.Time{}, "", false
	}
	t, err := time.ParseInLocation(TimeLayout, m[1], time.Local)
	if err != nil {
		return time.Time{}, "", false
	}
	return t, m[2], true
}

// Path returns the log file of username under dir.
func Path(dir, username string) string {
	return filepath.Join(dir, username+".log")
}

// OpenFile opens the log for appending, creating dir if needed.
func OpenFile(dir, username string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(Path(dir, username), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// Append writes one line directly. Processes that do not own a Handler, such
// as the supervisor recording a crash, use it.
func Append(path string, t time.Time, msg string, isErr bool) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(FormatLine(t, msg, isErr) + "\n")
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	return werr
}
