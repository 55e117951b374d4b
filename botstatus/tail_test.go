package botstatus_test

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hazyhaar/socialbot/botstatus"
)

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bob.log")
	var lines []string
	for i := 0; i < 5000; i++ {
		lines = append(lines, fmt.Sprintf("[01-Jan-2025:10:00:00:AM] line %04d %s", i, strings.Repeat("x", 40)))
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := botstatus.Tail(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, lines[len(lines)-3:]) {
		t.Fatalf("Tail 3: %q", got)
	}

	got, err = botstatus.Tail(path, 10000)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5000 || got[0] != lines[0] {
		t.Fatalf("Tail all: %d lines, first %q", len(got), got[0])
	}
}

func TestTail_ShortAndMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.log")
	if err := os.WriteFile(path, []byte("only\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := botstatus.Tail(path, 50)
	if err != nil || !reflect.DeepEqual(got, []string{"only"}) {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := botstatus.Tail(filepath.Join(t.TempDir(), "none.log"), 5); !os.IsNotExist(err) {
		t.Fatalf("missing: %v", err)
	}
}
