package botevents_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/socialbot/botevents"
)

func TestRecordAndList(t *testing.T) {
	db := botevents.OpenMemory(t)
	s := botevents.NewStore(db, nil)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	for i, kind := range []string{"started", "paused", "resolved"} {
		err := s.Record(ctx, botevents.Event{
			Username: "alice", Platform: "linkedin", Kind: kind,
			At: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Record(ctx, botevents.Event{Username: "bob", Kind: "started"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.List(ctx, "alice", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("List: got %d events, want 2", len(got))
	}
	if got[0].Kind != "resolved" || got[1].Kind != "paused" {
		t.Errorf("order: %s, %s", got[0].Kind, got[1].Kind)
	}
	if got[0].ID == "" || !got[0].At.Equal(base.Add(2*time.Minute)) {
		t.Errorf("event: %+v", got[0])
	}
}

func TestClose_FlushesAsyncRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	db, err := botevents.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s := botevents.NewStore(db, nil)
	for i := 0; i < 5; i++ {
		s.RecordAsync(botevents.Event{Username: "alice", Kind: botevents.KindPlatform})
	}
	s.RecordAsync(botevents.Event{Username: "alice", Kind: botevents.KindStopped})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = botevents.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	got, err := botevents.NewStore(db, nil).List(context.Background(), "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 6 {
		t.Fatalf("events after close: got %d, want 6", len(got))
	}
}

func TestPrune(t *testing.T) {
	db := botevents.OpenMemory(t)
	s := botevents.NewStore(db, nil)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	if err := s.Record(ctx, botevents.Event{Username: "alice", Kind: "paused", At: old}); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, botevents.Event{Username: "alice", Kind: "resolved"}); err != nil {
		t.Fatal(err)
	}
	n, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pruned: got %d, want 1", n)
	}
}

func TestHeartbeat(t *testing.T) {
	db := botevents.OpenMemory(t)
	ctx := context.Background()

	hs, err := botevents.LatestHeartbeat(ctx, db, "alice", time.Minute)
	if err != nil || hs != nil {
		t.Fatalf("before any beat: %+v, %v", hs, err)
	}

	hb := botevents.NewHeartbeat(db, "alice", time.Hour, nil)
	hb.SetPlatform("linkedin")
	hb.Start(ctx)
	deadline := time.Now().Add(5 * time.Second)
	for {
		hs, err = botevents.LatestHeartbeat(ctx, db, "alice", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if hs != nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	hb.Stop()
	hb.Stop()

	if hs == nil {
		t.Fatal("no heartbeat written")
	}
	if !hs.Alive || hs.Platform != "linkedin" {
		t.Errorf("heartbeat: %+v", hs)
	}

	if err := hb.Beat(ctx); err != nil {
		t.Fatalf("second beat upserts: %v", err)
	}
}
