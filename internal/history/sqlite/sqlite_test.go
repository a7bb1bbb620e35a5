package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/appvisor/internal/history"
)

func TestSQLiteSink_SendAndRecent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)
	rec := history.Record{Name: "goroskop-bot-prod", PID: 4242, State: "online", StartedAt: started}

	if err := sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: started, Record: rec}); err != nil {
		t.Fatalf("Failed to send start event: %v", err)
	}
	rec.State = "waiting-restart"
	rec.StoppedAt = started.Add(30 * time.Second)
	rec.ExitCode = 1
	rec.ExitErr = "exit status 1"
	rec.Restarts = 1
	if err := sink.Send(ctx, history.Event{Type: history.EventExit, OccurredAt: rec.StoppedAt, Record: rec}); err != nil {
		t.Fatalf("Failed to send exit event: %v", err)
	}
	other := history.Record{Name: "other", PID: 1, State: "online"}
	if err := sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now(), Record: other}); err != nil {
		t.Fatalf("Failed to send other event: %v", err)
	}

	events, err := sink.Recent(ctx, "goroskop-bot-prod", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	last := events[0]
	if last.Type != history.EventExit {
		t.Errorf("expected newest event first, got %s", last.Type)
	}
	if last.Record.ExitCode != 1 || last.Record.ExitErr != "exit status 1" || last.Record.Restarts != 1 {
		t.Errorf("unexpected exit record: %+v", last.Record)
	}
	if !last.Record.StartedAt.Equal(started) {
		t.Errorf("started_at mismatch: %v vs %v", last.Record.StartedAt, started)
	}
	if !events[1].Record.StoppedAt.IsZero() {
		t.Errorf("start event should have no stopped_at, got %v", events[1].Record.StoppedAt)
	}

	all, err := sink.Recent(ctx, "", 2)
	if err != nil {
		t.Fatalf("Recent(all) failed: %v", err)
	}
	if len(all) != 2 || all[0].Record.Name != "other" {
		t.Errorf("unexpected events for all apps: %+v", all)
	}
}

func TestSQLiteSink_Memory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	if err := sink.Send(ctx, history.Event{Type: history.EventErrored, OccurredAt: time.Now(), Record: history.Record{Name: "a", Reason: "max restarts reached"}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	events, err := sink.Recent(ctx, "a", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 1 || events[0].Record.Reason != "max restarts reached" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
