package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/devsrv/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
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
	rec := history.Record{Session: "/tmp/devsrv.1.lock", Generation: 1, PID: 12345}
	events := []history.Event{
		{Type: history.EventSpawn, OccurredAt: time.Now().UTC(), Record: rec},
		{Type: history.EventReload, OccurredAt: time.Now().UTC(), Record: history.Record{Session: rec.Session, Generation: 1, PID: 12345, ExitCode: 3}},
		{Type: history.EventExit, OccurredAt: time.Now().UTC(), Record: history.Record{Session: rec.Session, Generation: 2, PID: 12346, ExitCode: 0, Reason: "clean"}},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	var count int
	if err := sink.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM session_history WHERE session = ?", rec.Session).Scan(&count); err != nil {
		t.Fatalf("Failed to query count: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 events, got %d", count)
	}

	var maxGen int
	if err := sink.DB().QueryRowContext(ctx, "SELECT MAX(generation) FROM session_history").Scan(&maxGen); err != nil {
		t.Fatalf("Failed to query generation: %v", err)
	}
	if maxGen != 2 {
		t.Errorf("Expected max generation 2, got %d", maxGen)
	}
}

func TestSQLiteSink_Memory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if err := sink.Send(context.Background(), history.Event{Type: history.EventBuild, OccurredAt: time.Now()}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
