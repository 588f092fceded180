package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newMemoryStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestSQLiteRecordAndRecent verifies that events come back newest first with
// every field intact.
func TestSQLiteRecordAndRecent(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	events := []Event{
		{Kind: KindJoin, Client: "Alice", SessionID: "s1", RemoteAddr: "10.0.0.1:5000", At: base},
		{Kind: KindReject, Client: "Alice", SessionID: "s2", RemoteAddr: "10.0.0.2:5000", Reason: "Name already in use", At: base.Add(time.Second)},
		{Kind: KindLeave, Client: "Alice", SessionID: "s1", RemoteAddr: "10.0.0.1:5000", Reason: "client disconnected", At: base.Add(2 * time.Second)},
	}
	for _, e := range events {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(got))
	}

	if got[0].Kind != KindLeave || got[2].Kind != KindJoin {
		t.Errorf("Expected newest first, got %s..%s", got[0].Kind, got[2].Kind)
	}
	if got[1].Reason != "Name already in use" || got[1].SessionID != "s2" {
		t.Errorf("Unexpected reject event: %+v", got[1])
	}
	if !got[2].At.Equal(base) {
		t.Errorf("Expected timestamp %s, got %s", base, got[2].At)
	}
	if got[0].ID <= got[2].ID {
		t.Errorf("Expected increasing IDs, got %d and %d", got[2].ID, got[0].ID)
	}
}

func TestSQLiteRecentLimit(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.Record(ctx, Event{Kind: KindJoin, Client: "c", At: time.Now()}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 events, got %d", len(got))
	}

	got, err = store.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 5 {
		t.Errorf("Non-positive limit should use the default, got %d events", len(got))
	}
}

func TestSQLiteFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Record(ctx, Event{Kind: KindJoin, Client: "Bob", At: time.Now()}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 1 || got[0].Client != "Bob" {
		t.Errorf("Expected Bob's join to persist, got %+v", got)
	}
}

func TestStoreClosed(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	if err := store.Record(context.Background(), Event{Kind: KindJoin}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := store.Recent(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestOpen(t *testing.T) {
	t.Run("Empty driver", func(t *testing.T) {
		store, err := Open("", "")
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if _, ok := store.(Nop); !ok {
			t.Errorf("Expected Nop store, got %T", store)
		}
		events, err := store.Recent(context.Background(), 10)
		if err != nil || len(events) != 0 {
			t.Errorf("Nop store should return no events, got %v, %v", events, err)
		}
	})

	t.Run("SQLite", func(t *testing.T) {
		store, err := Open("sqlite3", ":memory:")
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer store.Close()
		if err := store.Record(context.Background(), Event{Kind: KindJoin, Client: "x", At: time.Now()}); err != nil {
			t.Errorf("Record failed: %v", err)
		}
	})

	t.Run("Bad MySQL DSN", func(t *testing.T) {
		if _, err := Open("mysql", "not a dsn"); err == nil {
			t.Error("Expected error for malformed DSN")
		}
	})

	t.Run("Unreachable Postgres", func(t *testing.T) {
		dsn := "postgres://relay@127.0.0.1:1/relay?sslmode=disable&connect_timeout=1"
		if _, err := Open("postgres", dsn); err == nil {
			t.Error("Expected error when the database is unreachable")
		}
	})

	t.Run("Unknown driver", func(t *testing.T) {
		if _, err := Open("oracle", "x"); err == nil {
			t.Error("Expected error for unsupported driver")
		}
	})
}
