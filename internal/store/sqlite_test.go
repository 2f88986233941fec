package store

import (
	"context"
	"errors"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreate_CreatesThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.GetOrCreate(ctx, "t1", "alice", "New chat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.ThreadID != "t1" || conv.OwnerID != "alice" || conv.Title != "New chat" {
		t.Errorf("unexpected conversation: %+v", conv)
	}
	if conv.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestGetOrCreate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, _ := s.GetOrCreate(ctx, "t1", "alice", "First title")
	second, err := s.GetOrCreate(ctx, "t1", "alice", "Different title")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Title != first.Title {
		t.Errorf("second call must return the existing conversation unchanged, got title %q", second.Title)
	}

	convs, _ := s.List(ctx, "alice")
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
}

func TestGetOrCreate_ConcurrentFirstTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Concurrent first turns on the same thread: one insert wins, the rest
	// must get the existing row back instead of a constraint error.
	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := s.GetOrCreate(ctx, "t1", "alice", "First title")
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Errorf("concurrent GetOrCreate failed: %v", err)
		}
	}

	convs, err := s.List(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
}

func TestGetOrCreate_OwnershipNeverLeaks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.GetOrCreate(ctx, "t1", "alice", "Alice's chat")

	_, err := s.GetOrCreate(ctx, "t1", "bob", "Bob's chat")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign thread, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing", "alice")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendAndHistory_PreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.GetOrCreate(ctx, "t1", "alice", "chat")
	if err := s.Append(ctx, "t1", Message{Role: RoleUser, Content: "What color is the sky?"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Append(ctx, "t1", Message{Role: RoleAssistant, Content: "The sky is blue."}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	history, err := s.History(ctx, "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Role != RoleUser || history[1].Role != RoleAssistant {
		t.Errorf("messages out of order: %v then %v", history[0].Role, history[1].Role)
	}
	if history[0].ID == "" || history[1].ID == "" {
		t.Error("expected generated message ids")
	}
}

func TestHistory_EmptyThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.GetOrCreate(ctx, "t1", "alice", "chat")
	history, err := s.History(ctx, "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(history))
	}
}

func TestList_NewestFirstWithCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.GetOrCreate(ctx, "t1", "alice", "older")
	s.GetOrCreate(ctx, "t2", "alice", "newer")
	s.GetOrCreate(ctx, "t3", "bob", "other owner")
	s.Append(ctx, "t1", Message{Role: RoleUser, Content: "hi"})
	s.Append(ctx, "t1", Message{Role: RoleAssistant, Content: "hello"})

	convs, err := s.List(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].ThreadID != "t2" || convs[1].ThreadID != "t1" {
		t.Errorf("expected newest first, got %s then %s", convs[0].ThreadID, convs[1].ThreadID)
	}
	if convs[1].MessageCount != 2 {
		t.Errorf("expected message count 2 for t1, got %d", convs[1].MessageCount)
	}
}

func TestDelete_CascadesToMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.GetOrCreate(ctx, "t1", "alice", "chat")
	s.Append(ctx, "t1", Message{Role: RoleUser, Content: "hi"})

	if err := s.Delete(ctx, "t1", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.Get(ctx, "t1", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected conversation gone, got %v", err)
	}
	history, _ := s.History(ctx, "t1")
	if len(history) != 0 {
		t.Fatalf("expected messages cascade-deleted, got %d", len(history))
	}
}

func TestDelete_MissingThreadIsNoop(t *testing.T) {
	s := newTestStore(t)
	if err := s.Delete(context.Background(), "missing", "alice"); err != nil {
		t.Fatalf("delete of missing thread must be a no-op, got %v", err)
	}
}

func TestDelete_WrongOwnerIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.GetOrCreate(ctx, "t1", "alice", "chat")
	if err := s.Delete(ctx, "t1", "bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Alice's thread survives
	if _, err := s.Get(ctx, "t1", "alice"); err != nil {
		t.Fatalf("thread should survive a foreign delete, got %v", err)
	}
}
