//go:build integration
// +build integration

package history_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/koopa0/sage/internal/history"
	"github.com/koopa0/sage/internal/log"
	"github.com/koopa0/sage/internal/testutil"
)

func TestStoreAppendAndRecent(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := history.NewStore(db.Pool, log.NewNop())
	ctx := context.Background()
	threadID := uuid.New()

	err := store.Append(ctx, threadID, "general",
		history.Message{Role: history.RoleUser, Content: "what is a b-tree?"},
		history.Message{Role: history.RoleAssistant, Content: "a balanced tree", Provider: "gemini"},
	)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	msgs, err := store.Recent(ctx, threadID, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Recent() returned %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != history.RoleUser || msgs[1].Role != history.RoleAssistant {
		t.Errorf("message order = %q, %q; want user, assistant", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].Provider != "gemini" {
		t.Errorf("assistant provider = %q, want gemini", msgs[1].Provider)
	}
}

func TestStoreRecentLimitKeepsNewest(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := history.NewStore(db.Pool, log.NewNop())
	ctx := context.Background()
	threadID := uuid.New()

	for _, content := range []string{"one", "two", "three", "four"} {
		if err := store.Append(ctx, threadID, "general",
			history.Message{Role: history.RoleUser, Content: content}); err != nil {
			t.Fatalf("Append(%s) error = %v", content, err)
		}
	}

	msgs, err := store.Recent(ctx, threadID, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Recent() returned %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "three" || msgs[1].Content != "four" {
		t.Errorf("messages = %q, %q; want three, four", msgs[0].Content, msgs[1].Content)
	}
}

func TestStoreRecentUnknownThread(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := history.NewStore(db.Pool, log.NewNop())

	msgs, err := store.Recent(context.Background(), uuid.New(), 5)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Recent() returned %d messages for unknown thread, want 0", len(msgs))
	}
}

func TestStoreThreadsOrderedByActivity(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := history.NewStore(db.Pool, log.NewNop())
	ctx := context.Background()

	first := uuid.New()
	second := uuid.New()
	if err := store.Append(ctx, first, "general",
		history.Message{Role: history.RoleUser, Content: "first thread"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Append(ctx, second, "sql",
		history.Message{Role: history.RoleUser, Content: "second thread"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	// Touching the first thread moves it back to the top.
	if err := store.Append(ctx, first, "general",
		history.Message{Role: history.RoleAssistant, Content: "reply", Provider: "ollama"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	threads, err := store.Threads(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Threads() error = %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("Threads() returned %d, want 2", len(threads))
	}
	if threads[0].ID != first {
		t.Errorf("most recent thread = %s, want %s", threads[0].ID, first)
	}
	if threads[0].Title != "first thread" {
		t.Errorf("title = %q, want %q (from first user message)", threads[0].Title, "first thread")
	}
}
