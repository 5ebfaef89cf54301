package orchestrator

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/koopa0/sage/internal/history"
)

func TestChatStreamForwardsFragmentsAndPersists(t *testing.T) {
	f := newFixture(t, nil)
	f.router.Fragments = []string{"par", "tial", " answer"}

	stream, err := f.orch.ChatStream(context.Background(), Request{
		Message: "stream it",
		AgentID: "general",
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	defer stream.Close()

	var fragments []string
	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		fragments = append(fragments, frag)
	}

	if len(fragments) != 3 {
		t.Fatalf("received %d fragments, want 3", len(fragments))
	}
	if stream.Text() != "partial answer" {
		t.Errorf("Text() = %q, want %q", stream.Text(), "partial answer")
	}

	msgs := f.store.Messages(stream.ThreadID())
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages after EOF, want 2", len(msgs))
	}
	if msgs[1].Content != "partial answer" {
		t.Errorf("persisted answer = %q, want full concatenation", msgs[1].Content)
	}
	if msgs[1].Role != history.RoleAssistant {
		t.Errorf("persisted role = %q, want assistant", msgs[1].Role)
	}
}

func TestChatStreamInterruptionDoesNotComplete(t *testing.T) {
	f := newFixture(t, nil)
	f.router.Fragments = []string{"one", "two"}
	f.router.StreamErr = context.Canceled

	stream, err := f.orch.ChatStream(context.Background(), Request{
		Message: "cancel me",
		AgentID: "general",
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	defer stream.Close()

	var fragments []string
	var streamErr error
	for {
		frag, err := stream.Recv()
		if err != nil {
			streamErr = err
			break
		}
		fragments = append(fragments, frag)
	}

	if len(fragments) != 2 {
		t.Fatalf("received %d fragments, want exactly 2", len(fragments))
	}
	if errors.Is(streamErr, io.EOF) {
		t.Fatal("interrupted stream ended with EOF, want an error (no completion)")
	}

	// No completion means no persisted exchange.
	if msgs := f.store.Messages(stream.ThreadID()); len(msgs) != 0 {
		t.Errorf("persisted %d messages after interruption, want 0", len(msgs))
	}

	// Terminal state is sticky.
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("Recv() after terminal error = %v, want io.EOF", err)
	}
}

func TestChatStreamValidationBeforeDialing(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.ChatStream(context.Background(), Request{Message: "hi", AgentID: "ghost"})
	if err == nil {
		t.Fatal("ChatStream() with unknown agent should fail")
	}
	if f.router.Calls() != 0 {
		t.Errorf("router called %d times, want 0", f.router.Calls())
	}
}

func TestChatStreamReportsDegradation(t *testing.T) {
	f := newFixture(t, nil)
	f.encoder.Err = errors.New("embedder offline")
	f.router.Fragments = []string{"ok"}

	stream, err := f.orch.ChatStream(context.Background(), Request{
		Message: "hi",
		AgentID: "general",
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	defer stream.Close()

	degraded, reason := stream.Degraded()
	if !degraded || reason == "" {
		t.Errorf("Degraded() = %v, %q; want true with reason", degraded, reason)
	}
}
