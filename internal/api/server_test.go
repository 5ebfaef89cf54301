package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/koopa0/sage/internal/agent"
	"github.com/koopa0/sage/internal/ingest"
	"github.com/koopa0/sage/internal/log"
	"github.com/koopa0/sage/internal/orchestrator"
	"github.com/koopa0/sage/internal/provider"
	"github.com/koopa0/sage/internal/testutil"
	"github.com/koopa0/sage/internal/vector"
)

type serverFixture struct {
	router  *testutil.FakeRouter
	store   *testutil.MemoryHistory
	index   *vector.Index
	saved   int
	handler http.Handler
}

func newTestServer(t *testing.T, mutate func(*ServerConfig)) *serverFixture {
	t.Helper()

	registry, err := agent.NewRegistry(agent.DefaultProfiles())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	f := &serverFixture{
		router: &testutil.FakeRouter{},
		store:  &testutil.MemoryHistory{},
		index:  vector.New(vector.MetricCosine),
	}
	encoder := &testutil.FakeEncoder{Dim: 8}

	orch, err := orchestrator.New(orchestrator.Config{
		Registry: registry,
		Router:   f.router,
		Encoder:  encoder,
		Index:    f.index,
		History:  f.store,
		Logger:   log.NewNop(),
	})
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}

	ingestor, err := ingest.New(encoder, f.index, ingest.NewChunker(), log.NewNop())
	if err != nil {
		t.Fatalf("ingest.New() error = %v", err)
	}

	cfg := ServerConfig{
		Logger:       log.NewNop(),
		Orchestrator: orch,
		Registry:     registry,
		Ingestor:     ingestor,
		SaveIndex:    func() error { f.saved++; return nil },
		IndexLen:     f.index.Len,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	f.handler = srv.Handler()
	return f
}

func (f *serverFixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body.Error.Code
}

func TestChatEndpoint(t *testing.T) {
	f := newTestServer(t, nil)

	rec := f.post(t, "/api/v1/chat", chatRequest{Message: "hello", AgentID: "general"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var res chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, err := uuid.Parse(res.ChatID); err != nil {
		t.Errorf("chatId = %q, want a UUID", res.ChatID)
	}
	if !strings.Contains(res.Text, "hello") {
		t.Errorf("text = %q, want echo of the message", res.Text)
	}
	if res.Provider != "fake" {
		t.Errorf("provider = %q, want fake", res.Provider)
	}
}

func TestChatValidation(t *testing.T) {
	f := newTestServer(t, nil)

	tests := []struct {
		name string
		body chatRequest
	}{
		{"missing message", chatRequest{AgentID: "general"}},
		{"missing agent", chatRequest{Message: "hi"}},
		{"unknown agent", chatRequest{Message: "hi", AgentID: "ghost"}},
		{"bad chat id", chatRequest{Message: "hi", AgentID: "general", ChatID: "not-a-uuid"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.post(t, "/api/v1/chat", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if code := decodeError(t, rec); code != codeValidation {
				t.Errorf("error code = %q, want %q", code, codeValidation)
			}
		})
	}
}

func TestChatExhaustionMapsTo502(t *testing.T) {
	f := newTestServer(t, nil)
	f.router.Err = &provider.ExhaustedError{Attempts: []provider.Attempt{
		{Provider: "gemini", Err: provider.ErrNoCredentials},
	}}

	rec := f.post(t, "/api/v1/chat", chatRequest{Message: "hi", AgentID: "general"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if code := decodeError(t, rec); code != codeExhausted {
		t.Errorf("error code = %q, want %q", code, codeExhausted)
	}
}

func TestChatTimeoutMapsTo504(t *testing.T) {
	f := newTestServer(t, nil)
	f.router.Err = context.DeadlineExceeded

	rec := f.post(t, "/api/v1/chat", chatRequest{Message: "hi", AgentID: "general"})
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
	if code := decodeError(t, rec); code != codeTimeout {
		t.Errorf("error code = %q, want %q", code, codeTimeout)
	}
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	event string
	data  string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.event != "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	return events
}

func TestChatStreamEndpoint(t *testing.T) {
	f := newTestServer(t, nil)
	f.router.Fragments = []string{"hel", "lo ", "there"}

	rec := f.post(t, "/api/v1/chat/stream", chatRequest{Message: "greet me", AgentID: "general"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	events := parseSSE(t, rec.Body.String())
	if len(events) != 4 {
		t.Fatalf("got %d events, want 3 chunks + done: %+v", len(events), events)
	}

	var text string
	for _, ev := range events[:3] {
		if ev.event != eventChunk {
			t.Fatalf("event = %q, want chunk", ev.event)
		}
		var p chunkPayload
		if err := json.Unmarshal([]byte(ev.data), &p); err != nil {
			t.Fatalf("decode chunk: %v", err)
		}
		text += p.Text
	}
	if text != "hello there" {
		t.Errorf("chunk text = %q, want %q", text, "hello there")
	}

	last := events[3]
	if last.event != eventDone {
		t.Fatalf("last event = %q, want done", last.event)
	}
	var done donePayload
	if err := json.Unmarshal([]byte(last.data), &done); err != nil {
		t.Fatalf("decode done: %v", err)
	}
	if done.Text != "hello there" {
		t.Errorf("done.Text = %q, want full text", done.Text)
	}
	if _, err := uuid.Parse(done.ChatID); err != nil {
		t.Errorf("done.ChatID = %q, want a UUID", done.ChatID)
	}
}

func TestChatStreamValidationEmitsErrorEvent(t *testing.T) {
	f := newTestServer(t, nil)

	rec := f.post(t, "/api/v1/chat/stream", chatRequest{Message: "hi", AgentID: "ghost"})
	events := parseSSE(t, rec.Body.String())
	if len(events) != 1 || events[0].event != eventError {
		t.Fatalf("events = %+v, want a single error event", events)
	}
	var p errorPayload
	if err := json.Unmarshal([]byte(events[0].data), &p); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if p.Code != codeValidation {
		t.Errorf("error code = %q, want %q", p.Code, codeValidation)
	}
}

func TestIngestEndpoint(t *testing.T) {
	f := newTestServer(t, nil)

	rec := f.post(t, "/api/v1/ingest", ingestRequest{
		SourceID: "notes.md",
		Text:     "B-trees keep data sorted. They rebalance on insert.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var res ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.ChunksAdded == 0 {
		t.Error("ChunksAdded = 0, want chunks in the index")
	}
	if f.index.Len() != res.ChunksAdded {
		t.Errorf("index has %d chunks, response says %d", f.index.Len(), res.ChunksAdded)
	}
	if f.saved != 1 {
		t.Errorf("index saved %d times, want 1", f.saved)
	}
}

func TestIngestValidation(t *testing.T) {
	f := newTestServer(t, nil)

	rec := f.post(t, "/api/v1/ingest", ingestRequest{Text: "no source id"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAgentsEndpoint(t *testing.T) {
	f := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Agents []agentInfo `json:"agents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Agents) != 3 {
		t.Fatalf("got %d agents, want 3", len(body.Agents))
	}
	if body.Agents[0].ID != "general" {
		t.Errorf("first agent = %q, want general (sorted)", body.Agents[0].ID)
	}
}

func TestHealthAndReady(t *testing.T) {
	f := newTestServer(t, nil)

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestRateLimitKicksIn(t *testing.T) {
	f := newTestServer(t, func(cfg *ServerConfig) {
		cfg.RateRPS = 0.001
		cfg.RateBurst = 1
	})

	first := f.post(t, "/api/v1/chat", chatRequest{Message: "hi", AgentID: "general"})
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", first.Code)
	}
	second := f.post(t, "/api/v1/chat", chatRequest{Message: "hi again", AgentID: "general"})
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
	if code := decodeError(t, second); code != codeRateLimited {
		t.Errorf("error code = %q, want %q", code, codeRateLimited)
	}
}
