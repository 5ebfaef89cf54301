package testutil

import (
	"context"
	"crypto/sha256"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/koopa0/sage/internal/history"
	"github.com/koopa0/sage/internal/provider"
	"github.com/koopa0/sage/internal/websearch"
)

// FakeEncoder produces deterministic vectors derived from the input text.
type FakeEncoder struct {
	Dim int
	Err error

	mu    sync.Mutex
	calls int
}

func (e *FakeEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *FakeEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		sum := sha256.Sum256([]byte(t))
		vec := make([]float32, e.Dim)
		for j := range vec {
			vec[j] = float32(sum[j%len(sum)])/255 + 0.01
		}
		out[i] = vec
	}
	return out, nil
}

func (e *FakeEncoder) Dimension() int { return e.Dim }

// Calls reports how many encode requests were made.
func (e *FakeEncoder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// FakeRouter echoes scripted results and records every request it saw.
type FakeRouter struct {
	Result    *provider.Result
	Fragments []string

	// StreamErr, when set, ends the stream with this error after
	// Fragments are exhausted instead of io.EOF.
	StreamErr error
	Err       error

	mu       sync.Mutex
	Requests []provider.Request
	Options  []provider.Options
}

func (r *FakeRouter) record(req provider.Request, opts provider.Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Requests = append(r.Requests, req)
	r.Options = append(r.Options, opts)
}

// Calls reports how many generation requests were routed.
func (r *FakeRouter) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Requests)
}

func (r *FakeRouter) Generate(ctx context.Context, req provider.Request, opts provider.Options) (*provider.Result, error) {
	r.record(req, opts)
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Result != nil {
		res := *r.Result
		return &res, nil
	}
	// Default: echo the last user message.
	text := ""
	for _, m := range req.Messages {
		if m.Role == provider.RoleUser {
			text = m.Content
		}
	}
	return &provider.Result{Text: "echo: " + text, Provider: "fake"}, nil
}

func (r *FakeRouter) GenerateStream(ctx context.Context, req provider.Request, opts provider.Options) (*provider.CommittedStream, error) {
	r.record(req, opts)
	if r.Err != nil {
		return nil, r.Err
	}
	return provider.NewCommittedStream("fake", &FakeStream{
		Fragments: r.Fragments,
		FinalErr:  r.StreamErr,
	}), nil
}

// FakeStream emits its fragments and then FinalErr (io.EOF when nil).
type FakeStream struct {
	Fragments []string
	FinalErr  error

	pos    int
	Closed bool
}

func (s *FakeStream) Recv() (string, error) {
	if s.pos < len(s.Fragments) {
		f := s.Fragments[s.pos]
		s.pos++
		return f, nil
	}
	if s.FinalErr != nil {
		return "", s.FinalErr
	}
	return "", io.EOF
}

func (s *FakeStream) Close() error {
	s.Closed = true
	return nil
}

// MemoryHistory is an in-memory history store.
type MemoryHistory struct {
	AppendErr error
	RecentErr error

	mu      sync.Mutex
	threads map[uuid.UUID][]history.Message
}

func (h *MemoryHistory) Append(ctx context.Context, threadID uuid.UUID, agentID string, msgs ...history.Message) error {
	if h.AppendErr != nil {
		return h.AppendErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.threads == nil {
		h.threads = make(map[uuid.UUID][]history.Message)
	}
	h.threads[threadID] = append(h.threads[threadID], msgs...)
	return nil
}

func (h *MemoryHistory) Recent(ctx context.Context, threadID uuid.UUID, limit int) ([]history.Message, error) {
	if h.RecentErr != nil {
		return nil, h.RecentErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.threads[threadID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]history.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Messages returns everything appended to a thread.
func (h *MemoryHistory) Messages(threadID uuid.UUID) []history.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]history.Message, len(h.threads[threadID]))
	copy(out, h.threads[threadID])
	return out
}

// FakeSearcher returns scripted web results.
type FakeSearcher struct {
	Results []websearch.Result
	Err     error

	mu    sync.Mutex
	calls int
}

func (s *FakeSearcher) Search(ctx context.Context, query string) ([]websearch.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Results, nil
}

func (s *FakeSearcher) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
