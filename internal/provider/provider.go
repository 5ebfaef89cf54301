// Package provider normalizes heterogeneous LLM backends behind one
// interface and routes requests across them with retry and fallback.
//
// Each Adapter wraps a single backend's request/response/streaming shape
// and translates its error vocabulary into the shared taxonomy
// (TransientError, FatalError). The Router depends only on the Adapter
// interface.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation sent to a backend.
type Message struct {
	Role    Role
	Content string
}

// Request is the normalized generation request shared by all adapters.
type Request struct {
	Model       string // backend-specific model name
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Result is a complete non-streaming generation.
type Result struct {
	Text string

	// Provider is stamped by the router with the adapter that produced
	// the result.
	Provider string
}

// Stream is a lazy, cancellable sequence of text fragments.
//
// Recv returns the next fragment or io.EOF when the backend signals the end
// of generation. Once the request context is cancelled, Recv returns the
// context error and no further fragments are produced. Close releases the
// backend connection and is safe to call more than once.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Adapter is the capability contract implemented once per backend.
type Adapter interface {
	// Name returns the provider identifier (e.g. "gemini", "openai").
	Name() string

	// Generate produces the complete response text.
	Generate(ctx context.Context, req Request) (*Result, error)

	// GenerateStream produces fragments as the backend emits them.
	// The returned stream must stop promptly when ctx is cancelled.
	GenerateStream(ctx context.Context, req Request) (Stream, error)
}

// TransientError marks a failure worth retrying on the same provider:
// rate limits, timeouts, 5xx-equivalent backend conditions.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure that retrying cannot fix: bad credentials,
// invalid request, unknown model. The router skips retries and falls
// through to the next provider.
type FatalError struct {
	Provider string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: fatal: %v", e.Provider, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Attempt records why one provider in the fallback chain failed.
type Attempt struct {
	Provider string
	Err      error
}

// ExhaustedError is returned when every provider in the fallback chain has
// failed. It carries the per-provider failure reasons.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString("all providers exhausted")
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s: %v", a.Provider, a.Err)
	}
	return b.String()
}

// ErrNoCredentials indicates a provider that requires an API key but had
// neither a per-request override nor a process-wide default.
var ErrNoCredentials = errors.New("no credentials configured")

// classifyStatus translates an HTTP status from a backend into the shared
// taxonomy. 2xx never reaches here.
func classifyStatus(providerName string, status int, detail string) error {
	err := fmt.Errorf("status %d: %s", status, strings.TrimSpace(detail))
	switch {
	case status == 429 || status == 408 || status >= 500:
		return &TransientError{Provider: providerName, Err: err}
	default:
		return &FatalError{Provider: providerName, Err: err}
	}
}

// classifyTransport wraps a transport-level failure (connection reset,
// timeout) as transient unless the context was cancelled, in which case
// the context error passes through untouched so callers can detect
// cancellation with errors.Is.
func classifyTransport(providerName string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &TransientError{Provider: providerName, Err: err}
}
