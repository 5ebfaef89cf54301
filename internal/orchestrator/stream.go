package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/koopa0/sage/internal/provider"
)

// LiveStream is a streaming turn in flight. Fragments arrive via Recv as
// the provider emits them; io.EOF marks a complete generation, at which
// point the exchange has been persisted best-effort and Final describes
// the finished turn.
type LiveStream struct {
	o      *Orchestrator
	t      *turn
	ctx    context.Context
	cancel context.CancelFunc
	stream *provider.CommittedStream

	text strings.Builder
	done bool
}

// ThreadID identifies the (possibly new) thread this turn belongs to.
func (s *LiveStream) ThreadID() uuid.UUID { return s.t.threadID }

// Provider names the adapter the stream is committed to.
func (s *LiveStream) Provider() string { return s.stream.Provider }

// Degraded reports whether a collaborator was skipped, and why.
func (s *LiveStream) Degraded() (bool, string) {
	return len(s.t.degrade) > 0, strings.Join(s.t.degrade, "; ")
}

// Sources lists the retrieved chunks that entered the prompt.
func (s *LiveStream) Sources() []Source { return s.t.sources() }

// Recv returns the next fragment. io.EOF is terminal and successful.
func (s *LiveStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	frag, err := s.stream.Recv()
	if err != nil {
		s.done = true
		if errors.Is(err, io.EOF) {
			s.o.persist(s.ctx, s.t, s.text.String(), s.stream.Provider)
			s.o.transition(s.t.threadID, StateCompleted)
			return "", io.EOF
		}
		s.o.transition(s.t.threadID, StateFailed)
		return "", err
	}
	s.text.WriteString(frag)
	return frag, nil
}

// Text returns the fragments received so far, concatenated.
func (s *LiveStream) Text() string { return s.text.String() }

// Close releases the underlying stream. An incomplete turn is not
// persisted.
func (s *LiveStream) Close() error {
	err := s.stream.Close()
	s.cancel()
	return err
}

// ChatStream runs one streaming turn. The returned stream must be closed.
func (o *Orchestrator) ChatStream(ctx context.Context, req Request) (*LiveStream, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)

	t, err := o.prepare(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	o.transition(t.threadID, StateGenerating)
	stream, err := o.router.GenerateStream(ctx, o.request(t), o.options(t))
	if err != nil {
		o.transition(t.threadID, StateFailed)
		cancel()
		return nil, err
	}

	return &LiveStream{o: o, t: t, ctx: ctx, cancel: cancel, stream: stream}, nil
}
