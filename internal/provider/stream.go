package provider

import "io"

// CommittedStream replays the fragment the router pulled while deciding
// whether to commit, then delegates to the underlying adapter stream.
// Provider names the adapter the stream is committed to.
type CommittedStream struct {
	Provider string

	first    string
	hasFirst bool
	eof      bool
	rest     Stream
}

func (s *CommittedStream) Recv() (string, error) {
	if s.hasFirst {
		s.hasFirst = false
		return s.first, nil
	}
	if s.eof {
		return "", io.EOF
	}
	return s.rest.Recv()
}

func (s *CommittedStream) Close() error {
	return s.rest.Close()
}

// NewCommittedStream wraps an already-open stream as committed to the
// named provider. Intended for wiring test doubles into router consumers.
func NewCommittedStream(providerName string, s Stream) *CommittedStream {
	return &CommittedStream{Provider: providerName, rest: s}
}
