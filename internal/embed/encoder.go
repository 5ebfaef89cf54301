// Package embed turns text into fixed-dimension vectors for indexing and
// retrieval. Encoders are deterministic for a fixed model version and carry
// no state beyond the loaded model/client.
package embed

import (
	"context"
	"errors"
)

// Sentinel errors for encoding operations.
var (
	// ErrTextTooLong indicates input that exceeds the model's maximum
	// length. Callers must pre-chunk; encoders never silently truncate.
	ErrTextTooLong = errors.New("text exceeds embedder input limit")

	// ErrEmptyEmbedding indicates the backend returned no vector.
	ErrEmptyEmbedding = errors.New("empty embedding response")
)

// MaxInputBytes is the conservative input ceiling shared by all encoders.
// Embedding models in the 2048-token class handle roughly 8KB of text;
// anything longer must be chunked by the ingestor before encoding.
const MaxInputBytes = 8 * 1024

// Encoder produces fixed-dimension embeddings.
//
// Implementations must return vectors of exactly Dimension() entries and
// must reject over-length input with ErrTextTooLong rather than truncating.
type Encoder interface {
	// Encode embeds a single text.
	Encode(ctx context.Context, text string) ([]float32, error)

	// EncodeBatch embeds texts in one backend round trip where the
	// backend supports it. Result order matches input order.
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the fixed output dimension.
	Dimension() int
}

// checkInputs validates batch input length before any network call.
func checkInputs(texts []string) error {
	for _, t := range texts {
		if len(t) > MaxInputBytes {
			return ErrTextTooLong
		}
	}
	return nil
}
