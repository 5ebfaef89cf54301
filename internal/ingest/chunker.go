package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Default chunking parameters. Sized so every chunk stays comfortably
// within the embedder input limit (see embed.MaxInputBytes).
const (
	DefaultChunkSize = 1200 // target chunk size in bytes
	DefaultOverlap   = 200  // bytes of overlap between neighboring chunks
)

// Chunk is a span of source text produced by the splitter, before
// embedding. Offset is the byte offset of Text within the source document.
type Chunk struct {
	ID       string
	SourceID string
	Text     string
	Offset   int
}

// Chunker splits documents into overlapping chunks, preferring paragraph
// and sentence boundaries over hard cuts.
type Chunker struct {
	size    int
	overlap int
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithChunkSize sets the target chunk size in bytes.
func WithChunkSize(size int) ChunkerOption {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the overlap between neighboring chunks in bytes.
func WithOverlap(overlap int) ChunkerOption {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// NewChunker creates a Chunker with the given options.
func NewChunker(opts ...ChunkerOption) *Chunker {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	// A cut may land as early as the window midpoint, so overlap must
	// stay below size/2 or the next chunk would not move forward.
	if c.overlap*2 >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Split chunks a document. Chunk ids are derived from the source id, the
// chunk ordinal, and the chunking parameters, so splitting the same
// document with the same parameters always yields the same ids — which
// makes re-ingestion idempotent at the index layer.
func (c *Chunker) Split(sourceID, text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []Chunk
	start := 0
	ordinal := 0
	for start < len(text) {
		end := start + c.size
		if end >= len(text) {
			end = len(text)
		} else {
			end = breakPoint(text, start, end)
		}

		piece := text[start:end]
		if strings.TrimSpace(piece) != "" {
			chunks = append(chunks, Chunk{
				ID:       c.chunkID(sourceID, ordinal),
				SourceID: sourceID,
				Text:     piece,
				Offset:   start,
			})
			ordinal++
		}

		if end == len(text) {
			break
		}
		next := end - c.overlap
		for next > start && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// chunkID derives a stable content-addressed id for a chunk position.
func (c *Chunker) chunkID(sourceID string, ordinal int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%d|%d", sourceID, ordinal, c.size, c.overlap))
	return hex.EncodeToString(sum[:16])
}

// breakPoint finds the best cut position in text for a chunk that starts
// at start and would hard-cut at limit. Paragraph breaks win over sentence
// ends, sentence ends over word boundaries; a hard cut is the last resort.
// Only the back half of the window is searched so chunks never collapse
// below half the target size.
func breakPoint(text string, start, limit int) int {
	floor := start + (limit-start)/2

	if i := strings.LastIndex(text[floor:limit], "\n\n"); i >= 0 {
		return floor + i + 2
	}
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if i := strings.LastIndex(text[floor:limit], sep); i >= 0 {
			return floor + i + len(sep)
		}
	}
	if i := strings.LastIndex(text[floor:limit], " "); i >= 0 {
		return floor + i + 1
	}

	// Hard cut. The separators above are ASCII and cannot land inside a
	// multi-byte rune, but an arbitrary byte position can; back up to the
	// nearest rune start so chunks stay valid UTF-8.
	cut := limit
	for cut > start+1 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return cut
}
