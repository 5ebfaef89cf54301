package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitEmptyDocument(t *testing.T) {
	c := NewChunker()
	if got := c.Split("doc", ""); got != nil {
		t.Errorf("expected nil for empty document, got %d chunks", len(got))
	}
	if got := c.Split("doc", "   \n\t  "); got != nil {
		t.Errorf("expected nil for whitespace document, got %d chunks", len(got))
	}
}

func TestSplitShortDocumentSingleChunk(t *testing.T) {
	c := NewChunker()
	chunks := c.Split("doc", "short document")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "short document" {
		t.Errorf("chunk text = %q", chunks[0].Text)
	}
	if chunks[0].Offset != 0 {
		t.Errorf("chunk offset = %d, want 0", chunks[0].Offset)
	}
}

func TestSplitPrefersParagraphBreaks(t *testing.T) {
	para1 := strings.Repeat("alpha ", 100) // 600 bytes
	para2 := strings.Repeat("beta ", 100)
	text := para1 + "\n\n" + para2

	c := NewChunker(WithChunkSize(800), WithOverlap(100))
	chunks := c.Split("doc", text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	// The first cut falls inside [400, 800]; the paragraph break at 600
	// sits in that window and must win over a mid-sentence cut.
	if !strings.HasSuffix(chunks[0].Text, "\n\n") {
		t.Errorf("first chunk does not end at paragraph break: ...%q",
			chunks[0].Text[len(chunks[0].Text)-20:])
	}
}

func TestSplitOverlap(t *testing.T) {
	text := strings.Repeat("word ", 600) // 3000 bytes
	c := NewChunker(WithChunkSize(1000), WithOverlap(200))
	chunks := c.Split("doc", text)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		gap := chunks[i].Offset - chunks[i-1].Offset
		if gap <= 0 {
			t.Fatalf("chunk %d does not advance: offsets %d then %d", i, chunks[i-1].Offset, chunks[i].Offset)
		}
		if chunks[i].Offset >= chunks[i-1].Offset+len(chunks[i-1].Text) {
			t.Errorf("chunks %d and %d do not overlap", i-1, i)
		}
	}
}

func TestSplitCoversWholeDocument(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 80)
	c := NewChunker(WithChunkSize(500), WithOverlap(50))
	chunks := c.Split("doc", text)

	last := chunks[len(chunks)-1]
	if last.Offset+len(last.Text) != len(text) {
		t.Errorf("final chunk ends at %d, document is %d bytes", last.Offset+len(last.Text), len(text))
	}
	for _, ch := range chunks {
		if text[ch.Offset:ch.Offset+len(ch.Text)] != ch.Text {
			t.Fatalf("chunk at offset %d does not match source slice", ch.Offset)
		}
	}
}

func TestChunkIDsStableAcrossRuns(t *testing.T) {
	text := strings.Repeat("sentence one. sentence two. ", 100)
	c := NewChunker()

	first := c.Split("doc-1", text)
	second := c.Split("doc-1", text)
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("chunk %d id differs across runs", i)
		}
	}

	// Different source, same content: different ids.
	other := c.Split("doc-2", text)
	if first[0].ID == other[0].ID {
		t.Error("chunk ids collide across different sources")
	}
}

func TestChunkIDsDependOnParameters(t *testing.T) {
	text := strings.Repeat("content ", 300)
	a := NewChunker(WithChunkSize(1000), WithOverlap(100)).Split("doc", text)
	b := NewChunker(WithChunkSize(800), WithOverlap(100)).Split("doc", text)
	if a[0].ID == b[0].ID {
		t.Error("chunk ids identical despite different chunking parameters")
	}
}

func TestOverlapClampedBelowSize(t *testing.T) {
	// Overlap >= size would loop forever; the constructor clamps it.
	c := NewChunker(WithChunkSize(100), WithOverlap(100))
	text := strings.Repeat("x y z ", 200)
	chunks := c.Split("doc", text)
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}
}

func TestSplitAdvancesWithLargeOverlap(t *testing.T) {
	// A cut can land as early as the window midpoint, so any overlap in
	// [size/2, size) could walk the start position backward past zero.
	// Construct directly to bypass the constructor clamp and pin Split's
	// own progress guarantee.
	text := strings.Repeat("The quick brown fox jumps over the lazy dog again. ", 40)
	for overlap := 50; overlap < 100; overlap += 7 {
		c := &Chunker{size: 100, overlap: overlap}
		chunks := c.Split("doc", text)
		if len(chunks) == 0 {
			t.Fatalf("overlap %d: no chunks produced", overlap)
		}
		for i := 1; i < len(chunks); i++ {
			if chunks[i].Offset <= chunks[i-1].Offset {
				t.Fatalf("overlap %d: chunk %d does not advance (offsets %d then %d)",
					overlap, i, chunks[i-1].Offset, chunks[i].Offset)
			}
		}
		last := chunks[len(chunks)-1]
		if last.Offset+len(last.Text) != len(text) {
			t.Errorf("overlap %d: document not fully covered", overlap)
		}
	}
}

func TestSplitKeepsRuneBoundaries(t *testing.T) {
	// No ASCII break characters anywhere, so every cut is a hard cut that
	// must still land on a rune boundary.
	text := strings.Repeat("漢字仮名交じり文", 100) // 3-byte runes, 2400 bytes
	c := NewChunker(WithChunkSize(500), WithOverlap(100))
	chunks := c.Split("doc", text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if !utf8.ValidString(ch.Text) {
			t.Errorf("chunk %d contains invalid UTF-8 at its boundary", i)
		}
		if text[ch.Offset:ch.Offset+len(ch.Text)] != ch.Text {
			t.Fatalf("chunk %d offset does not match source slice", i)
		}
	}
}
