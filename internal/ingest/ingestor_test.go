package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/koopa0/sage/internal/log"
	"github.com/koopa0/sage/internal/vector"
)

// hashEncoder is a deterministic fake encoder: the vector depends only on
// the text, so identical text always embeds identically.
type hashEncoder struct {
	calls int
}

func (e *hashEncoder) Dimension() int { return 4 }

func (e *hashEncoder) EncodeBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		var v [4]float32
		for j, r := range t {
			v[j%4] += float32(r)
		}
		out[i] = v[:]
	}
	return out, nil
}

type failingEncoder struct{}

func (failingEncoder) Dimension() int { return 4 }
func (failingEncoder) EncodeBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("encoder unavailable")
}

func TestIngestText(t *testing.T) {
	idx := vector.New(vector.MetricCosine)
	ing, err := New(&hashEncoder{}, idx, NewChunker(WithChunkSize(200), WithOverlap(40)), log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text := strings.Repeat("Indexes speed up lookups. Use CREATE INDEX. ", 40)
	res, err := ing.IngestText(context.Background(), "postgres-guide", text)
	if err != nil {
		t.Fatalf("IngestText: %v", err)
	}
	if res.ChunksAdded == 0 {
		t.Fatal("no chunks added")
	}
	if idx.Len() != res.ChunksAdded {
		t.Errorf("index has %d chunks, result reports %d", idx.Len(), res.ChunksAdded)
	}
}

func TestReingestIsIdempotent(t *testing.T) {
	idx := vector.New(vector.MetricCosine)
	enc := &hashEncoder{}
	ing, err := New(enc, idx, NewChunker(WithChunkSize(200), WithOverlap(40)), log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text := strings.Repeat("Stable chunk ids make re-ingestion a no-op. ", 40)
	first, err := ing.IngestText(context.Background(), "doc", text)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	callsAfterFirst := enc.calls

	probeVecs, err := enc.EncodeBatch(context.Background(), []string{"re-ingestion"})
	if err != nil {
		t.Fatal(err)
	}
	before, err := idx.Query(probeVecs[0], 5)
	if err != nil {
		t.Fatal(err)
	}

	second, err := ing.IngestText(context.Background(), "doc", text)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.ChunksAdded != 0 {
		t.Errorf("re-ingest added %d chunks, want 0", second.ChunksAdded)
	}
	if second.ChunksSkipped != first.ChunksAdded {
		t.Errorf("re-ingest skipped %d chunks, want %d", second.ChunksSkipped, first.ChunksAdded)
	}
	// No encoder calls for already-indexed chunks (beyond the probe above).
	if enc.calls != callsAfterFirst+1 {
		t.Errorf("re-ingest called the encoder %d extra times", enc.calls-callsAfterFirst-1)
	}

	// Query results are unchanged.
	after, err := idx.Query(probeVecs[0], 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != len(after) {
		t.Fatalf("result count changed: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Chunk.ID != after[i].Chunk.ID {
			t.Errorf("result %d changed after re-ingest", i)
		}
	}
}

func TestIngestTextEncoderFailure(t *testing.T) {
	idx := vector.New(vector.MetricCosine)
	ing, err := New(failingEncoder{}, idx, nil, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = ing.IngestText(context.Background(), "doc", "some content to embed")
	if err == nil {
		t.Fatal("expected error from failing encoder")
	}
	if idx.Len() != 0 {
		t.Errorf("index modified despite encoder failure: %d chunks", idx.Len())
	}
}

func TestIngestDir(t *testing.T) {
	dir := t.TempDir()
	writeFile := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	writeFile("a.md", strings.Repeat("markdown notes about indexes. ", 20))
	writeFile("b.txt", strings.Repeat("plain text about vacuums. ", 20))
	writeFile("c.bin", "binary-ish, unsupported extension")

	idx := vector.New(vector.MetricCosine)
	ing, err := New(&hashEncoder{}, idx, nil, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := ing.IngestDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("IngestDir: %v", err)
	}
	if res.ChunksAdded == 0 {
		t.Fatal("no chunks ingested from directory")
	}
	if res.FilesFailed != 0 {
		t.Errorf("unexpected file failures: %d", res.FilesFailed)
	}

	// The unsupported extension must not have been indexed.
	probe := make([]float32, 4)
	results, err := idx.Query(probe, 100)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if strings.HasSuffix(r.Chunk.SourceID, "c.bin") {
			t.Error("unsupported file was ingested")
		}
	}
}
