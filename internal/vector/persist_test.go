package vector

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileReportsNotExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.sage"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("errors.Is(err, fs.ErrNotExist) = false, err = %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := New(MetricCosine)
	if err := idx.Insert([]Chunk{
		{ID: "a", SourceID: "doc1", Text: "alpha", Offset: 0, Vector: []float32{1, 0, 0}},
		{ID: "b", SourceID: "doc1", Text: "beta", Offset: 120, Vector: []float32{0, 1, 0}},
		{ID: "c", SourceID: "doc2", Text: "gamma", Offset: 0, Vector: []float32{0.5, 0.5, 0}},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	path := filepath.Join(t.TempDir(), "index.bin")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Metric() != idx.Metric() {
		t.Errorf("metric = %v, want %v", loaded.Metric(), idx.Metric())
	}
	if loaded.Len() != idx.Len() {
		t.Errorf("len = %d, want %d", loaded.Len(), idx.Len())
	}
	if loaded.Dimension() != idx.Dimension() {
		t.Errorf("dimension = %d, want %d", loaded.Dimension(), idx.Dimension())
	}

	// Identical top-k answers, in the same order, for a fixed probe.
	probe := []float32{0.7, 0.3, 0}
	want, err := idx.Query(probe, 3)
	if err != nil {
		t.Fatalf("Query original: %v", err)
	}
	got, err := loaded.Query(probe, 3)
	if err != nil {
		t.Fatalf("Query loaded: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("result count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Chunk.ID != want[i].Chunk.ID {
			t.Errorf("result[%d].ID = %q, want %q", i, got[i].Chunk.ID, want[i].Chunk.ID)
		}
		if got[i].Score != want[i].Score {
			t.Errorf("result[%d].Score = %v, want %v", i, got[i].Score, want[i].Score)
		}
		if got[i].Chunk.Offset != want[i].Chunk.Offset {
			t.Errorf("result[%d].Offset = %d, want %d", i, got[i].Chunk.Offset, want[i].Chunk.Offset)
		}
	}
}

func TestSaveLoadEmptyIndex(t *testing.T) {
	idx := New(MetricL2)
	path := filepath.Join(t.TempDir(), "empty.bin")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 0 {
		t.Errorf("expected empty index, got %d chunks", loaded.Len())
	}
	if loaded.Metric() != MetricL2 {
		t.Errorf("metric = %v, want l2", loaded.Metric())
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.bin")
	if err := os.WriteFile(path, []byte("not an index file at all"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrCorruptIndex) {
		t.Fatalf("expected ErrCorruptIndex, got %v", err)
	}
}

func TestLoadRejectsTruncation(t *testing.T) {
	idx := New(MetricCosine)
	if err := idx.Insert([]Chunk{
		{ID: "a", SourceID: "doc", Text: strings.Repeat("x", 100), Vector: []float32{1, 2, 3}},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "index.bin")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// Any truncation must be detected, whether it cuts the checksum, a
	// record, or the header.
	for _, n := range []int{len(data) - 1, len(data) / 2, 10, 3} {
		truncated := filepath.Join(dir, "truncated.bin")
		if err := os.WriteFile(truncated, data[:n], 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(truncated); !errors.Is(err, ErrCorruptIndex) {
			t.Errorf("truncation to %d bytes: expected ErrCorruptIndex, got %v", n, err)
		}
	}
}

func TestLoadRejectsBitFlip(t *testing.T) {
	idx := New(MetricCosine)
	if err := idx.Insert([]Chunk{
		{ID: "a", SourceID: "doc", Text: "payload", Vector: []float32{1, 2}},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "index.bin")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Flip one bit in the middle of the body.
	data[len(data)/2] ^= 0x40

	flipped := filepath.Join(dir, "flipped.bin")
	if err := os.WriteFile(flipped, data, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(flipped); !errors.Is(err, ErrCorruptIndex) {
		t.Fatalf("expected ErrCorruptIndex after bit flip, got %v", err)
	}
}

func TestSaveLeavesNoTempFileBehind(t *testing.T) {
	idx := New(MetricCosine)
	if err := idx.Insert([]Chunk{{ID: "a", Vector: []float32{1}}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "index.bin")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.bin")

	first := New(MetricCosine)
	if err := first.Insert([]Chunk{{ID: "old", Vector: []float32{1, 0}}}); err != nil {
		t.Fatal(err)
	}
	if err := first.Save(path); err != nil {
		t.Fatalf("Save first: %v", err)
	}

	second := New(MetricCosine)
	if err := second.Insert([]Chunk{
		{ID: "new1", Vector: []float32{1, 0}},
		{ID: "new2", Vector: []float32{0, 1}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := second.Save(path); err != nil {
		t.Fatalf("Save second: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 2 || loaded.Contains("old") {
		t.Errorf("old index state survived overwrite: len=%d contains(old)=%v",
			loaded.Len(), loaded.Contains("old"))
	}
}
