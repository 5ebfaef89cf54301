package vector

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Sentinel errors for index operations.
var (
	// ErrDimensionMismatch indicates a chunk vector whose dimension differs
	// from the dimension established by the first insert.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrCorruptIndex indicates a persisted index file that failed
	// validation (bad magic, truncation, checksum mismatch).
	ErrCorruptIndex = errors.New("corrupt index file")
)

// Metric selects the similarity measure used by Query.
type Metric uint8

const (
	// MetricCosine ranks by cosine similarity; higher scores are better.
	MetricCosine Metric = iota

	// MetricL2 ranks by Euclidean distance; lower scores are better.
	MetricL2
)

// String returns the metric name for logs and the persistence header.
func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricL2:
		return "l2"
	default:
		return fmt.Sprintf("metric(%d)", uint8(m))
	}
}

// Chunk is a bounded span of source-document text together with its
// embedding. Chunks are immutable once inserted.
type Chunk struct {
	ID       string    // stable, content-derived identifier
	SourceID string    // originating document
	Text     string    // chunk text
	Offset   int       // byte offset of Text within the source document
	Vector   []float32 // embedding, dimension fixed per index
}

// Result pairs a chunk with its query score. For cosine the score is a
// similarity in [-1, 1]; for L2 it is a distance >= 0.
type Result struct {
	Chunk Chunk
	Score float64
}

// snapshot is the immutable state published to readers.
type snapshot struct {
	dim    int
	chunks []Chunk
	ids    map[string]struct{}
}

var emptySnapshot = &snapshot{ids: map[string]struct{}{}}

// Index is an append-only in-memory vector index.
// It is safe for concurrent use by multiple goroutines.
type Index struct {
	metric Metric

	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]
}

// New creates an empty index. The dimension is established by the first
// inserted chunk; the metric is fixed for the index lifetime.
func New(metric Metric) *Index {
	idx := &Index{metric: metric}
	idx.snap.Store(emptySnapshot)
	return idx
}

// Metric returns the metric fixed at construction.
func (idx *Index) Metric() Metric { return idx.metric }

// Len returns the number of stored chunks.
func (idx *Index) Len() int { return len(idx.snap.Load().chunks) }

// Dimension returns the established vector dimension, or 0 before the
// first insert.
func (idx *Index) Dimension() int { return idx.snap.Load().dim }

// Insert appends chunks to the index. The operation is all-or-nothing:
// if any chunk has a mismatched dimension the index is left unchanged and
// ErrDimensionMismatch is returned. Chunks whose ID is already present are
// skipped, which makes re-ingesting an unchanged document a no-op.
func (idx *Index) Insert(chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()

	// Validate every chunk before touching anything.
	dim := cur.dim
	for _, c := range chunks {
		if len(c.Vector) == 0 {
			return fmt.Errorf("chunk %q has empty vector: %w", c.ID, ErrDimensionMismatch)
		}
		if dim == 0 {
			dim = len(c.Vector)
			continue
		}
		if len(c.Vector) != dim {
			return fmt.Errorf("chunk %q has dimension %d, index has %d: %w",
				c.ID, len(c.Vector), dim, ErrDimensionMismatch)
		}
	}

	next := &snapshot{
		dim:    dim,
		chunks: make([]Chunk, len(cur.chunks), len(cur.chunks)+len(chunks)),
		ids:    make(map[string]struct{}, len(cur.ids)+len(chunks)),
	}
	copy(next.chunks, cur.chunks)
	for id := range cur.ids {
		next.ids[id] = struct{}{}
	}

	for _, c := range chunks {
		if _, dup := next.ids[c.ID]; dup {
			continue
		}
		next.ids[c.ID] = struct{}{}
		next.chunks = append(next.chunks, c)
	}

	idx.snap.Store(next)
	return nil
}

// Contains reports whether a chunk with the given ID is stored.
func (idx *Index) Contains(id string) bool {
	_, ok := idx.snap.Load().ids[id]
	return ok
}

// Query returns the k chunks most similar to the probe vector, best first.
// Ties are broken by insertion order (earlier wins) and the result is
// deterministic for identical inputs. k is clamped to the index size; an
// empty index yields an empty result, not an error. A probe whose dimension
// does not match the index is rejected with ErrDimensionMismatch.
func (idx *Index) Query(probe []float32, k int) ([]Result, error) {
	snap := idx.snap.Load()
	if len(snap.chunks) == 0 || k <= 0 {
		return nil, nil
	}
	if len(probe) != snap.dim {
		return nil, fmt.Errorf("probe has dimension %d, index has %d: %w",
			len(probe), snap.dim, ErrDimensionMismatch)
	}

	results := make([]Result, 0, len(snap.chunks))
	for _, c := range snap.chunks {
		results = append(results, Result{Chunk: c, Score: idx.score(probe, c.Vector)})
	}

	// Stable sort preserves insertion order among equal scores.
	if idx.metric == MetricL2 {
		sort.SliceStable(results, func(i, j int) bool { return results[i].Score < results[j].Score })
	} else {
		sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	}

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// score computes the metric between two equal-length vectors in float64 to
// avoid accumulating float32 rounding error over long vectors.
func (idx *Index) score(a, b []float32) float64 {
	switch idx.metric {
	case MetricL2:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum)
	default: // MetricCosine
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 0
		}
		return dot / (math.Sqrt(na) * math.Sqrt(nb))
	}
}
