// Package ingest feeds documents through the embedding encoder into the
// vector index: splitting into overlapping chunks, assigning stable ids,
// and batch-embedding for throughput.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/koopa0/sage/internal/log"
	"github.com/koopa0/sage/internal/vector"
)

// Encoder is the embedding capability the ingestor needs.
// Interfaces are defined by the consumer, not the provider; embed.Encoder
// satisfies this.
type Encoder interface {
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Inserter is the index capability the ingestor needs; *vector.Index
// satisfies this.
type Inserter interface {
	Insert(chunks []vector.Chunk) error
	Contains(id string) bool
}

// defaultExtensions are the file types ingested from directories.
var defaultExtensions = map[string]bool{
	".txt": true,
	".md":  true,
	".rst": true,
	".csv": true,
}

// embedBatchSize bounds how many chunks go to the encoder per call.
const embedBatchSize = 32

// Result summarizes one ingestion run.
type Result struct {
	ChunksAdded   int
	ChunksSkipped int // already present (idempotent re-ingest)
	FilesFailed   int
	Duration      time.Duration
}

// Ingestor chunks documents and writes their embeddings to the index.
type Ingestor struct {
	encoder    Encoder
	index      Inserter
	chunker    *Chunker
	extensions map[string]bool
	logger     log.Logger
}

// New creates an Ingestor. A nil chunker uses default parameters; nil
// extensions use the built-in text-file set.
func New(encoder Encoder, index Inserter, chunker *Chunker, logger log.Logger) (*Ingestor, error) {
	if encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if chunker == nil {
		chunker = NewChunker()
	}
	if logger == nil {
		logger = log.NewNop()
	}

	exts := make(map[string]bool, len(defaultExtensions))
	for k, v := range defaultExtensions {
		exts[k] = v
	}

	return &Ingestor{
		encoder:    encoder,
		index:      index,
		chunker:    chunker,
		extensions: exts,
		logger:     logger,
	}, nil
}

// IngestText chunks, embeds, and indexes one document. Chunks whose id is
// already present are skipped without re-embedding, so re-ingesting an
// unchanged document costs no encoder calls and leaves the index unchanged.
func (ing *Ingestor) IngestText(ctx context.Context, sourceID, text string) (Result, error) {
	start := time.Now()
	var res Result

	chunks := ing.chunker.Split(sourceID, text)
	if len(chunks) == 0 {
		res.Duration = time.Since(start)
		return res, nil
	}

	var fresh []Chunk
	for _, c := range chunks {
		if ing.index.Contains(c.ID) {
			res.ChunksSkipped++
			continue
		}
		fresh = append(fresh, c)
	}

	for batchStart := 0; batchStart < len(fresh); batchStart += embedBatchSize {
		batchEnd := min(batchStart+embedBatchSize, len(fresh))
		batch := fresh[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vecs, err := ing.encoder.EncodeBatch(ctx, texts)
		if err != nil {
			return res, fmt.Errorf("embedding chunks %d-%d of %q: %w", batchStart, batchEnd, sourceID, err)
		}

		indexed := make([]vector.Chunk, len(batch))
		for i, c := range batch {
			indexed[i] = vector.Chunk{
				ID:       c.ID,
				SourceID: c.SourceID,
				Text:     c.Text,
				Offset:   c.Offset,
				Vector:   vecs[i],
			}
		}
		if err := ing.index.Insert(indexed); err != nil {
			return res, fmt.Errorf("indexing chunks of %q: %w", sourceID, err)
		}
		res.ChunksAdded += len(batch)
	}

	res.Duration = time.Since(start)
	ing.logger.Debug("ingested document",
		"source_id", sourceID,
		"chunks_added", res.ChunksAdded,
		"chunks_skipped", res.ChunksSkipped,
	)
	return res, nil
}

// IngestFile ingests a single file, using its cleaned path as source id.
func (ing *Ingestor) IngestFile(ctx context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("reading %q: %w", path, err)
	}
	return ing.IngestText(ctx, filepath.Clean(path), string(data))
}

// IngestDir walks a directory and ingests every supported file. Individual
// file failures are counted and logged, not fatal to the walk.
func (ing *Ingestor) IngestDir(ctx context.Context, dir string) (Result, error) {
	start := time.Now()
	var total Result

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			// Skip hidden directories like .git.
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !ing.extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		res, ferr := ing.IngestFile(ctx, path)
		if ferr != nil {
			total.FilesFailed++
			ing.logger.Warn("skipping file", "path", path, "error", ferr)
			return nil
		}
		total.ChunksAdded += res.ChunksAdded
		total.ChunksSkipped += res.ChunksSkipped
		return nil
	})
	total.Duration = time.Since(start)
	if err != nil {
		return total, fmt.Errorf("walking %q: %w", dir, err)
	}
	return total, nil
}
