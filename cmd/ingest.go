package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koopa0/sage/internal/app"
	"github.com/koopa0/sage/internal/config"
	"github.com/koopa0/sage/internal/ingest"
)

// runIngest indexes the given files or directories and persists the
// index before exiting.
func runIngest(paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("usage: sage ingest <path>...")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	var total ingest.Result
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		var res ingest.Result
		if info.IsDir() {
			res, err = a.Ingestor.IngestDir(ctx, path)
		} else {
			res, err = a.Ingestor.IngestFile(ctx, path)
		}
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}

		total.ChunksAdded += res.ChunksAdded
		total.ChunksSkipped += res.ChunksSkipped
		total.FilesFailed += res.FilesFailed
		total.Duration += res.Duration
	}

	if err := a.SaveIndex(); err != nil {
		return fmt.Errorf("saving index: %w", err)
	}

	fmt.Printf("Indexed %d chunks (%d already present, %d files failed) in %s\n",
		total.ChunksAdded, total.ChunksSkipped, total.FilesFailed, total.Duration.Round(time.Millisecond))
	fmt.Printf("Index: %s (%d vectors)\n", cfg.IndexPath, a.Index.Len())
	return nil
}
