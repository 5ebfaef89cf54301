package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/koopa0/sage/internal/app"
	"github.com/koopa0/sage/internal/config"
)

const queryTopK = 5

// runQuery embeds the given text and prints the closest indexed chunks.
// Debugging aid for inspecting what retrieval would feed a chat turn.
func runQuery(args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return fmt.Errorf("usage: sage query <text>")
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

	if a.Index.Len() == 0 {
		fmt.Println("Index is empty. Run `sage ingest <path>` first.")
		return nil
	}

	probe, err := a.Encoder.Encode(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding query: %w", err)
	}

	results, err := a.Index.Query(probe, queryTopK)
	if err != nil {
		return fmt.Errorf("querying index: %w", err)
	}

	fmt.Printf("%d matches for %q:\n\n", len(results), text)
	for i, r := range results {
		preview := r.Chunk.Text
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		fmt.Printf("%d. [%s] score=%.4f offset=%d\n%s\n\n",
			i+1, r.Chunk.SourceID, r.Score, r.Chunk.Offset, preview)
	}
	return nil
}
