// Package app wires configuration into the running component graph and
// owns its lifecycle.
package app

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/sage/internal/agent"
	"github.com/koopa0/sage/internal/config"
	"github.com/koopa0/sage/internal/embed"
	"github.com/koopa0/sage/internal/history"
	"github.com/koopa0/sage/internal/ingest"
	"github.com/koopa0/sage/internal/log"
	"github.com/koopa0/sage/internal/orchestrator"
	"github.com/koopa0/sage/internal/provider"
	"github.com/koopa0/sage/internal/vector"
	"github.com/koopa0/sage/internal/websearch"
)

// App holds the initialized component graph.
type App struct {
	Config *config.Config
	Logger log.Logger

	Index        *vector.Index
	Encoder      embed.Encoder
	Ingestor     *ingest.Ingestor
	Router       *provider.Router
	Registry     *agent.Registry
	Orchestrator *orchestrator.Orchestrator

	// Optional collaborators; nil when not configured.
	Pool    *pgxpool.Pool
	History *history.Store
	Search  *websearch.Client

	otelShutdown func(context.Context) error
}

// SaveIndex persists the index to the configured path.
func (a *App) SaveIndex() error {
	return a.Index.Save(a.Config.IndexPath)
}

// Close releases everything Setup initialized. Safe to call on a
// partially initialized App.
func (a *App) Close() error {
	var errs []error
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	return errors.Join(errs...)
}
