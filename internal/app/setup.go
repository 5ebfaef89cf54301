package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

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

const shutdownTimeout = 5 * time.Second

// Setup builds the component graph from configuration. On error any
// already-initialized component is released before returning.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	a := &App{Config: cfg}

	defer func() {
		if retErr != nil {
			_ = a.Close()
		}
	}()

	a.Logger = provideLogger(cfg)

	var err error
	if a.Index, err = provideIndex(cfg, a.Logger); err != nil {
		return nil, err
	}
	if a.Encoder, err = provideEncoder(ctx, cfg); err != nil {
		return nil, err
	}
	a.Ingestor, err = ingest.New(a.Encoder, a.Index,
		ingest.NewChunker(
			ingest.WithChunkSize(cfg.ChunkSize),
			ingest.WithOverlap(cfg.ChunkOverlap),
		),
		a.Logger.With("component", "ingest"))
	if err != nil {
		return nil, fmt.Errorf("building ingestor: %w", err)
	}

	if a.Router, err = provideRouter(ctx, cfg, a.Logger); err != nil {
		return nil, err
	}
	if a.Registry, err = agent.NewRegistry(agent.DefaultProfiles()); err != nil {
		return nil, fmt.Errorf("building agent registry: %w", err)
	}

	a.Pool, a.History = provideHistory(ctx, cfg, a.Logger)
	a.Search = provideSearch(cfg, a.Logger)

	if a.otelShutdown, err = provideTracing(ctx, cfg, a.Logger); err != nil {
		return nil, err
	}

	orchCfg := orchestrator.Config{
		Registry: a.Registry,
		Router:   a.Router,
		Encoder:  a.Encoder,
		Index:    a.Index,
		Timeout:  cfg.RequestTimeout,
		Logger:   a.Logger.With("component", "orchestrator"),
	}
	if a.History != nil {
		orchCfg.History = a.History
	}
	if a.Search != nil {
		orchCfg.Search = a.Search
	}
	if a.Orchestrator, err = orchestrator.New(orchCfg); err != nil {
		return nil, fmt.Errorf("building orchestrator: %w", err)
	}

	return a, nil
}

func provideLogger(cfg *config.Config) log.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return log.New(log.Config{Level: level, JSON: cfg.LogJSON})
}

func provideIndex(cfg *config.Config, logger log.Logger) (*vector.Index, error) {
	idx, err := vector.Load(cfg.IndexPath)
	switch {
	case err == nil:
		logger.Info("index loaded", "path", cfg.IndexPath, "vectors", idx.Len())
		return idx, nil
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("starting with empty index", "path", cfg.IndexPath)
		metric := vector.MetricCosine
		if cfg.IndexMetric == "l2" {
			metric = vector.MetricL2
		}
		return vector.New(metric), nil
	default:
		return nil, fmt.Errorf("loading index %s: %w", cfg.IndexPath, err)
	}
}

func provideEncoder(ctx context.Context, cfg *config.Config) (embed.Encoder, error) {
	switch cfg.EmbedProvider {
	case config.ProviderGemini:
		enc, err := embed.NewGemini(ctx, embed.GeminiConfig{
			APIKey:    cfg.GeminiAPIKey,
			Model:     cfg.EmbedModel,
			Dimension: cfg.EmbedDimension,
		})
		if err != nil {
			return nil, fmt.Errorf("building gemini encoder: %w", err)
		}
		return enc, nil
	case config.ProviderOllama:
		enc, err := embed.NewOllama(embed.OllamaConfig{
			Host:      cfg.OllamaHost,
			Model:     cfg.EmbedModel,
			Dimension: cfg.EmbedDimension,
		})
		if err != nil {
			return nil, fmt.Errorf("building ollama encoder: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unknown embed provider %q", cfg.EmbedProvider)
	}
}

func provideRouter(ctx context.Context, cfg *config.Config, logger log.Logger) (*provider.Router, error) {
	entries := make([]provider.Entry, 0, len(cfg.Providers))
	for _, id := range cfg.Providers {
		switch id {
		case config.ProviderGemini:
			entries = append(entries, provider.Entry{
				ID: id,
				New: func(ctx context.Context, apiKey string) (provider.Adapter, error) {
					return provider.NewGemini(ctx, provider.GeminiConfig{
						APIKey: apiKey,
						Model:  cfg.GeminiModel,
					})
				},
				DefaultKey:  cfg.GeminiAPIKey,
				RequiresKey: true,
			})
		case config.ProviderOpenAI:
			entries = append(entries, provider.Entry{
				ID: id,
				New: func(ctx context.Context, apiKey string) (provider.Adapter, error) {
					return provider.NewOpenAI(provider.OpenAIConfig{
						APIKey:  apiKey,
						BaseURL: cfg.OpenAIBaseURL,
						Model:   cfg.OpenAIModel,
					})
				},
				DefaultKey:  cfg.OpenAIAPIKey,
				RequiresKey: true,
			})
		case config.ProviderOllama:
			entries = append(entries, provider.Entry{
				ID: id,
				New: func(ctx context.Context, apiKey string) (provider.Adapter, error) {
					return provider.NewOllama(provider.OllamaConfig{
						Host:  cfg.OllamaHost,
						Model: cfg.OllamaModel,
					}), nil
				},
			})
		default:
			return nil, fmt.Errorf("unknown provider %q in chain", id)
		}
	}

	r, err := provider.NewRouter(ctx, provider.RouterConfig{
		Providers: entries,
		Retry:     provider.DefaultRetryConfig(),
		RateLimit: rate.Limit(cfg.RateLimitRPS),
		Logger:    logger.With("component", "router"),
	})
	if err != nil {
		return nil, fmt.Errorf("building provider router: %w", err)
	}
	return r, nil
}

// provideHistory opens the conversation store. History is an optional
// collaborator: failures are logged and chat proceeds without recall.
func provideHistory(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, *history.Store) {
	if cfg.DatabaseURL == "" {
		logger.Info("history persistence disabled, no database_url configured")
		return nil, nil
	}
	if err := history.Migrate(cfg.DatabaseURL); err != nil {
		logger.Warn("history migration failed, continuing without persistence", "error", err)
		return nil, nil
	}
	pool, err := history.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Warn("history connection failed, continuing without persistence", "error", err)
		return nil, nil
	}
	return pool, history.NewStore(pool, logger.With("component", "history"))
}

func provideSearch(cfg *config.Config, logger log.Logger) *websearch.Client {
	if cfg.SearXNGURL == "" {
		return nil
	}
	c, err := websearch.New(websearch.Config{
		BaseURL: cfg.SearXNGURL,
		Logger:  logger.With("component", "websearch"),
	})
	if err != nil {
		logger.Warn("web search disabled", "error", err)
		return nil
	}
	return c
}
