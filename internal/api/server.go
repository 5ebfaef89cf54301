// Package api exposes the chat orchestrator over HTTP: JSON endpoints,
// an SSE streaming endpoint, and ingestion upload.
package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/sage/internal/agent"
	"github.com/koopa0/sage/internal/history"
	"github.com/koopa0/sage/internal/ingest"
	"github.com/koopa0/sage/internal/log"
	"github.com/koopa0/sage/internal/orchestrator"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger       log.Logger
	Orchestrator *orchestrator.Orchestrator // required
	Registry     *agent.Registry            // required
	Ingestor     *ingest.Ingestor           // optional: nil disables ingest endpoint
	SaveIndex    func() error               // optional: persists the index after ingest
	History      *history.Store             // optional: nil disables thread listing
	Pool         *pgxpool.Pool              // optional: pool health in /ready
	IndexLen     func() int                 // reported by /ready
	RateRPS      float64                    // per-IP refill rate (0 = 10)
	RateBurst    int                        // per-IP burst (0 = 30)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("agent registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.IndexLen == nil {
		cfg.IndexLen = func() int { return 0 }
	}

	ch := &chatHandler{orch: cfg.Orchestrator, logger: logger}
	ah := &agentsHandler{registry: cfg.Registry, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)
	mux.HandleFunc("GET /api/v1/agents", ah.list)

	if cfg.Ingestor != nil {
		ih := &ingestHandler{ingestor: cfg.Ingestor, save: cfg.SaveIndex, logger: logger}
		mux.HandleFunc("POST /api/v1/ingest", ih.handle)
	}
	if cfg.History != nil {
		th := &threadsHandler{store: cfg.History, logger: logger}
		mux.HandleFunc("GET /api/v1/chats", th.list)
		mux.HandleFunc("GET /api/v1/chats/{id}/messages", th.messages)
	}

	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 30
	}
	rl := newRateLimiter(rps, burst)

	// Middleware stack, outermost first:
	//   Recovery → RequestID → Logging → RateLimit → Routes
	// RequestID before Logging so request_id appears in log attributes.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, cfg.IndexLen, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
