package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/sage/internal/log"
)

// health is a liveness probe.
func health(logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readiness reports whether dependencies are reachable. A nil pool means
// history is disabled, which is still ready.
func readiness(pool *pgxpool.Pool, indexLen func() int, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{
			"status":     "ok",
			"index_size": indexLen(),
			"history":    pool != nil,
		}

		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				logger.Warn("readiness: database unreachable", "error", err)
				out["status"] = "degraded"
				out["history"] = false
				writeJSON(w, http.StatusServiceUnavailable, out, logger)
				return
			}
		}
		writeJSON(w, http.StatusOK, out, logger)
	}
}
