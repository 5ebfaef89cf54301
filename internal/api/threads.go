package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/sage/internal/agent"
	"github.com/koopa0/sage/internal/history"
	"github.com/koopa0/sage/internal/log"
)

// agentsHandler serves the profile listing.
type agentsHandler struct {
	registry *agent.Registry
	logger   log.Logger
}

type agentInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Retrieval   bool   `json:"retrieval"`
	WebSearch   bool   `json:"webSearch"`
}

func (h *agentsHandler) list(w http.ResponseWriter, r *http.Request) {
	profiles := h.registry.List()
	out := make([]agentInfo, len(profiles))
	for i, p := range profiles {
		out[i] = agentInfo{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Retrieval:   p.Retrieval,
			WebSearch:   p.WebSearch,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out}, h.logger)
}

// threadsHandler lists persisted conversations. Registered only when a
// history store is configured.
type threadsHandler struct {
	store  *history.Store
	logger log.Logger
}

type threadInfo struct {
	ID        uuid.UUID `json:"id"`
	AgentID   string    `json:"agentId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *threadsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 200)
	offset := queryInt(r, "offset", 0, 1<<30)

	threads, err := h.store.Threads(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list threads failed", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "listing conversations failed", h.logger)
		return
	}

	out := make([]threadInfo, len(threads))
	for i, t := range threads {
		out[i] = threadInfo{
			ID:        t.ID,
			AgentID:   t.AgentID,
			Title:     t.Title,
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": out}, h.logger)
}

func (h *threadsHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "chat id must be a UUID", h.logger)
		return
	}
	limit := queryInt(r, "limit", 100, 1000)

	msgs, err := h.store.Recent(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("list messages failed", "chat_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "listing messages failed", h.logger)
		return
	}

	type messageInfo struct {
		Role      string    `json:"role"`
		Content   string    `json:"content"`
		Provider  string    `json:"provider,omitempty"`
		CreatedAt time.Time `json:"createdAt"`
	}
	out := make([]messageInfo, len(msgs))
	for i, m := range msgs {
		out[i] = messageInfo{Role: m.Role, Content: m.Content, Provider: m.Provider, CreatedAt: m.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out}, h.logger)
}

func queryInt(r *http.Request, key string, def, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
