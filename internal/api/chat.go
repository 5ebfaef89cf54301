package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/koopa0/sage/internal/agent"
	"github.com/koopa0/sage/internal/log"
	"github.com/koopa0/sage/internal/orchestrator"
	"github.com/koopa0/sage/internal/provider"
)

const maxChatBodyBytes = 1 << 20

// chatRequest is the JSON body for both chat endpoints.
type chatRequest struct {
	Message  string            `json:"message"`
	ChatID   string            `json:"chatId,omitempty"`
	AgentID  string            `json:"agentId"`
	Provider string            `json:"provider,omitempty"`
	Model    string            `json:"model,omitempty"`
	APIKeys  map[string]string `json:"apiKeys,omitempty"`
}

// chatResponse is the JSON body for the non-streaming endpoint.
type chatResponse struct {
	ChatID         string                `json:"chatId"`
	Text           string                `json:"text"`
	Provider       string                `json:"provider"`
	Degraded       bool                  `json:"degraded,omitempty"`
	DegradedReason string                `json:"degradedReason,omitempty"`
	Sources        []orchestrator.Source `json:"sources,omitempty"`
}

type chatHandler struct {
	orch   *orchestrator.Orchestrator
	logger log.Logger
}

// parse decodes and validates the request body into an orchestrator
// request. Validation failures return a client-facing message.
func (h *chatHandler) parse(r *http.Request) (orchestrator.Request, string) {
	var in chatRequest
	r.Body = http.MaxBytesReader(nil, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return orchestrator.Request{}, "invalid request body"
	}
	if in.Message == "" {
		return orchestrator.Request{}, "message is required"
	}
	if in.AgentID == "" {
		return orchestrator.Request{}, "agentId is required"
	}

	req := orchestrator.Request{
		Message:  in.Message,
		AgentID:  in.AgentID,
		Provider: in.Provider,
		Model:    in.Model,
		APIKeys:  in.APIKeys,
	}
	if in.ChatID != "" {
		id, err := uuid.Parse(in.ChatID)
		if err != nil {
			return orchestrator.Request{}, "chatId must be a UUID"
		}
		req.ThreadID = id
	}
	return req, ""
}

// errorStatus maps orchestration failures onto HTTP status + stable code.
func errorStatus(err error) (int, string) {
	var exhausted *provider.ExhaustedError
	switch {
	case errors.Is(err, orchestrator.ErrEmptyMessage),
		errors.Is(err, agent.ErrUnknownAgent),
		errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusBadRequest, codeValidation
	case errors.As(err, &exhausted):
		return http.StatusBadGateway, codeExhausted
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeTimeout
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// send handles POST /api/v1/chat.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	req, msg := h.parse(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, codeValidation, msg, h.logger)
		return
	}

	res, err := h.orch.Chat(r.Context(), req)
	if err != nil {
		status, code := errorStatus(err)
		h.logger.Error("chat failed", "error", err, "status", status,
			"request_id", requestIDFromContext(r.Context()))
		writeError(w, status, code, err.Error(), h.logger)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ChatID:         res.ThreadID.String(),
		Text:           res.Text,
		Provider:       res.Provider,
		Degraded:       res.Degraded,
		DegradedReason: res.DegradedReason,
		Sources:        res.Sources,
	}, h.logger)
}

// SSE event types for chat streaming.
const (
	eventChunk = "chunk"
	eventDone  = "done"
	eventError = "error"
)

type chunkPayload struct {
	Text string `json:"text"`
}

type donePayload struct {
	ChatID         string `json:"chatId"`
	Text           string `json:"text"`
	Provider       string `json:"provider"`
	Degraded       bool   `json:"degraded,omitempty"`
	DegradedReason string `json:"degradedReason,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// stream handles POST /api/v1/chat/stream with SSE.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	req, msg := h.parse(r)
	if msg != "" {
		_ = writeEvent(w, flusher, eventError, errorPayload{Code: codeValidation, Message: msg})
		return
	}

	stream, err := h.orch.ChatStream(r.Context(), req)
	if err != nil {
		_, code := errorStatus(err)
		h.logger.Error("chat stream failed to start", "error", err,
			"request_id", requestIDFromContext(r.Context()))
		_ = writeEvent(w, flusher, eventError, errorPayload{Code: code, Message: err.Error()})
		return
	}
	defer stream.Close()

	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			degraded, reason := stream.Degraded()
			_ = writeEvent(w, flusher, eventDone, donePayload{
				ChatID:         stream.ThreadID().String(),
				Text:           stream.Text(),
				Provider:       stream.Provider(),
				Degraded:       degraded,
				DegradedReason: reason,
			})
			return
		}
		if err != nil {
			// Fragments already sent cannot be unsent; signal the break
			// and stop without a done event.
			_, code := errorStatus(err)
			h.logger.Error("chat stream interrupted", "error", err,
				"request_id", requestIDFromContext(r.Context()))
			_ = writeEvent(w, flusher, eventError, errorPayload{Code: code, Message: err.Error()})
			return
		}
		if err := writeEvent(w, flusher, eventChunk, chunkPayload{Text: frag}); err != nil {
			// Client went away.
			h.logger.Debug("stream write failed", "error", err)
			return
		}
	}
}

// writeEvent writes one SSE event: "event: <type>\ndata: <json>\n\n".
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}
