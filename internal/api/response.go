package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/koopa0/sage/internal/log"
)

// Stable error codes returned to clients.
const (
	codeValidation  = "VALIDATION"
	codeRateLimited = "RATE_LIMITED"
	codeExhausted   = "PROVIDER_EXHAUSTED"
	codeTimeout     = "TIMEOUT"
	codeInternal    = "INTERNAL"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code. Encoding
// into a buffer first means headers are only sent after a successful
// encode, so an encode failure can still produce a proper 500.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("write response body", "error", err)
	}
}

// writeError writes the standard error envelope.
func writeError(w http.ResponseWriter, status int, code, message string, logger log.Logger) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}}, logger)
}
