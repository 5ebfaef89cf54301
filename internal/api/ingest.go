package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/koopa0/sage/internal/ingest"
	"github.com/koopa0/sage/internal/log"
)

const (
	maxIngestBodyBytes = 32 << 20
	maxUploadBytes     = 16 << 20
)

type ingestHandler struct {
	ingestor *ingest.Ingestor

	// save persists the index after a successful ingest. Optional.
	save func() error

	logger log.Logger
}

type ingestRequest struct {
	SourceID string `json:"sourceId"`
	Text     string `json:"text"`
}

type ingestResponse struct {
	SourceID      string `json:"sourceId"`
	ChunksAdded   int    `json:"chunksAdded"`
	ChunksSkipped int    `json:"chunksSkipped"`
}

// handle accepts either a JSON body {sourceId, text} or a multipart form
// with a "file" part.
func (h *ingestHandler) handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodyBytes)

	sourceID, text, msg := h.extract(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, codeValidation, msg, h.logger)
		return
	}

	res, err := h.ingestor.IngestText(r.Context(), sourceID, text)
	if err != nil {
		h.logger.Error("ingest failed", "source_id", sourceID, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "ingestion failed", h.logger)
		return
	}

	if h.save != nil {
		if err := h.save(); err != nil {
			h.logger.Error("index save after ingest failed", "error", err)
			writeError(w, http.StatusInternalServerError, codeInternal, "index save failed", h.logger)
			return
		}
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		SourceID:      sourceID,
		ChunksAdded:   res.ChunksAdded,
		ChunksSkipped: res.ChunksSkipped,
	}, h.logger)
}

func (h *ingestHandler) extract(r *http.Request) (sourceID, text, errMsg string) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", "", "multipart request needs a 'file' part"
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			return "", "", "reading uploaded file failed"
		}
		if len(data) > maxUploadBytes {
			return "", "", "uploaded file too large"
		}
		return header.Filename, string(data), ""
	}

	var in ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return "", "", "invalid request body"
	}
	if in.SourceID == "" {
		return "", "", "sourceId is required"
	}
	if strings.TrimSpace(in.Text) == "" {
		return "", "", "text is required"
	}
	return in.SourceID, in.Text, ""
}
