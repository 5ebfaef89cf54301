package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultOllamaModel is the default local embedding model.
const DefaultOllamaModel = "nomic-embed-text"

// OllamaConfig configures the Ollama encoder.
type OllamaConfig struct {
	Host      string        // e.g. http://localhost:11434
	Model     string        // empty = DefaultOllamaModel
	Dimension int           // expected output dimension, required
	Timeout   time.Duration // per-request timeout, 0 = 60s
}

// Ollama encodes text with a local Ollama instance via its REST API.
// It is safe for concurrent use.
type Ollama struct {
	host   string
	model  string
	dim    int
	client *http.Client
}

// NewOllama creates an Ollama encoder.
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ollama encoder: host is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("ollama encoder: dimension is required")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Ollama{
		host:   cfg.Host,
		model:  model,
		dim:    cfg.Dimension,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Dimension returns the configured output dimension.
func (o *Ollama) Dimension() int { return o.dim }

// Encode embeds a single text.
func (o *Ollama) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EncodeBatch embeds texts in one API call.
func (o *Ollama) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := checkInputs(texts); err != nil {
		return nil, err
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama embed: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, msg)
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("ollama embed: decoding response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d embeddings for %d texts: %w",
			len(parsed.Embeddings), len(texts), ErrEmptyEmbedding)
	}
	for i, v := range parsed.Embeddings {
		if len(v) != o.dim {
			return nil, fmt.Errorf("ollama embed: embedding %d has dimension %d, want %d",
				i, len(v), o.dim)
		}
	}
	return parsed.Embeddings, nil
}
