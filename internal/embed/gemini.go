package embed

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultGeminiModel is the default Gemini embedding model.
// gemini-embedding-001 outputs 3072 dimensions natively but supports
// truncation via OutputDimensionality (Matryoshka Representation Learning);
// we pin 768 to keep index files small.
const (
	DefaultGeminiModel     = "gemini-embedding-001"
	DefaultGeminiDimension = 768
)

// GeminiConfig configures the Gemini encoder.
type GeminiConfig struct {
	APIKey    string
	Model     string // empty = DefaultGeminiModel
	Dimension int    // empty = DefaultGeminiDimension
}

// Gemini encodes text with the Gemini embedding API.
// It is safe for concurrent use.
type Gemini struct {
	client *genai.Client
	model  string
	dim    int
}

// NewGemini creates a Gemini encoder.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini encoder: API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = DefaultGeminiDimension
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Gemini{client: client, model: model, dim: dim}, nil
}

// Dimension returns the configured output dimension.
func (g *Gemini) Dimension() int { return g.dim }

// Encode embeds a single text.
func (g *Gemini) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeBatch embeds texts in one API call.
func (g *Gemini) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := checkInputs(texts); err != nil {
		return nil, err
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	dim := int32(g.dim)
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d embeddings for %d texts: %w",
			len(resp.Embeddings), len(texts), ErrEmptyEmbedding)
	}

	vecs := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("gemini embed: embedding %d: %w", i, ErrEmptyEmbedding)
		}
		if len(e.Values) != g.dim {
			return nil, fmt.Errorf("gemini embed: embedding %d has dimension %d, want %d",
				i, len(e.Values), g.dim)
		}
		vecs[i] = e.Values
	}
	return vecs, nil
}
