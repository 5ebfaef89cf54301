package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when a request does not name a backend model.
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini adapts the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// GeminiConfig configures a Gemini adapter.
type GeminiConfig struct {
	APIKey string
	Model  string // defaults to DefaultGeminiModel
}

// NewGemini creates a Gemini adapter.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrNoCredentials)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Generate(ctx context.Context, req Request) (*Result, error) {
	contents, config := g.translate(req)

	resp, err := g.client.Models.GenerateContent(ctx, g.modelFor(req), contents, config)
	if err != nil {
		return nil, g.classify(err)
	}
	return &Result{Text: resp.Text()}, nil
}

func (g *Gemini) GenerateStream(ctx context.Context, req Request) (Stream, error) {
	contents, config := g.translate(req)

	seq := g.client.Models.GenerateContentStream(ctx, g.modelFor(req), contents, config)
	next, stop := iter.Pull2(seq)
	return &geminiStream{g: g, next: next, stop: stop}, nil
}

func (g *Gemini) modelFor(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return g.model
}

// translate maps the normalized request onto the Gemini content shape.
// System messages become the system instruction; assistant turns use the
// "model" role.
func (g *Gemini) translate(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			config.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, config
}

func (g *Gemini) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(g.Name(), apiErr.Code, apiErr.Message)
	}
	return classifyTransport(g.Name(), err)
}

// geminiStream pulls fragments out of the SDK's push iterator.
type geminiStream struct {
	g    *Gemini
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

func (s *geminiStream) Recv() (string, error) {
	resp, err, ok := s.next()
	if !ok {
		return "", io.EOF
	}
	if err != nil {
		return "", s.g.classify(err)
	}
	return resp.Text(), nil
}

func (s *geminiStream) Close() error {
	s.stop()
	return nil
}
