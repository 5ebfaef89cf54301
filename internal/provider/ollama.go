package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "llama3.2"
)

// Ollama adapts a local Ollama server. No credentials are required.
type Ollama struct {
	host  string
	model string
	httpc *http.Client
}

// OllamaConfig configures an Ollama adapter.
type OllamaConfig struct {
	Host    string        // defaults to DefaultOllamaHost
	Model   string        // defaults to DefaultOllamaModel
	Timeout time.Duration // defaults to defaultHTTPTimeout
}

// NewOllama creates an Ollama adapter.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}

	return &Ollama{
		host:  strings.TrimRight(cfg.Host, "/"),
		model: cfg.Model,
		httpc: &http.Client{Timeout: cfg.Timeout},
	}
}

func (o *Ollama) Name() string { return "ollama" }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

func (o *Ollama) Generate(ctx context.Context, req Request) (*Result, error) {
	resp, err := o.post(ctx, o.body(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, classifyTransport(o.Name(), fmt.Errorf("decode response: %w", err))
	}
	return &Result{Text: out.Message.Content}, nil
}

func (o *Ollama) GenerateStream(ctx context.Context, req Request) (Stream, error) {
	resp, err := o.post(ctx, o.body(req, true))
	if err != nil {
		return nil, err
	}
	return &ndjsonStream{provider: o.Name(), body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

func (o *Ollama) body(req Request, stream bool) ollamaChatRequest {
	body := ollamaChatRequest{Model: o.model, Stream: stream}
	if req.Model != "" {
		body.Model = req.Model
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		body.Options = map[string]any{}
		if req.Temperature > 0 {
			body.Options["temperature"] = req.Temperature
		}
		if req.MaxTokens > 0 {
			body.Options["num_predict"] = req.MaxTokens
		}
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	return body
}

func (o *Ollama) post(ctx context.Context, body ollamaChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &FatalError{Provider: o.Name(), Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, &FatalError{Provider: o.Name(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpc.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(o.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, classifyStatus(o.Name(), resp.StatusCode, string(detail))
	}
	return resp, nil
}

// ndjsonStream reads one JSON object per line until done is signalled.
type ndjsonStream struct {
	provider string
	body     io.ReadCloser
	scanner  *bufio.Scanner
	done     bool
}

func (s *ndjsonStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", classifyTransport(s.provider, fmt.Errorf("decode chunk: %w", err))
		}
		if chunk.Done {
			s.done = true
			if chunk.Message.Content == "" {
				return "", io.EOF
			}
		}
		return chunk.Message.Content, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", classifyTransport(s.provider, err)
	}
	s.done = true
	return "", io.EOF
}

func (s *ndjsonStream) Close() error {
	return s.body.Close()
}
