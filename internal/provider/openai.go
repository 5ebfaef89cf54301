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
	// DefaultOpenAIBaseURL targets the official API; any OpenAI-compatible
	// endpoint (vLLM, LM Studio, gateways) can be substituted.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"

	defaultHTTPTimeout = 120 * time.Second
)

// OpenAI adapts any chat-completions compatible backend.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	httpc   *http.Client
}

// OpenAIConfig configures an OpenAI adapter.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string        // defaults to DefaultOpenAIBaseURL
	Model   string        // defaults to DefaultOpenAIModel
	Timeout time.Duration // defaults to defaultHTTPTimeout
}

// NewOpenAI creates an OpenAI adapter.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrNoCredentials)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}

	return &OpenAI{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		httpc:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openaiChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (*Result, error) {
	resp, err := o.post(ctx, o.body(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out openaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, classifyTransport(o.Name(), fmt.Errorf("decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return nil, &FatalError{Provider: o.Name(), Err: fmt.Errorf("response has no choices")}
	}
	return &Result{Text: out.Choices[0].Message.Content}, nil
}

func (o *OpenAI) GenerateStream(ctx context.Context, req Request) (Stream, error) {
	resp, err := o.post(ctx, o.body(req, true))
	if err != nil {
		return nil, err
	}
	return &sseStream{provider: o.Name(), body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

func (o *OpenAI) body(req Request, stream bool) openaiChatRequest {
	body := openaiChatRequest{
		Model:       o.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if req.Model != "" {
		body.Model = req.Model
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, openaiMessage{Role: string(m.Role), Content: m.Content})
	}
	return body
}

func (o *OpenAI) post(ctx context.Context, body openaiChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &FatalError{Provider: o.Name(), Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &FatalError{Provider: o.Name(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

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

// sseStream reads "data: {json}" lines from a chat-completions stream
// until the "[DONE]" marker.
type sseStream struct {
	provider string
	body     io.ReadCloser
	scanner  *bufio.Scanner
	done     bool
}

func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk openaiChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", classifyTransport(s.provider, fmt.Errorf("decode chunk: %w", err))
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", classifyTransport(s.provider, err)
	}
	s.done = true
	return "", io.EOF
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
