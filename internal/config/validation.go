package config

import (
	"fmt"
	"strings"
)

var knownProviders = map[string]bool{
	ProviderGemini: true,
	ProviderOpenAI: true,
	ProviderOllama: true,
}

// Validate performs fail-fast validation of the whole configuration.
// Credential presence is checked per provider chain membership: a provider
// without its key is allowed (it degrades to per-request overrides), but
// an empty chain is not.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("%w: provider chain is empty", ErrInvalidProvider)
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if !knownProviders[p] {
			return fmt.Errorf("%w: %q (want gemini, openai, or ollama)", ErrInvalidProvider, p)
		}
		if seen[p] {
			return fmt.Errorf("%w: %q listed twice", ErrInvalidProvider, p)
		}
		seen[p] = true
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (want 0.0-2.0)", ErrInvalidTemperature, c.Temperature)
	}

	if !knownProviders[c.EmbedProvider] {
		return fmt.Errorf("%w: embed provider %q", ErrInvalidProvider, c.EmbedProvider)
	}
	if c.EmbedProvider == ProviderGemini && c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY is required for the gemini embedder", ErrMissingAPIKey)
	}
	if c.EmbedDimension < 1 || c.EmbedDimension > 4096 {
		return fmt.Errorf("%w: %d (want 1-4096)", ErrInvalidDimension, c.EmbedDimension)
	}

	switch c.IndexMetric {
	case "cosine", "l2":
	default:
		return fmt.Errorf("invalid index metric %q (want cosine or l2)", c.IndexMetric)
	}

	if c.ChunkSize < 64 {
		return fmt.Errorf("%w: chunk size %d (want >= 64)", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap*2 >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d with size %d (want overlap < size/2)", ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}

	if c.ListenAddr == "" || !strings.Contains(c.ListenAddr, ":") {
		return fmt.Errorf("%w: %q", ErrInvalidAddr, c.ListenAddr)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request timeout %v", c.RequestTimeout)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("invalid rate limit %v requests/second", c.RateLimitRPS)
	}
	return nil
}
