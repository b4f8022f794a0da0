// Package llm provides text-generation providers for grounded answers.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ivansantander-hub/docuchat/internal/errors"
)

// DefaultTimeout is the default timeout for generation requests.
const DefaultTimeout = 120 * time.Second

// Generator produces a completion for an assembled prompt.
type Generator interface {
	// Generate returns the completion text for the given prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// OllamaConfig configures the Ollama completion provider.
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434).
	Host string
	// Model is the generation model name.
	Model string
	// Timeout is the per-request timeout.
	Timeout time.Duration
}

// ollamaGenerateRequest is the request body for POST /api/generate.
type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// ollamaGenerateResponse is the non-streaming response body.
type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaGenerator generates completions using Ollama's HTTP API.
type OllamaGenerator struct {
	client *http.Client
	config OllamaConfig

	mu     sync.Mutex
	closed bool
}

// Verify interface implementation at compile time.
var _ Generator = (*OllamaGenerator)(nil)

// NewOllamaGenerator creates a new Ollama completion provider.
func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     10 * time.Second,
	}

	return &OllamaGenerator{
		client: &http.Client{Transport: transport},
		config: cfg,
	}
}

// Generate returns the completion for the given prompt.
// Timeouts and rate limits surface as retryable provider errors.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return "", errors.Newf(errors.ErrCodeInternal, "generator is closed")
	}
	g.mu.Unlock()

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  g.config.Model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", errors.New(errors.ErrCodeInternal, "failed to marshal generate request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if reqCtx.Err() == context.DeadlineExceeded {
			return "", errors.New(errors.ErrCodeProviderTimeout, "generation request timed out", err)
		}
		return "", errors.New(errors.ErrCodeProviderUnavailable, "generation request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", errors.Newf(errors.ErrCodeProviderRateLimited, "completion provider rate limited")
	case resp.StatusCode != http.StatusOK:
		respBody, _ := io.ReadAll(resp.Body)
		return "", errors.Newf(errors.ErrCodeProviderUnavailable,
			"generation failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.New(errors.ErrCodeProviderUnavailable, "failed to decode generate response", err)
	}

	return result.Response, nil
}

// ModelName returns the model identifier.
func (g *OllamaGenerator) ModelName() string {
	return g.config.Model
}

// Close releases resources.
func (g *OllamaGenerator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	g.client.CloseIdleConnections()
	return nil
}
