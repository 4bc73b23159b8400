// Package llm provides the LLM clients shared by crew agents.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/metalagman/fraudcrew/internal/config"
)

const defaultTimeout = 5 * time.Minute

// Request is a single completion request.
type Request struct {
	// System carries the agent persona.
	System string
	// Prompt carries the task and upstream context.
	Prompt string
}

// Response is a single completion result.
type Response struct {
	Text string
}

// Client generates text. Implementations are safe for sequential reuse by
// every agent of a crew.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Model() string
}

// Config is the provider-independent client configuration.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	Timeout     time.Duration
}

// ConfigFrom combines file configuration with resolved credentials.
func ConfigFrom(cfg config.LLMConfig, creds config.Credentials) Config {
	return Config{
		Provider:    cfg.Provider,
		Model:       creds.Model,
		APIKey:      creds.APIKey,
		BaseURL:     cfg.BaseURL,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
	}
}

// New constructs the client for cfg.Provider.
func New(ctx context.Context, cfg Config, httpClient *http.Client) (Client, error) {
	switch strings.TrimSpace(cfg.Provider) {
	case "", config.ProviderGemini:
		return NewGemini(ctx, cfg, httpClient)
	case config.ProviderOpenAI:
		return NewOpenAI(cfg, httpClient)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// modelName strips a "provider/" routing prefix such as "gemini/".
func modelName(model, provider string) string {
	model = strings.TrimSpace(model)
	return strings.TrimPrefix(model, provider+"/")
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	return d
}
