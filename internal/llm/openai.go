package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/metalagman/fraudcrew/internal/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI wraps the OpenAI Responses API for oneshot calls.
type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
}

// NewOpenAI constructs a new OpenAI API client.
func NewOpenAI(cfg Config, httpClient *http.Client) (*OpenAI, error) {
	model := modelName(cfg.Model, config.ProviderOpenAI)
	if model == "" {
		return nil, fmt.Errorf("openai model is required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithRequestTimeout(timeoutOrDefault(cfg.Timeout)),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

// Model returns the configured model.
func (c *OpenAI) Model() string {
	return c.model
}

// Generate executes a single Responses API request.
func (c *OpenAI) Generate(ctx context.Context, req Request) (Response, error) {
	params := responses.ResponseNewParams{
		Model:       c.model,
		Temperature: openai.Float(c.temperature),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(req.Prompt),
		},
	}
	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("openai responses.create: %w", err)
	}
	if msg := strings.TrimSpace(resp.Error.Message); msg != "" {
		return Response{}, fmt.Errorf("openai response failed: %s", msg)
	}

	output := strings.TrimSpace(resp.OutputText())
	if output == "" {
		return Response{}, fmt.Errorf("openai response did not contain output text")
	}
	return Response{Text: output}, nil
}

var _ Client = (*OpenAI)(nil)
