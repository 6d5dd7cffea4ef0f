package classifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// GeminiBackend uses the generate-content API through the genai SDK
type GeminiBackend struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

// NewGemini creates a Gemini backend. Endpoint overrides the API base URL.
func NewGemini(ctx context.Context, cfg Config, httpClient *http.Client) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, &Error{Kind: KindAuth, Backend: BackendGemini, Message: "API key is required"}
	}
	model := cfg.Model
	if model == "" {
		model = DefaultConfig().Model
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.Endpoint != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiBackend{
		client:      client,
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

// Classify sends prompt as a single user turn and returns the candidate text
func (g *GeminiBackend) Classify(ctx context.Context, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	if g.maxTokens > 0 {
		config.MaxOutputTokens = g.maxTokens
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return "", geminiError(err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &Error{Kind: KindMalformed, Backend: BackendGemini, Message: "response contained no text"}
	}
	return text, nil
}

// geminiError maps SDK errors onto failure kinds using the API status when
// available and the error text otherwise.
func geminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindUnavailable, Backend: BackendGemini, Err: err}
	}

	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return statusError(BackendGemini, apiErr.Code, apiErr.Message+" "+apiErr.Status)
	}

	// Without an APIError only the wording is left to go on
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case isQuotaMessage(msg):
		return &Error{Kind: KindRateLimited, Backend: BackendGemini, Status: http.StatusTooManyRequests,
			Message: "rate limit or quota exceeded, wait and retry or check your plan", Err: err}
	case strings.Contains(lower, "api key") || strings.Contains(lower, "permission_denied") || strings.Contains(lower, "unauthenticated"):
		return &Error{Kind: KindAuth, Backend: BackendGemini, Err: err}
	default:
		return &Error{Kind: KindUnavailable, Backend: BackendGemini, Err: err}
	}
}
