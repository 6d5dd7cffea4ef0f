package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/docutag/curator/models"
)

const defaultChatEndpoint = "https://api.openai.com/v1"

// ChatBackend talks to any OpenAI-compatible chat completions endpoint
type ChatBackend struct {
	httpClient  *http.Client
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
}

// NewChat creates a chat completion backend
func NewChat(cfg Config, httpClient *http.Client) (*ChatBackend, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("chat backend requires a model")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultChatEndpoint
	}
	return &ChatBackend{
		httpClient:  httpClient,
		endpoint:    strings.TrimRight(endpoint, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Classify posts a single user message and returns the first choice
func (c *ChatBackend) Classify(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(models.ChatRequest{
		Model:       c.model,
		Messages:    []models.ChatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Kind: KindUnavailable, Backend: BackendChat, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &Error{Kind: KindUnavailable, Backend: BackendChat, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(BackendChat, resp.StatusCode, string(respBody))
	}

	var chatResp models.ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", &Error{Kind: KindMalformed, Backend: BackendChat, Message: "invalid response body", Err: err}
	}
	if chatResp.Error != nil {
		if isQuotaMessage(chatResp.Error.Message) || isQuotaMessage(chatResp.Error.Type) {
			return "", statusError(BackendChat, http.StatusTooManyRequests, chatResp.Error.Message)
		}
		return "", &Error{Kind: KindUnavailable, Backend: BackendChat, Message: chatResp.Error.Message}
	}
	if len(chatResp.Choices) == 0 || strings.TrimSpace(chatResp.Choices[0].Message.Content) == "" {
		return "", &Error{Kind: KindMalformed, Backend: BackendChat, Message: "response contained no choices"}
	}
	return chatResp.Choices[0].Message.Content, nil
}
