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

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "gpt-oss:20b"
)

// OllamaBackend uses a local Ollama server's generate API
type OllamaBackend struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	temperature float64
}

// NewOllama creates an Ollama backend
func NewOllama(cfg Config, httpClient *http.Client) *OllamaBackend {
	baseURL := cfg.Endpoint
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaBackend{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: cfg.Temperature,
	}
}

// Classify runs a non-streaming generate request
func (o *OllamaBackend) Classify(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(models.OllamaRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  false,
		Options: map[string]any{"temperature": o.temperature},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", &Error{Kind: KindUnavailable, Backend: BackendOllama, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &Error{Kind: KindUnavailable, Backend: BackendOllama, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError(BackendOllama, resp.StatusCode, string(respBody))
	}

	var ollamaResp models.OllamaResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		return "", &Error{Kind: KindMalformed, Backend: BackendOllama, Message: "invalid response body", Err: err}
	}
	if ollamaResp.Error != "" {
		return "", &Error{Kind: KindUnavailable, Backend: BackendOllama, Message: ollamaResp.Error}
	}
	if strings.TrimSpace(ollamaResp.Response) == "" {
		return "", &Error{Kind: KindMalformed, Backend: BackendOllama, Message: "empty response"}
	}
	return ollamaResp.Response, nil
}
