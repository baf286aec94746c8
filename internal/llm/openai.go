package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIBackend talks to any OpenAI-compatible /chat/completions endpoint
// (OpenRouter, OpenAI, DeepSeek, Groq, Grok).
type OpenAIBackend struct {
	client  *http.Client
	config  BackendConfig
	baseURL string
	apiKey  string
}

// chatCompletionRequest is the OpenAI /chat/completions request format.
type chatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []chatCompletionMsg `json:"messages"`
	Temperature float64             `json:"temperature,omitempty"`
}

// chatCompletionMsg is the OpenAI chat message format.
type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionResponse is the OpenAI /chat/completions response format.
type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIBackend creates a backend for an OpenAI-compatible API.
func NewOpenAIBackend(cfg BackendConfig, apiKey string) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, &PermanentError{Backend: cfg.Name, Message: "API key is required"}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = OpenAIBaseURL
	}

	return &OpenAIBackend{
		client:  &http.Client{Timeout: cfg.Timeout()},
		config:  cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
	}, nil
}

// Name returns the backend name
func (s *OpenAIBackend) Name() string {
	return s.config.Name
}

// Generate sends a single-turn chat completion.
func (s *OpenAIBackend) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := chatCompletionRequest{
		Model:       s.config.Model,
		Messages:    []chatCompletionMsg{{Role: "user", Content: prompt}},
		Temperature: s.config.Temperature,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", &PermanentError{Backend: s.config.Name, Message: "marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", &PermanentError{Backend: s.config.Name, Message: "create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", ClassifyError(s.config.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", ClassifyError(s.config.Name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", ClassifyStatus(s.config.Name, resp.StatusCode, string(body))
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", &TransientError{Backend: s.config.Name, Message: "decode response", Cause: err}
	}
	if chatResp.Error != nil {
		return "", &TransientError{Backend: s.config.Name, Message: fmt.Sprintf("provider error: %s", chatResp.Error.Message)}
	}
	if len(chatResp.Choices) == 0 {
		return "", &TransientError{Backend: s.config.Name, Message: "no choices in response"}
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// Close is a no-op; the HTTP client holds no resources.
func (s *OpenAIBackend) Close() error {
	return nil
}
