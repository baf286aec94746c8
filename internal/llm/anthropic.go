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

// anthropicVersion is the required API version header.
const anthropicVersion = "2023-06-01"

// anthropicMaxTokens caps reply length; extraction replies are small JSON objects.
const anthropicMaxTokens = 4096

// AnthropicBackend talks to the Anthropic /v1/messages API.
type AnthropicBackend struct {
	client  *http.Client
	config  BackendConfig
	baseURL string
	apiKey  string
}

// messagesRequest is the Anthropic /v1/messages request format.
type messagesRequest struct {
	Model       string            `json:"model"`
	Messages    []messagesMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature float64           `json:"temperature,omitempty"`
}

// messagesMessage is the Anthropic message format.
type messagesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesResponse is the Anthropic /v1/messages response format.
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicBackend creates a new Anthropic backend.
func NewAnthropicBackend(cfg BackendConfig, apiKey string) (*AnthropicBackend, error) {
	if apiKey == "" {
		return nil, &PermanentError{Backend: cfg.Name, Message: "API key is required"}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = AnthropicBaseURL
	}

	return &AnthropicBackend{
		client:  &http.Client{Timeout: cfg.Timeout()},
		config:  cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
	}, nil
}

// Name returns the backend name
func (s *AnthropicBackend) Name() string {
	return s.config.Name
}

// Generate sends a single user message.
func (s *AnthropicBackend) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := messagesRequest{
		Model:       s.config.Model,
		Messages:    []messagesMessage{{Role: "user", Content: prompt}},
		MaxTokens:   anthropicMaxTokens,
		Temperature: s.config.Temperature,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", &PermanentError{Backend: s.config.Name, Message: "marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return "", &PermanentError{Backend: s.config.Name, Message: "create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", ClassifyError(s.config.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", ClassifyError(s.config.Name, err)
	}

	// 529 is Anthropic's "overloaded" status
	if resp.StatusCode != http.StatusOK {
		return "", ClassifyStatus(s.config.Name, resp.StatusCode, string(body))
	}

	var msgResp messagesResponse
	if err := json.Unmarshal(body, &msgResp); err != nil {
		return "", &TransientError{Backend: s.config.Name, Message: "decode response", Cause: err}
	}
	if msgResp.Error != nil {
		return "", &TransientError{Backend: s.config.Name, Message: fmt.Sprintf("provider error: %s", msgResp.Error.Message)}
	}

	var parts []string
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", &TransientError{Backend: s.config.Name, Message: "no text content in response"}
	}

	return strings.TrimSpace(strings.Join(parts, "")), nil
}

// Close is a no-op; the HTTP client holds no resources.
func (s *AnthropicBackend) Close() error {
	return nil
}
