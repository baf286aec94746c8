package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Backend is the single capability every model provider exposes:
// generate a reply for a prompt.
type Backend interface {
	// Name returns the configured backend name
	Name() string
	// Generate sends the prompt and returns the raw reply text
	Generate(ctx context.Context, prompt string) (string, error)
	// Close releases any resources held by the backend
	Close() error
}

// NewBackend creates a backend for the configured provider.
func NewBackend(ctx context.Context, cfg BackendConfig, apiKey string) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case ProviderGemini:
		return NewGeminiBackend(ctx, cfg, apiKey)
	case ProviderAnthropic:
		return NewAnthropicBackend(cfg, apiKey)
	default:
		return NewOpenAIBackend(cfg, apiKey)
	}
}

// OpenAll constructs every backend in the catalog that has credentials
// available. Backends without a key are skipped and reported.
func OpenAll(ctx context.Context, catalog []BackendConfig) (map[string]Backend, []string, error) {
	backends := make(map[string]Backend)
	var skipped []string
	for _, cfg := range catalog {
		key := cfg.APIKey()
		if key == "" {
			skipped = append(skipped, cfg.Name)
			continue
		}
		b, err := NewBackend(ctx, cfg, key)
		if err != nil {
			for _, opened := range backends {
				_ = opened.Close()
			}
			return nil, nil, fmt.Errorf("failed to open backend %s: %w", cfg.Name, err)
		}
		backends[cfg.Name] = b
	}
	return backends, skipped, nil
}

// GeminiBackend implements Backend for Google Gemini
type GeminiBackend struct {
	client *genai.Client
	config BackendConfig
}

// NewGeminiBackend creates a new Gemini backend
func NewGeminiBackend(ctx context.Context, cfg BackendConfig, apiKey string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, &PermanentError{Backend: cfg.Name, Message: "API key is required"}
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiBackend{
		client: client,
		config: cfg,
	}, nil
}

// Name returns the backend name
func (c *GeminiBackend) Name() string {
	return c.config.Name
}

// Generate requests a JSON reply from the configured model
func (c *GeminiBackend) Generate(ctx context.Context, prompt string) (string, error) {
	model := c.client.GenerativeModel(c.config.Model)
	temp := c.config.Temperature
	if temp == 0 {
		temp = 0.1
	}
	model.SetTemperature(float32(temp))
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", ClassifyError(c.config.Name, err)
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return "", &TransientError{Backend: c.config.Name, Message: "empty response", Cause: err}
	}
	return text, nil
}

// Close releases resources held by the client
func (c *GeminiBackend) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}
