// Package llm provides language-model backend configuration and client abstractions.
// Every backend exposes the same narrow capability so the gateway can route
// between providers without knowing their wire formats.
package llm

import (
	"fmt"
	"os"
	"time"
)

// Provider represents an LLM provider wire protocol
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderGemini is the Google Gemini SDK
	ProviderGemini Provider = "gemini"
	// ProviderOpenAI is any OpenAI-compatible /chat/completions endpoint
	ProviderOpenAI Provider = "openai"
	// ProviderAnthropic is the Anthropic /v1/messages API
	ProviderAnthropic Provider = "anthropic"
)

// Well-known base URLs for OpenAI-compatible providers.
const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	OpenAIBaseURL     = "https://api.openai.com/v1"
	DeepSeekBaseURL   = "https://api.deepseek.com/v1"
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	GrokBaseURL       = "https://api.x.ai/v1"
	AnthropicBaseURL  = "https://api.anthropic.com"
)

// DefaultRequestTimeout bounds a single HTTP exchange with a provider.
const DefaultRequestTimeout = 120 * time.Second

// DefaultTemperature matches the low-variance setting used for extraction.
const DefaultTemperature = 0.2

// BackendConfig describes one named backend (provider + model + credentials).
type BackendConfig struct {
	Name              string   `json:"name" toml:"name"`
	Provider          Provider `json:"provider" toml:"provider"`
	Model             string   `json:"model" toml:"model"`
	BaseURL           string   `json:"base_url,omitempty" toml:"base_url,omitempty"`
	APIKeyEnv         string   `json:"api_key_env" toml:"api_key_env"`
	Temperature       float64  `json:"temperature,omitempty" toml:"temperature,omitempty"`
	TimeoutSeconds    int      `json:"timeout_seconds,omitempty" toml:"timeout_seconds,omitempty"`
	MaxConcurrency    int      `json:"max_concurrency,omitempty" toml:"max_concurrency,omitempty"`
	RequestsPerSecond float64  `json:"requests_per_second,omitempty" toml:"requests_per_second,omitempty"`
}

// Validate checks that the backend is usable.
func (c BackendConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("backend name is required")
	}
	if c.Model == "" {
		return fmt.Errorf("backend %s: model is required", c.Name)
	}
	switch c.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("backend %s: unknown provider %q", c.Name, c.Provider)
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("backend %s: max_concurrency must be non-negative", c.Name)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("backend %s: requests_per_second must be non-negative", c.Name)
	}
	return nil
}

// Timeout returns the per-request HTTP timeout.
func (c BackendConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// APIKey resolves the backend's API key from the environment.
func (c BackendConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// DefaultCatalog returns the built-in backend choices. Most models are routed
// through OpenRouter; Gemini is also available directly.
func DefaultCatalog() []BackendConfig {
	return []BackendConfig{
		{
			Name:        "DeepSeek-Chat",
			Provider:    ProviderOpenAI,
			Model:       "deepseek/deepseek-chat",
			BaseURL:     OpenRouterBaseURL,
			APIKeyEnv:   "OPENROUTER_API_KEY",
			Temperature: DefaultTemperature,
		},
		{
			Name:        "GPT-4o-Mini",
			Provider:    ProviderOpenAI,
			Model:       "openai/gpt-4o-mini",
			BaseURL:     OpenRouterBaseURL,
			APIKeyEnv:   "OPENROUTER_API_KEY",
			Temperature: DefaultTemperature,
		},
		{
			Name:        "Claude-Sonnet-3.5",
			Provider:    ProviderOpenAI,
			Model:       "anthropic/claude-3.5-sonnet",
			BaseURL:     OpenRouterBaseURL,
			APIKeyEnv:   "OPENROUTER_API_KEY",
			Temperature: DefaultTemperature,
		},
		{
			Name:        "Gemini-Flash",
			Provider:    ProviderOpenAI,
			Model:       "google/gemini-2.0-flash-exp",
			BaseURL:     OpenRouterBaseURL,
			APIKeyEnv:   "OPENROUTER_API_KEY",
			Temperature: DefaultTemperature,
		},
		{
			Name:        "Gemini-Pro",
			Provider:    ProviderOpenAI,
			Model:       "google/gemini-pro-1.5",
			BaseURL:     OpenRouterBaseURL,
			APIKeyEnv:   "OPENROUTER_API_KEY",
			Temperature: DefaultTemperature,
		},
		{
			Name:        "Gemini-Direct",
			Provider:    ProviderGemini,
			Model:       "gemini-2.5-flash",
			APIKeyEnv:   "GEMINI_API_KEY",
			Temperature: 0.1,
		},
		{
			Name:        "Claude-Direct",
			Provider:    ProviderAnthropic,
			Model:       "claude-3-5-sonnet-latest",
			BaseURL:     AnthropicBaseURL,
			APIKeyEnv:   "ANTHROPIC_API_KEY",
			Temperature: DefaultTemperature,
		},
	}
}

// DefaultPreferences is the fallback order used when the caller supplies none.
func DefaultPreferences() []string {
	return []string{"DeepSeek-Chat", "GPT-4o-Mini", "Gemini-Direct"}
}

// FindBackend looks up a backend config by name.
func FindBackend(catalog []BackendConfig, name string) (BackendConfig, bool) {
	for _, c := range catalog {
		if c.Name == name {
			return c, true
		}
	}
	return BackendConfig{}, false
}
