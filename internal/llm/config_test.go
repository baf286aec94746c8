package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()
	require.NotEmpty(t, catalog)

	for _, cfg := range catalog {
		assert.NoError(t, cfg.Validate(), cfg.Name)
	}

	ds, ok := FindBackend(catalog, "DeepSeek-Chat")
	require.True(t, ok)
	assert.Equal(t, ProviderOpenAI, ds.Provider)
	assert.Equal(t, OpenRouterBaseURL, ds.BaseURL)
	assert.Equal(t, "deepseek/deepseek-chat", ds.Model)
	assert.InDelta(t, 0.2, ds.Temperature, 1e-9)

	_, ok = FindBackend(catalog, "nope")
	assert.False(t, ok)
}

func TestDefaultPreferences_AreInCatalog(t *testing.T) {
	catalog := DefaultCatalog()
	for _, name := range DefaultPreferences() {
		_, ok := FindBackend(catalog, name)
		assert.True(t, ok, name)
	}
}

func TestBackendConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     BackendConfig
		wantErr string
	}{
		{name: "missing name", cfg: BackendConfig{Model: "m", Provider: ProviderOpenAI}, wantErr: "name is required"},
		{name: "missing model", cfg: BackendConfig{Name: "a", Provider: ProviderOpenAI}, wantErr: "model is required"},
		{name: "bad provider", cfg: BackendConfig{Name: "a", Model: "m", Provider: "cohere"}, wantErr: "unknown provider"},
		{name: "negative concurrency", cfg: BackendConfig{Name: "a", Model: "m", Provider: ProviderGemini, MaxConcurrency: -1}, wantErr: "max_concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBackendConfig_APIKeyAndTimeout(t *testing.T) {
	t.Setenv("TEST_BACKEND_KEY", "sk-123")

	cfg := BackendConfig{APIKeyEnv: "TEST_BACKEND_KEY"}
	assert.Equal(t, "sk-123", cfg.APIKey())
	assert.Equal(t, DefaultRequestTimeout, cfg.Timeout())

	cfg.TimeoutSeconds = 5
	assert.Equal(t, 5*time.Second, cfg.Timeout())

	assert.Equal(t, "", BackendConfig{}.APIKey())
}
