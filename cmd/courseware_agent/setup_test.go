package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/courseware-agent/internal/config"
	"github.com/jonathan/courseware-agent/internal/verification"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadSettings(t *testing.T) {
	defaults := config.Defaults()

	tests := []struct {
		name    string
		content string
		apply   func(*config.Config)
		wantErr string
		check   func(t *testing.T, cfg config.Config)
	}{
		{
			name: "defaults only",
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, defaults.Preferences, cfg.Preferences)
				assert.Equal(t, defaults.MinConfidence, cfg.MinConfidence)
				assert.Equal(t, config.DefaultPort, cfg.Port)
			},
		},
		{
			name:    "file values kept",
			content: "min_confidence = 0.8\nmax_retries = 5\ndispatch_dir = \"out\"\n",
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, 0.8, cfg.MinConfidence)
				assert.Equal(t, 5, cfg.MaxRetries)
				assert.Equal(t, "out", cfg.DispatchDir)
				assert.Equal(t, defaults.RoutingMargin, cfg.RoutingMargin)
			},
		},
		{
			name:    "flags override file",
			content: "dispatch_dir = \"out\"\n",
			apply:   func(c *config.Config) { c.DispatchDir = "flag-out" },
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, "flag-out", cfg.DispatchDir)
			},
		},
		{
			name:    "invalid file value",
			content: "min_confidence = 1.5\n",
			wantErr: "min_confidence",
		},
		{
			name:    "unknown preference from flags",
			apply:   func(c *config.Config) { c.Preferences = []string{"nobody"} },
			wantErr: "names no configured backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.content != "" {
				path = writeConfig(t, "courseware.toml", tt.content)
			}
			var out bytes.Buffer

			cfg, err := loadSettings(path, true, &out, tt.apply)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if path != "" {
				assert.Contains(t, out.String(), "Loaded config from")
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	_, err := loadSettings(filepath.Join(t.TempDir(), "missing.json"), false, &bytes.Buffer{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRecordsFor(t *testing.T) {
	t.Setenv("GOOGLE_SHEETS_CREDENTIALS", "")
	t.Setenv("GOOGLE_API_KEY", "test-key")

	t.Run("none configured", func(t *testing.T) {
		src, err := recordsFor(context.Background(), config.Defaults())
		require.NoError(t, err)
		assert.Nil(t, src)
	})

	t.Run("file", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.RecordsPath = "trainees.csv"
		src, err := recordsFor(context.Background(), cfg)
		require.NoError(t, err)
		assert.Equal(t, verification.FileRecords{Path: "trainees.csv"}, src)
	})

	t.Run("sheet takes precedence", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.RecordsPath = "trainees.csv"
		cfg.RecordsSheetID = "sheet-123"
		src, err := recordsFor(context.Background(), cfg)
		require.NoError(t, err)
		assert.IsType(t, &verification.SheetRecords{}, src)
	})
}
