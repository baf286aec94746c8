// Package config provides configuration loading and validation for the CLI
// and the API server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"google.golang.org/api/option"

	"github.com/jonathan/courseware-agent/internal/gateway"
	"github.com/jonathan/courseware-agent/internal/llm"
	"github.com/jonathan/courseware-agent/internal/pipeline"
	"github.com/jonathan/courseware-agent/internal/verification"
)

// DefaultPort is the API server port used when none is configured.
const DefaultPort = 8080

// Config represents the configuration that can be loaded from a JSON or TOML
// file. All fields are optional; missing values use defaults or CLI flags.
type Config struct {
	// Backends replaces the built-in backend catalog when non-empty.
	Backends    []llm.BackendConfig `json:"backends,omitempty" toml:"backends,omitempty"`
	Preferences []string            `json:"preferences,omitempty" toml:"preferences,omitempty"`
	CatalogPath string              `json:"catalog,omitempty" toml:"catalog,omitempty"` // YAML artifact catalog override

	// Thresholds
	MinConfidence    float64 `json:"min_confidence,omitempty" toml:"min_confidence,omitempty"`
	RoutingMargin    float64 `json:"routing_margin,omitempty" toml:"routing_margin,omitempty"`
	RoutingFloor     float64 `json:"routing_floor,omitempty" toml:"routing_floor,omitempty"`
	ConfidentScore   float64 `json:"confident_score,omitempty" toml:"confident_score,omitempty"`
	NameMatchRatio   float64 `json:"name_match_ratio,omitempty" toml:"name_match_ratio,omitempty"`
	RecordMatchRatio float64 `json:"record_match_ratio,omitempty" toml:"record_match_ratio,omitempty"`
	TimeoutSeconds   int     `json:"timeout_seconds,omitempty" toml:"timeout_seconds,omitempty"` // per gateway attempt
	MaxRetries       int     `json:"max_retries,omitempty" toml:"max_retries,omitempty"`
	MaxConcurrency   int     `json:"max_concurrency,omitempty" toml:"max_concurrency,omitempty"` // per backend
	ConcurrentTasks  int     `json:"concurrent_tasks,omitempty" toml:"concurrent_tasks,omitempty"`

	// Registry
	RegistryURL        string `json:"registry_url,omitempty" toml:"registry_url,omitempty"`
	RegistryResourceID string `json:"registry_resource_id,omitempty" toml:"registry_resource_id,omitempty"`
	SkipRegistry       bool   `json:"skip_registry,omitempty" toml:"skip_registry,omitempty"`

	// Training records: a CSV/XLSX file, or a Google Sheets range when a sheet ID is set
	RecordsPath       string `json:"records_path,omitempty" toml:"records_path,omitempty"`
	RecordsSheetID    string `json:"records_sheet_id,omitempty" toml:"records_sheet_id,omitempty"`
	RecordsSheetRange string `json:"records_sheet_range,omitempty" toml:"records_sheet_range,omitempty"`

	// Storage and output
	DatabaseURL string `json:"database_url,omitempty" toml:"database_url,omitempty"` // PostgreSQL connection URL
	DataDir     string `json:"data_dir,omitempty" toml:"data_dir,omitempty"`         // local SQLite archive directory
	DispatchDir string `json:"dispatch_dir,omitempty" toml:"dispatch_dir,omitempty"` // structured records are written here

	Port    int  `json:"port,omitempty" toml:"port,omitempty"`
	Verbose bool `json:"verbose,omitempty" toml:"verbose,omitempty"`
}

// LoadConfig loads configuration from a JSON or TOML file, chosen by extension.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	run := pipeline.DefaultRunConfig()
	gw := gateway.DefaultOptions()
	return Config{
		Backends:         llm.DefaultCatalog(),
		Preferences:      llm.DefaultPreferences(),
		MinConfidence:    run.Verification.MinConfidence,
		RoutingMargin:    run.Routing.Margin,
		RoutingFloor:     run.Routing.Floor,
		ConfidentScore:   run.Routing.ConfidentScore,
		NameMatchRatio:   run.Verification.NameMatchThreshold,
		RecordMatchRatio: run.Verification.RecordMatchThreshold,
		TimeoutSeconds:   int(run.Extraction.Timeout / time.Second),
		MaxRetries:       gw.MaxRetries,
		MaxConcurrency:   gw.MaxConcurrency,
		ConcurrentTasks:  run.Extraction.MaxConcurrentTasks,
		RegistryURL:      verification.DefaultRegistryURL,
		Port:             DefaultPort,
	}
}

// Validate checks that the configuration has valid values.
// Missing values are not errors; they are filled by MergeWithDefaults.
func (c *Config) Validate() error {
	for _, ratio := range []struct {
		name  string
		value float64
	}{
		{"min_confidence", c.MinConfidence},
		{"routing_margin", c.RoutingMargin},
		{"routing_floor", c.RoutingFloor},
		{"confident_score", c.ConfidentScore},
		{"name_match_ratio", c.NameMatchRatio},
		{"record_match_ratio", c.RecordMatchRatio},
	} {
		if ratio.value < 0 || ratio.value > 1 {
			return fmt.Errorf("config error: '%s' must be between 0 and 1", ratio.name)
		}
	}

	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("config error: 'timeout_seconds' must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config error: 'max_retries' must be non-negative")
	}
	if c.MaxConcurrency < 0 || c.ConcurrentTasks < 0 {
		return fmt.Errorf("config error: concurrency limits must be non-negative")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' out of range: %d", c.Port)
	}

	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if seen[b.Name] {
			return fmt.Errorf("config error: duplicate backend %q", b.Name)
		}
		seen[b.Name] = true
	}

	// Preferences may only name declared backends once a catalog is given.
	if len(c.Backends) > 0 {
		for _, p := range c.Preferences {
			if !seen[p] {
				return fmt.Errorf("config error: preference %q names no configured backend", p)
			}
		}
	}

	if c.CatalogPath != "" {
		if _, err := os.Stat(c.CatalogPath); os.IsNotExist(err) {
			return fmt.Errorf("config error: catalog file not found: %s", c.CatalogPath)
		}
	}
	if c.RecordsPath != "" {
		if _, err := os.Stat(c.RecordsPath); os.IsNotExist(err) {
			return fmt.Errorf("config error: training records file not found: %s", c.RecordsPath)
		}
	}
	if c.RecordsSheetRange != "" && c.RecordsSheetID == "" {
		return fmt.Errorf("config error: 'records_sheet_range' requires 'records_sheet_id'")
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// This is used to apply config file values as defaults for CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if len(result.Backends) == 0 {
		result.Backends = defaults.Backends
	}
	if len(result.Preferences) == 0 {
		result.Preferences = defaults.Preferences
	}

	// String fields: use default if empty
	if result.CatalogPath == "" {
		result.CatalogPath = defaults.CatalogPath
	}
	if result.RegistryURL == "" {
		result.RegistryURL = defaults.RegistryURL
	}
	if result.RegistryResourceID == "" {
		result.RegistryResourceID = defaults.RegistryResourceID
	}
	if result.RecordsPath == "" {
		result.RecordsPath = defaults.RecordsPath
	}
	if result.RecordsSheetID == "" {
		result.RecordsSheetID = defaults.RecordsSheetID
	}
	if result.RecordsSheetRange == "" {
		result.RecordsSheetRange = defaults.RecordsSheetRange
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.DataDir == "" {
		result.DataDir = defaults.DataDir
	}
	if result.DispatchDir == "" {
		result.DispatchDir = defaults.DispatchDir
	}

	// Numeric fields: use default if zero
	if result.MinConfidence == 0 {
		result.MinConfidence = defaults.MinConfidence
	}
	if result.RoutingMargin == 0 {
		result.RoutingMargin = defaults.RoutingMargin
	}
	if result.RoutingFloor == 0 {
		result.RoutingFloor = defaults.RoutingFloor
	}
	if result.ConfidentScore == 0 {
		result.ConfidentScore = defaults.ConfidentScore
	}
	if result.NameMatchRatio == 0 {
		result.NameMatchRatio = defaults.NameMatchRatio
	}
	if result.RecordMatchRatio == 0 {
		result.RecordMatchRatio = defaults.RecordMatchRatio
	}
	if result.TimeoutSeconds == 0 {
		result.TimeoutSeconds = defaults.TimeoutSeconds
	}
	if result.MaxRetries == 0 {
		result.MaxRetries = defaults.MaxRetries
	}
	if result.MaxConcurrency == 0 {
		result.MaxConcurrency = defaults.MaxConcurrency
	}
	if result.ConcurrentTasks == 0 {
		result.ConcurrentTasks = defaults.ConcurrentTasks
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// RunConfig converts the thresholds into the per-run configuration handed to
// the orchestrator.
func (c *Config) RunConfig() pipeline.RunConfig {
	run := pipeline.DefaultRunConfig()
	run.Preferences = append([]string(nil), c.Preferences...)

	if c.RoutingMargin > 0 {
		run.Routing.Margin = c.RoutingMargin
	}
	if c.RoutingFloor > 0 {
		run.Routing.Floor = c.RoutingFloor
	}
	if c.ConfidentScore > 0 {
		run.Routing.ConfidentScore = c.ConfidentScore
	}
	if c.MinConfidence > 0 {
		run.Verification.MinConfidence = c.MinConfidence
	}
	if c.NameMatchRatio > 0 {
		run.Verification.NameMatchThreshold = c.NameMatchRatio
	}
	if c.RecordMatchRatio > 0 {
		run.Verification.RecordMatchThreshold = c.RecordMatchRatio
	}
	if c.TimeoutSeconds > 0 {
		timeout := time.Duration(c.TimeoutSeconds) * time.Second
		run.Routing.Timeout = timeout
		run.Extraction.Timeout = timeout
		run.Verification.Timeout = timeout
	}
	if c.ConcurrentTasks > 0 {
		run.Extraction.MaxConcurrentTasks = c.ConcurrentTasks
	}
	return run
}

// GatewayOptions returns the retry policy for the model gateway.
func (c *Config) GatewayOptions() gateway.Options {
	opts := gateway.DefaultOptions()
	opts.MaxRetries = c.MaxRetries
	if c.MaxConcurrency > 0 {
		opts.MaxConcurrency = c.MaxConcurrency
	}
	return opts
}

// RegistryOptions returns the ACRA registry client settings. The API key is
// read from ACRA_API_KEY when set.
func (c *Config) RegistryOptions() verification.ACRAOptions {
	return verification.ACRAOptions{
		BaseURL:    c.RegistryURL,
		ResourceID: c.RegistryResourceID,
		APIKey:     os.Getenv("ACRA_API_KEY"),
	}
}

// RecordsSheetOptions returns the Google Sheets settings for training
// records. Credentials come from GOOGLE_SHEETS_CREDENTIALS (a service account
// key file) or, failing that, GOOGLE_API_KEY for publicly shared sheets.
func (c *Config) RecordsSheetOptions() verification.SheetOptions {
	opts := verification.SheetOptions{SpreadsheetID: c.RecordsSheetID, Range: c.RecordsSheetRange}
	if path := os.Getenv("GOOGLE_SHEETS_CREDENTIALS"); path != "" {
		opts.ClientOptions = append(opts.ClientOptions, option.WithCredentialsFile(path))
	} else if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		opts.ClientOptions = append(opts.ClientOptions, option.WithAPIKey(key))
	}
	return opts
}
