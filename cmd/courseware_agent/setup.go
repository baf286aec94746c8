package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/jonathan/courseware-agent/internal/catalog"
	"github.com/jonathan/courseware-agent/internal/config"
	"github.com/jonathan/courseware-agent/internal/fetch"
	"github.com/jonathan/courseware-agent/internal/gateway"
	"github.com/jonathan/courseware-agent/internal/ingestion"
	"github.com/jonathan/courseware-agent/internal/llm"
	"github.com/jonathan/courseware-agent/internal/pipeline"
	"github.com/jonathan/courseware-agent/internal/types"
	"github.com/jonathan/courseware-agent/internal/verification"
)

// openInvoker opens every backend with credentials and wraps them in the
// model gateway. The returned func closes the backends. Tests replace it.
var openInvoker = func(ctx context.Context, cfg config.Config, out io.Writer) (gateway.Invoker, func(), error) {
	backends, skipped, err := llm.OpenAll(ctx, cfg.Backends)
	if err != nil {
		return nil, nil, err
	}
	if len(backends) == 0 {
		return nil, nil, fmt.Errorf("no model backend has credentials; set the API key of at least one of: %s",
			strings.Join(skipped, ", "))
	}
	if cfg.Verbose && len(skipped) > 0 {
		_, _ = fmt.Fprintf(out, "Skipping backends without credentials: %s\n", strings.Join(skipped, ", "))
	}

	gw := gateway.New(backends, cfg.Backends, cfg.GatewayOptions())
	usable := slices.ContainsFunc(cfg.Preferences, func(name string) bool {
		_, ok := backends[name]
		return ok
	})
	if !usable {
		_ = gw.Close()
		return nil, nil, fmt.Errorf("none of the preferred backends (%s) has credentials", strings.Join(cfg.Preferences, ", "))
	}
	return gw, func() { _ = gw.Close() }, nil
}

// loadSettings loads the optional config file, lets apply override values from
// flags the user set explicitly, fills defaults and validates the result.
func loadSettings(path string, verbose bool, out io.Writer, apply func(*config.Config)) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return cfg, err
		}
		cfg = *loaded
		if verbose {
			_, _ = fmt.Fprintf(out, "Loaded config from: %s\n", path)
		}
	}

	if apply != nil {
		apply(&cfg)
	}

	cfg = cfg.MergeWithDefaults(config.Defaults())
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadCatalog returns the pipeline catalog named by the config, or the
// built-in one.
func loadCatalog(cfg config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath == "" {
		return catalog.Default()
	}
	c, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return c, nil
}

// loadDocuments reads local files as uploads and fetches URLs as scraped pages.
func loadDocuments(ctx context.Context, paths, urls []string, useBrowser bool) ([]types.SourceDocument, error) {
	docs := make([]types.SourceDocument, 0, len(paths)+len(urls))
	for _, path := range paths {
		doc, err := ingestion.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		docs = append(docs, doc)
	}

	opts := fetch.DefaultOptions()
	opts.UseBrowser = useBrowser
	for _, url := range urls {
		doc, err := fetchDocument(ctx, url, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// fetchDocument retrieves a scrape-origin document. Tests replace it.
var fetchDocument = fetch.Document

// registryFor returns the ACRA registry client unless lookups are disabled.
func registryFor(cfg config.Config) verification.Registry {
	if cfg.SkipRegistry {
		return nil
	}
	return verification.NewACRARegistry(cfg.RegistryOptions())
}

// recordsFor returns the training records source named by the config: a
// Google Sheets range when a sheet ID is set, else a local file, else none.
func recordsFor(ctx context.Context, cfg config.Config) (verification.RecordsSource, error) {
	switch {
	case cfg.RecordsSheetID != "":
		src, err := verification.NewSheetRecords(ctx, cfg.RecordsSheetOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open training records sheet: %w", err)
		}
		return src, nil
	case cfg.RecordsPath != "":
		return verification.FileRecords{Path: cfg.RecordsPath}, nil
	}
	return nil, nil
}

// dispatcherFor returns a file dispatcher when a dispatch directory is set.
func dispatcherFor(cfg config.Config) pipeline.Dispatcher {
	if cfg.DispatchDir == "" {
		return nil
	}
	return &pipeline.FileDispatcher{Dir: cfg.DispatchDir}
}
