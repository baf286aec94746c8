package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/courseware-agent/internal/config"
	"github.com/jonathan/courseware-agent/internal/localstore"
	"github.com/jonathan/courseware-agent/internal/observability"
	"github.com/jonathan/courseware-agent/internal/pipeline"
	"github.com/jonathan/courseware-agent/internal/types"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run a request through routing, extraction and verification",
	Long: `Routes the request text and documents to a pipeline, extracts its fields from the
documents, verifies them and optionally hands the structured record to the generators.

Configuration can be loaded from a JSON or TOML file using --config. Command-line
arguments override config file values.`,
	RunE: runPipelineCmd,
}

var (
	runConfigPath        string
	runText              string
	runDocs              []string
	runURLs              []string
	runPipeline          string
	runPrefer            []string
	runCatalog           string
	runDispatchDir       string
	runDataDir           string
	runNoArchive         bool
	runSkipRegistry      bool
	runRecords           string
	runUseBrowser        bool
	runHandoff           bool
	runAcceptReview      bool
	runAcceptCorrections []string
	runJSON              bool
	runVerbose           bool
)

func init() {
	// Config file flag (processed first)
	runCommand.Flags().StringVar(&runConfigPath, "config", "", "Path to a JSON or TOML config file (values can be overridden by other flags)")

	runCommand.Flags().StringVarP(&runText, "text", "t", "", "Request text")
	runCommand.Flags().StringSliceVarP(&runDocs, "doc", "d", nil, "Document file to attach (repeatable)")
	runCommand.Flags().StringSliceVarP(&runURLs, "url", "u", nil, "Course page URL to scrape and attach (repeatable)")
	runCommand.Flags().StringVarP(&runPipeline, "pipeline", "p", "", "Pipeline to run, skipping routing")
	runCommand.Flags().StringSliceVar(&runPrefer, "prefer", nil, "Backend preference order (comma-separated)")
	runCommand.Flags().StringVar(&runCatalog, "catalog", "", "YAML pipeline catalog replacing the built-in one")
	runCommand.Flags().StringVar(&runDispatchDir, "dispatch-dir", "", "Directory structured records are written to")
	runCommand.Flags().StringVar(&runDataDir, "data-dir", "", "Local archive directory (default ~/.courseware/data)")
	runCommand.Flags().BoolVar(&runNoArchive, "no-archive", false, "Do not archive the run locally")
	runCommand.Flags().BoolVar(&runSkipRegistry, "skip-registry", false, "Skip ACRA registry lookups of UENs")
	runCommand.Flags().StringVar(&runRecords, "records", "", "CSV or XLSX training records the extracted trainee is checked against")
	runCommand.Flags().BoolVar(&runUseBrowser, "use-browser", false, "Use headless browser for JS-rendered course pages (requires Chrome)")
	runCommand.Flags().BoolVar(&runHandoff, "handoff", false, "Dispatch the structured record when the run is ready")
	runCommand.Flags().BoolVar(&runAcceptReview, "accept-review", false, "Accept a NEEDS_REVIEW verdict at hand-off")
	runCommand.Flags().StringSliceVar(&runAcceptCorrections, "accept-correction", nil, "Field whose suggested correction is applied at hand-off (repeatable)")
	runCommand.Flags().BoolVar(&runJSON, "json", false, "Print the final run snapshot as JSON")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print detailed debug information")

	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	out := cmd.OutOrStdout()

	// Step 1: Load config and apply CLI overrides (only flags explicitly set)
	cfg, err := loadSettings(runConfigPath, runVerbose, out, func(c *config.Config) {
		if cmd.Flags().Changed("prefer") {
			c.Preferences = runPrefer
		}
		if cmd.Flags().Changed("catalog") {
			c.CatalogPath = runCatalog
		}
		if cmd.Flags().Changed("dispatch-dir") {
			c.DispatchDir = runDispatchDir
		}
		if cmd.Flags().Changed("data-dir") {
			c.DataDir = runDataDir
		}
		if cmd.Flags().Changed("skip-registry") {
			c.SkipRegistry = runSkipRegistry
		}
		if cmd.Flags().Changed("records") {
			c.RecordsPath = runRecords
			c.RecordsSheetID = ""
		}
		if cmd.Flags().Changed("verbose") {
			c.Verbose = runVerbose
		}
	})
	if err != nil {
		return err
	}

	// Step 2: Validate required inputs
	if runText == "" && len(runDocs) == 0 && len(runURLs) == 0 {
		return fmt.Errorf("provide request text with --text or at least one --doc or --url")
	}
	if runHandoff && cfg.DispatchDir == "" {
		return fmt.Errorf("--handoff requires --dispatch-dir (via flag or config)")
	}

	docs, err := loadDocuments(ctx, runDocs, runURLs, runUseBrowser)
	if err != nil {
		return err
	}

	// Step 3: Collaborators
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	invoker, closeInvoker, err := openInvoker(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer closeInvoker()

	records, err := recordsFor(ctx, cfg)
	if err != nil {
		return err
	}
	deps := pipeline.Deps{
		Gateway:    invoker,
		Catalog:    cat,
		Registry:   registryFor(cfg),
		Records:    records,
		Dispatcher: dispatcherFor(cfg),
	}
	if !runNoArchive {
		store, err := localstore.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open local archive: %w", err)
		}
		defer store.Close()
		deps.Archiver = store
	}

	// Step 4: Run
	orch := pipeline.New(deps, cfg.RunConfig())
	printer := observability.NewPrinter(out)
	req := types.RunRequest{Text: runText, Documents: docs, Pipeline: types.ArtifactType(runPipeline)}

	_, _ = fmt.Fprintf(out, "Starting run with %d document(s)\n", len(docs))
	run, err := orch.Start(ctx, req, printer.PrintTraceEntry)
	if run == nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", run.ID, err)
	}

	if cfg.Verbose {
		printer.PrintDecision(run.Decision())
		printer.PrintExtraction(run.Result())
	}
	printer.PrintVerdict(run.Verdict())

	if err := reportRun(ctx, out, orch, run, printer); err != nil {
		return err
	}

	if runJSON {
		return printJSON(out, run.Snapshot())
	}
	return nil
}

// reportRun prints the terminal outcome and performs the hand-off when asked.
func reportRun(ctx context.Context, out io.Writer, orch *pipeline.Orchestrator, run *pipeline.Run, printer *observability.Printer) error {
	switch run.State() {
	case pipeline.StateAwaitingClarification:
		var names []string
		if d := run.Decision(); d != nil {
			for _, c := range d.Candidates {
				names = append(names, fmt.Sprintf("%s (%.2f)", c.Pipeline, c.Score))
			}
		}
		return fmt.Errorf("request is ambiguous between %s; re-run with --pipeline", strings.Join(names, ", "))

	case pipeline.StateFailed:
		return fmt.Errorf("run %s failed (%s): %v", run.ID, run.Reason(), run.Err())
	}

	_, _ = fmt.Fprintf(out, "Run %s finished in %s (%s)\n", run.ID, run.State(), run.Reason())
	if !runHandoff {
		return nil
	}

	record, err := orch.Handoff(ctx, run, pipeline.HandoffOptions{
		AcceptReview:      runAcceptReview,
		AcceptCorrections: runAcceptCorrections,
	})
	if err != nil {
		return fmt.Errorf("hand-off refused: %w", err)
	}
	printer.PrintRecord(record)
	_, _ = fmt.Fprintf(out, "Record dispatched for %s\n", record.Artifact)
	return nil
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
