package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/courseware-agent/internal/config"
	"github.com/jonathan/courseware-agent/internal/db"
	"github.com/jonathan/courseware-agent/internal/pipeline"
	"github.com/jonathan/courseware-agent/internal/server"
)

var (
	serveConfigPath string
	servePort       int
	serveDatabase   string
	serveDispatch   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that exposes REST endpoints for submitting runs, streaming their
trace, resolving ambiguous requests and handing records off.

Requires JWT_SECRET and ADMIN_PASSWORD_HASH (see hash-password). Terminal runs are
archived to PostgreSQL when DATABASE_URL or --db-url is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to a JSON or TOML config file")
	serveCmd.Flags().IntVar(&servePort, "port", config.DefaultPort, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDatabase, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
	serveCmd.Flags().StringVar(&serveDispatch, "dispatch-dir", "", "Directory structured records are written to")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	cfg, err := loadSettings(serveConfigPath, true, out, func(c *config.Config) {
		if cmd.Flags().Changed("port") {
			c.Port = servePort
		}
		if cmd.Flags().Changed("db-url") {
			c.DatabaseURL = serveDatabase
		}
		if cmd.Flags().Changed("dispatch-dir") {
			c.DispatchDir = serveDispatch
		}
	})
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	jwtConfig, err := config.NewJWTConfig()
	if err != nil {
		return err
	}
	passwordConfig, err := config.NewPasswordConfig()
	if err != nil {
		return err
	}
	admin, err := config.NewAdminConfig(passwordConfig)
	if err != nil {
		return err
	}

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

	var archive server.RunArchive
	if cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		deps.Archiver = database
		archive = database
	} else {
		_, _ = fmt.Fprintln(out, "DATABASE_URL not set; runs will not be archived")
	}
	if deps.Dispatcher == nil {
		_, _ = fmt.Fprintln(out, "No dispatch directory configured; hand-off is disabled")
	}

	srv, err := server.New(server.Config{
		Port:         cfg.Port,
		Orchestrator: pipeline.New(deps, cfg.RunConfig()),
		Archive:      archive,
		JWT:          jwtConfig,
		Admin:        admin,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}
