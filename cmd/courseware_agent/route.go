package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/courseware-agent/internal/config"
	"github.com/jonathan/courseware-agent/internal/gateway"
	"github.com/jonathan/courseware-agent/internal/observability"
	"github.com/jonathan/courseware-agent/internal/routing"
)

var routeCommand = &cobra.Command{
	Use:   "route",
	Short: "Show which pipeline a request would be routed to",
	Long: `Scores the request against every declared pipeline and prints the routing decision
without extracting anything. The model classifier is consulted only when the keyword
and file-name rules are not confident, and never with --rules-only.`,
	RunE: runRouteCmd,
}

var (
	routeConfigPath string
	routeText       string
	routeDocs       []string
	routePrefer     []string
	routeCatalog    string
	routeRulesOnly  bool
	routeJSON       bool
	routeVerbose    bool
)

func init() {
	routeCommand.Flags().StringVar(&routeConfigPath, "config", "", "Path to a JSON or TOML config file")
	routeCommand.Flags().StringVarP(&routeText, "text", "t", "", "Request text")
	routeCommand.Flags().StringSliceVarP(&routeDocs, "doc", "d", nil, "Document file to attach (repeatable)")
	routeCommand.Flags().StringSliceVar(&routePrefer, "prefer", nil, "Backend preference order (comma-separated)")
	routeCommand.Flags().StringVar(&routeCatalog, "catalog", "", "YAML pipeline catalog replacing the built-in one")
	routeCommand.Flags().BoolVar(&routeRulesOnly, "rules-only", false, "Never consult the model classifier")
	routeCommand.Flags().BoolVar(&routeJSON, "json", false, "Print the decision as JSON")
	routeCommand.Flags().BoolVarP(&routeVerbose, "verbose", "v", false, "Print router events")

	rootCmd.AddCommand(routeCommand)
}

func runRouteCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := loadSettings(routeConfigPath, routeVerbose, out, func(c *config.Config) {
		if cmd.Flags().Changed("prefer") {
			c.Preferences = routePrefer
		}
		if cmd.Flags().Changed("catalog") {
			c.CatalogPath = routeCatalog
		}
		if cmd.Flags().Changed("verbose") {
			c.Verbose = routeVerbose
		}
	})
	if err != nil {
		return err
	}
	if routeText == "" && len(routeDocs) == 0 {
		return fmt.Errorf("provide request text with --text or at least one --doc")
	}

	docs, err := loadDocuments(ctx, routeDocs, nil, false)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	var invoker gateway.Invoker
	if !routeRulesOnly {
		gw, closeInvoker, err := openInvoker(ctx, cfg, out)
		if err != nil {
			return err
		}
		defer closeInvoker()
		invoker = gw
	}

	observe := func(e routing.Event) {
		if cfg.Verbose {
			_, _ = fmt.Fprintf(out, "  [%s] %s\n", e.Kind, e.Message)
		}
	}

	router := routing.New(cat, invoker, cfg.RunConfig().Routing)
	decision, err := router.Route(ctx, routeText, docs, cfg.Preferences, observe)
	if err != nil {
		return err
	}

	if routeJSON {
		return printJSON(out, decision)
	}
	observability.NewPrinter(out).PrintDecision(&decision)
	return nil
}
