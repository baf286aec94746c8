package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/courseware-agent/internal/config"
	"github.com/jonathan/courseware-agent/internal/extraction"
	"github.com/jonathan/courseware-agent/internal/types"
	"github.com/jonathan/courseware-agent/internal/verification"
)

var verifyUENCommand = &cobra.Command{
	Use:   "verify-uen [uen...]",
	Short: "Check UEN formats and check letters, optionally against the ACRA registry",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runVerifyUENCmd,
}

var (
	verifyConfigPath string
	verifyRegistry   bool
)

func init() {
	verifyUENCommand.Flags().StringVar(&verifyConfigPath, "config", "", "Path to a JSON or TOML config file")
	verifyUENCommand.Flags().BoolVar(&verifyRegistry, "registry", false, "Also look each valid UEN up in the ACRA registry")

	rootCmd.AddCommand(verifyUENCommand)
}

var uenSpec = types.FieldSpec{Name: "uen", Type: types.FieldIdentifier, Identifier: types.IdentifierUEN}

// lookupRegistry is the registry used by verify-uen. Tests replace it.
var lookupRegistry = func(cfg config.Config) verification.Registry {
	return verification.NewACRARegistry(cfg.RegistryOptions())
}

func runVerifyUENCmd(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var registry verification.Registry
	if verifyRegistry {
		cfg, err := loadSettings(verifyConfigPath, false, out, nil)
		if err != nil {
			return err
		}
		registry = lookupRegistry(cfg)
	}

	failed := 0
	for _, arg := range args {
		uen := extraction.Normalize(uenSpec, arg)
		res := verification.ValidateUEN(uen)

		switch {
		case !res.Valid:
			failed++
			_, _ = fmt.Fprintf(out, "✗ %s: %s\n", uen, res.Problem)
			if res.Suggested != "" {
				_, _ = fmt.Fprintf(out, "  did you mean %s?\n", res.Suggested)
			}
			continue
		case !res.ChecksumKnown:
			_, _ = fmt.Fprintf(out, "⚠ %s: %s format, no published check letter\n", uen, res.Kind)
		default:
			_, _ = fmt.Fprintf(out, "✓ %s: valid %s UEN\n", uen, res.Kind)
		}

		if registry == nil {
			continue
		}
		entry, err := registry.Lookup(cmd.Context(), uen)
		switch {
		case err != nil:
			_, _ = fmt.Fprintf(out, "  registry lookup failed: %v\n", err)
		case entry == nil:
			failed++
			_, _ = fmt.Fprintf(out, "  not found in the ACRA registry\n")
		default:
			_, _ = fmt.Fprintf(out, "  registered to %s", entry.Name)
			if entry.Status != "" {
				_, _ = fmt.Fprintf(out, " (%s)", entry.Status)
			}
			_, _ = fmt.Fprintln(out)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d UENs failed verification", failed, len(args))
	}
	return nil
}
