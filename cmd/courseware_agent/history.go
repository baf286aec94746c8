package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/courseware-agent/internal/localstore"
	"github.com/jonathan/courseware-agent/internal/observability"
)

var historyCommand = &cobra.Command{
	Use:   "history",
	Short: "Inspect runs archived by the run command",
}

var historyListCommand = &cobra.Command{
	Use:   "list",
	Short: "List archived runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCommand = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show an archived run with its verdict and trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCommand = &cobra.Command{
	Use:   "delete [run-id]",
	Short: "Delete an archived run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var (
	historyDataDir string
	historyLimit   int
	historyJSON    bool
)

func init() {
	historyCommand.PersistentFlags().StringVar(&historyDataDir, "data-dir", "", "Local archive directory (default ~/.courseware/data)")
	historyListCommand.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs")
	historyShowCommand.Flags().BoolVar(&historyJSON, "json", false, "Print the archived snapshot as JSON")

	historyCommand.AddCommand(historyListCommand, historyShowCommand, historyDeleteCommand)
	rootCmd.AddCommand(historyCommand)
}

func openHistory() (*localstore.Store, error) {
	store, err := localstore.Open(historyDataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open local archive: %w", err)
	}
	return store, nil
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	runs, err := store.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "No archived runs.")
		return nil
	}

	for _, r := range runs {
		dispatched := ""
		if r.Dispatched {
			dispatched = "  dispatched"
		}
		_, _ = fmt.Fprintf(out, "%s  %-18s %-24s %s%s\n", r.ID, r.Pipeline, r.State, r.CreatedAt.Local().Format("2006-01-02 15:04"), dispatched)
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if historyJSON {
		return printJSON(out, snap)
	}

	_, _ = fmt.Fprintf(out, "Run:     %s\n", snap.ID)
	_, _ = fmt.Fprintf(out, "State:   %s (%s)\n", snap.State, snap.Reason)
	if snap.Error != "" {
		_, _ = fmt.Fprintf(out, "Error:   %s\n", snap.Error)
	}
	_, _ = fmt.Fprintf(out, "Request: %s\n", snap.Text)

	printer := observability.NewPrinter(out)
	printer.PrintDecision(snap.Decision)
	printer.PrintVerdict(snap.Verdict)
	printer.PrintRecord(snap.Record)

	entries, err := store.Trace(cmd.Context(), snap.ID)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Trace (%d entries):\n", len(entries))
	for _, e := range entries {
		printer.PrintTraceEntry(e)
	}
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Deleted run %s\n", args[0])
	return nil
}
