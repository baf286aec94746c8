// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jonathan/courseware-agent/internal/pipeline"
	"github.com/jonathan/courseware-agent/internal/routing"
	"github.com/jonathan/courseware-agent/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PrintTraceEntry outputs one trace entry as a single progress line.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintTraceEntry(e pipeline.TraceEntry) {
	fmt.Fprintf(p.out, "  %3d  %-12s %-18s %s\n", e.Seq, e.Stage, e.Kind, e.Message)
}

// PrintDecision outputs the routing decision and its top candidates.
func (p *Printer) PrintDecision(d *routing.Decision) {
	if d == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Outcome:  %s (%s)\n", d.Kind, d.Source))
	if d.Pipeline != "" {
		sb.WriteString(fmt.Sprintf("Pipeline: %s\n", d.Pipeline))
	}
	if d.Reason != "" {
		sb.WriteString(fmt.Sprintf("Reason:   %s\n", d.Reason))
	}

	if len(d.Candidates) > 0 {
		sb.WriteString("\nCandidates:\n")
		for _, c := range d.Candidates {
			sb.WriteString(fmt.Sprintf("  • %-20s %.2f\n", c.Pipeline, c.Score))
		}
	}

	if len(d.Tasks) > 0 {
		sb.WriteString("\nTasks:\n")
		for _, task := range d.Tasks {
			sb.WriteString(fmt.Sprintf("  • %s (%d fields)\n", task.Name, len(task.Fields)))
		}
	}

	p.printBox("ROUTING DECISION", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintExtraction outputs each task with its status and a sample of merged values.
func (p *Printer) PrintExtraction(result *types.ExtractionResult) {
	if result == nil || len(result.Tasks) == 0 {
		return
	}

	var sb strings.Builder
	names := result.TaskNames()
	for i, name := range names {
		tr := result.Tasks[name]
		sb.WriteString(fmt.Sprintf("%s: %s", name, tr.Status))
		if tr.WinningBackend != "" {
			sb.WriteString(fmt.Sprintf(" via %s", tr.WinningBackend))
		}
		sb.WriteString("\n")

		fields := make([]string, 0, len(tr.Merged))
		for field := range tr.Merged {
			fields = append(fields, field)
		}
		sort.Strings(fields)

		count := min(len(fields), maxItemsToShow)
		for _, field := range fields[:count] {
			v := tr.Merged[field]
			sb.WriteString(fmt.Sprintf("  • %s = %s (%.2f, %s)\n", field, v.Normalized, v.Confidence, v.Provenance.Method))
		}
		if len(fields) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(fields)-maxItemsToShow))
		}
		if len(tr.Conflicts) > 0 {
			sb.WriteString(fmt.Sprintf("  %d cross-document conflicts\n", len(tr.Conflicts)))
		}
		if i < len(names)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("EXTRACTION RESULT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintVerdict outputs the aggregate verdict and every field that did not pass.
func (p *Printer) PrintVerdict(v *types.Verdict) {
	if v == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Status: %s\n", v.Status))

	var flagged []types.FieldVerdict
	flagged = append(flagged, v.WithStatus(types.StatusFail)...)
	flagged = append(flagged, v.WithStatus(types.StatusWarn)...)
	if len(flagged) == 0 {
		sb.WriteString(fmt.Sprintf("\n✅ all %d fields passed\n", len(v.Fields)))
	} else {
		sb.WriteString("\n")
		for _, fv := range flagged {
			mark := "⚠"
			if fv.Status == types.StatusFail {
				mark = "✗"
			}
			sb.WriteString(fmt.Sprintf("%s %s: %s\n", mark, fv.Field, fv.Reason))
			if fv.Detail != "" {
				sb.WriteString(fmt.Sprintf("  %s\n", fv.Detail))
			}
			if fv.Correction != nil {
				sb.WriteString(fmt.Sprintf("  suggested: %s\n", *fv.Correction))
			}
		}
	}

	if len(v.Remediation) > 0 {
		sb.WriteString("\nRemediation:\n")
		for _, r := range v.Remediation {
			sb.WriteString(fmt.Sprintf("  • %s\n", r))
		}
	}

	p.printBox("VERIFICATION VERDICT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRecord outputs the structured record handed to the generators.
func (p *Printer) PrintRecord(record *types.StructuredRecord) {
	if record == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Artifact: %s\n", record.Artifact))
	sb.WriteString(fmt.Sprintf("Run:      %s\n", record.RunID))
	if record.ReviewAccepted {
		sb.WriteString("Review:   accepted by operator\n")
	}
	if len(record.AppliedCorrections) > 0 {
		sb.WriteString(fmt.Sprintf("Applied:  %s\n", strings.Join(record.AppliedCorrections, ", ")))
	}
	sb.WriteString(fmt.Sprintf("Fields:   %d", len(record.Fields)))

	p.printBox("STRUCTURED RECORD", sb.String())
}
