package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/signalnine/verdict/internal/result"
)

const (
	FormatTable    = "table"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

const maxReasonWidth = 80

// TestRow is the per-test line of a report.
type TestRow struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Suite         string `json:"suite"`
	Pass          bool   `json:"pass"`
	Deterministic bool   `json:"deterministic"`
	Semantic      bool   `json:"semantic"`
	Degraded      bool   `json:"degraded,omitempty"`
	DurationMS    int64  `json:"duration_ms"`
	Reason        string `json:"reason"`
	Evidence      string `json:"evidence,omitempty"`
	AutoIncluded  bool   `json:"auto_included,omitempty"`
}

type document struct {
	Summary *result.Summary `json:"summary"`
	Tests   []TestRow       `json:"tests"`
}

// Generate reads a stored run and renders it.
func Generate(runDir, format string, w io.Writer) error {
	summary, reports, err := result.ReadReports(runDir)
	if err != nil {
		return err
	}
	return Render(summary, reports, format, w)
}

// Render writes the summary and per-test rows in the requested format.
func Render(summary *result.Summary, reports []*result.Report, format string, w io.Writer) error {
	rows := Rows(summary, reports)
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(document{Summary: summary, Tests: rows})
	case FormatMarkdown:
		return writeMarkdown(summary, rows, w)
	case FormatTable, "":
		return writeTable(summary, rows, w)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func Rows(summary *result.Summary, reports []*result.Report) []TestRow {
	auto := make(map[string]bool, len(summary.AutoIncluded))
	for _, id := range summary.AutoIncluded {
		auto[id] = true
	}
	rows := make([]TestRow, len(reports))
	for i, r := range reports {
		tc := r.Result.Case
		rows[i] = TestRow{
			ID:            tc.ID,
			Name:          tc.Name,
			Suite:         tc.Suite,
			Pass:          r.Pass,
			Deterministic: r.Deterministic.Pass,
			Semantic:      r.Semantic.Pass,
			Degraded:      r.Semantic.Degraded,
			DurationMS:    r.Result.Duration.Milliseconds(),
			Reason:        r.Reason,
			Evidence:      r.Evidence,
			AutoIncluded:  auto[tc.ID],
		}
	}
	return rows
}

func newTable(summary *result.Summary, rows []TestRow) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"ID", "Name", "Suite", "Result", "Det", "Sem", "Duration", "Reason"})
	for _, r := range rows {
		id := r.ID
		if r.AutoIncluded {
			id += " (dep)"
		}
		sem := mark(r.Semantic)
		if r.Degraded {
			sem += "*"
		}
		t.AppendRow(table.Row{
			id, r.Name, r.Suite, passFail(r.Pass), mark(r.Deterministic), sem,
			(time.Duration(r.DurationMS) * time.Millisecond).String(), shorten(r.Reason, maxReasonWidth),
		})
	}
	t.AppendFooter(table.Row{
		"", "", "Total", fmt.Sprintf("%d/%d", summary.Totals.Passed, summary.Totals.Total),
		fmt.Sprintf("%d/%d", summary.Deterministic.Passed, summary.Totals.Total),
		fmt.Sprintf("%d/%d", summary.Semantic.Passed, summary.Totals.Total),
		summary.Duration.Round(time.Millisecond).String(), "",
	})
	return t
}

func writeTable(summary *result.Summary, rows []TestRow, w io.Writer) error {
	t := newTable(summary, rows)
	t.SetStyle(table.StyleLight)
	fmt.Fprintf(w, "Run %s (%s)\n", summary.RunID, summary.StartedAt.Format(time.RFC3339))
	if _, err := io.WriteString(w, t.Render()+"\n"); err != nil {
		return err
	}
	writeNotes(summary, w, "")
	return nil
}

func writeMarkdown(summary *result.Summary, rows []TestRow, w io.Writer) error {
	fmt.Fprintf(w, "## Run %s\n\n", summary.RunID)
	if _, err := io.WriteString(w, newTable(summary, rows).RenderMarkdown()+"\n\n"); err != nil {
		return err
	}
	writeNotes(summary, w, "- ")
	return nil
}

func writeNotes(summary *result.Summary, w io.Writer, bullet string) {
	if summary.Environment.SemanticMode == result.SemanticDegraded {
		fmt.Fprintf(w, "%s* semantic judge unavailable; deterministic verdicts substituted\n", bullet)
	}
	for _, warn := range summary.Warnings {
		fmt.Fprintf(w, "%swarning: %s\n", bullet, warn)
	}
}

func mark(pass bool) string {
	if pass {
		return "✓"
	}
	return "✗"
}

func passFail(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
