// Package report renders the run summary to the terminal: totals, flag
// counts, the quota cross-tab, and the reason tabulation.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/tamarack-research/surveyqc/internal/quota"
)

// flagOrder fixes the display order of the flag-count table.
var flagOrder = []struct {
	key   string
	label string
}{
	{"speeder", "Speeder"},
	{"trust_check", "Trust check"},
	{"media_check", "Media check"},
	{"province_mismatch", "Province mismatch"},
	{"age_mismatch", "Age mismatch"},
	{"longstring", "Straight-lining"},
	{"manual", "Manual"},
}

// Data is everything the rendered report shows.
type Data struct {
	RunID       string              `json:"run_id"`
	Source      string              `json:"source"`
	Total       int                 `json:"total_records"`
	Excluded    int                 `json:"excluded"`
	QuotaClean  int                 `json:"quota_clean"`
	FlagCounts  map[string]int      `json:"flag_counts"`
	CrossTab    quota.CrossTab      `json:"-"`
	Reasons     []quota.ReasonCount `json:"-"`
	SnapshotDir string              `json:"snapshot_dir"`
	Published   bool                `json:"published"`
}

// Render writes the report in the requested format: "json", "md"/"markdown",
// or terminal tables for anything else.
func Render(w io.Writer, data Data, format string) error {
	switch format {
	case "json":
		return renderJSON(w, data)
	case "md", "markdown":
		renderMarkdown(w, data)
		return nil
	default:
		renderTables(w, data)
		return nil
	}
}

func renderTables(w io.Writer, data Data) {
	fmt.Fprintf(w, "Run %s (%s)\n", data.RunID, data.Source)
	fmt.Fprintf(w, "Records: %d total, %d excluded, %d quota-clean\n\n",
		data.Total, data.Excluded, data.QuotaClean)

	fmt.Fprintln(w, "Quality flags")
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Flag", "Count"})
	for _, f := range flagOrder {
		t.AppendRow(table.Row{f.label, data.FlagCounts[f.key]})
	}
	t.Render()

	fmt.Fprintln(w, "\nQuota cross-tab (quota-clean records)")
	renderGrid(w, data.CrossTab.Rows())

	fmt.Fprintln(w, "\nExclusion reasons")
	t = table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Reason", "Count"})
	for _, rc := range data.Reasons {
		t.AppendRow(table.Row{string(rc.Reason), rc.Count})
	}
	t.Render()

	if data.SnapshotDir != "" {
		fmt.Fprintf(w, "\nSnapshot: %s\n", data.SnapshotDir)
	}
	if data.Published {
		fmt.Fprintln(w, "Quota cross-tab published")
	}
}

// renderGrid renders pre-stringified rows where the first row is the header.
func renderGrid(w io.Writer, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "(empty)")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	header := make(table.Row, len(rows[0]))
	for i, cell := range rows[0] {
		header[i] = cell
	}
	t.AppendHeader(header)
	for _, r := range rows[1:] {
		row := make(table.Row, len(r))
		for i, cell := range r {
			row[i] = cell
		}
		t.AppendRow(row)
	}
	t.Render()
}

func renderJSON(w io.Writer, data Data) error {
	type reasonCount struct {
		Reason string `json:"reason"`
		Count  int    `json:"count"`
	}
	out := struct {
		Data
		Quota   [][]string    `json:"quota"`
		Reasons []reasonCount `json:"reasons"`
	}{Data: data, Quota: data.CrossTab.Rows()}
	for _, rc := range data.Reasons {
		out.Reasons = append(out.Reasons, reasonCount{Reason: string(rc.Reason), Count: rc.Count})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func renderMarkdown(w io.Writer, data Data) {
	fmt.Fprintf(w, "# Run %s\n\n", data.RunID)
	fmt.Fprintf(w, "%d records, %d excluded, %d quota-clean\n\n",
		data.Total, data.Excluded, data.QuotaClean)

	fmt.Fprintln(w, "## Quality flags")
	fmt.Fprintln(w, "| Flag | Count |")
	fmt.Fprintln(w, "| --- | --- |")
	for _, f := range flagOrder {
		fmt.Fprintf(w, "| %s | %d |\n", f.label, data.FlagCounts[f.key])
	}

	fmt.Fprintln(w, "\n## Quota cross-tab")
	markdownGrid(w, data.CrossTab.Rows())

	fmt.Fprintln(w, "\n## Exclusion reasons")
	fmt.Fprintln(w, "| Reason | Count |")
	fmt.Fprintln(w, "| --- | --- |")
	for _, rc := range data.Reasons {
		fmt.Fprintf(w, "| %s | %d |\n", rc.Reason, rc.Count)
	}

	if data.SnapshotDir != "" {
		fmt.Fprintf(w, "\nSnapshot: `%s`\n", data.SnapshotDir)
	}
}

func markdownGrid(w io.Writer, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(w, "| %s |\n", strings.Join(rows[0], " | "))
	seps := make([]string, len(rows[0]))
	for i := range seps {
		seps[i] = "---"
	}
	fmt.Fprintf(w, "| %s |\n", strings.Join(seps, " | "))
	for _, r := range rows[1:] {
		fmt.Fprintf(w, "| %s |\n", strings.Join(r, " | "))
	}
}
