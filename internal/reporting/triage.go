package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Triage is the machine-readable report for one run.
type Triage struct {
	Date    string   `json:"date"`
	Summary Summary  `json:"summary"`
	Records []Record `json:"records"`
}

// TriagePaths are the files written by WriteTriage.
type TriagePaths struct {
	JSON     string
	Markdown string
}

// TriageFileNames returns the deterministic file names for date.
func TriageFileNames(date string) (jsonName, mdName string) {
	return "triage_" + date + ".json", "triage_" + date + ".md"
}

// WriteTriage writes triage_<date>.json and triage_<date>.md into dir,
// creating it when needed.
func WriteTriage(dir string, t Triage) (TriagePaths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return TriagePaths{}, fmt.Errorf("triage dir: %w", err)
	}
	if t.Records == nil {
		t.Records = []Record{}
	}
	jsonName, mdName := TriageFileNames(t.Date)
	paths := TriagePaths{
		JSON:     filepath.Join(dir, jsonName),
		Markdown: filepath.Join(dir, mdName),
	}

	body, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return TriagePaths{}, err
	}
	if err := os.WriteFile(paths.JSON, body, 0o644); err != nil {
		return TriagePaths{}, fmt.Errorf("write triage json: %w", err)
	}
	if err := os.WriteFile(paths.Markdown, []byte(RenderTriageMarkdown(t)), 0o644); err != nil {
		return TriagePaths{}, fmt.Errorf("write triage markdown: %w", err)
	}
	return paths, nil
}

// RenderTriageMarkdown renders the human-readable triage report.
func RenderTriageMarkdown(t Triage) string {
	var b strings.Builder
	s := t.Summary

	fmt.Fprintf(&b, "# Triage Report (%s)\n\n", t.Date)
	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Total appointments: %d\n", s.TotalAppointments)
	fmt.Fprintf(&b, "- Attempted sends: %d\n", s.AttemptedSends)
	fmt.Fprintf(&b, "- Successful sends: %d\n", s.SuccessfulSends)
	fmt.Fprintf(&b, "- Skipped: %d\n", s.Skipped.Total)
	fmt.Fprintf(&b, "- Failed: %d\n", s.Failed.Total)

	b.WriteString("\n## Skipped Reasons\n")
	writeReasons(&b, s.Skipped)
	b.WriteString("\n## Failed Reasons\n")
	writeReasons(&b, s.Failed)

	b.WriteString("\n## Records\n\n")
	for _, r := range t.Records {
		if r.Reason != "" {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", r.ClientName, r.Status, r.Reason)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", r.ClientName, r.Status)
		}
	}
	return b.String()
}

func writeReasons(b *strings.Builder, bd Breakdown) {
	reasons := bd.Ordered()
	if len(reasons) == 0 {
		b.WriteString("- none\n")
		return
	}
	for _, r := range reasons {
		fmt.Fprintf(b, "- %s: %d\n", r, bd.Reasons[r])
	}
}
