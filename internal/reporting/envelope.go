package reporting

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Mode selects between preview and live sends.
type Mode string

const (
	ModeDryRun      Mode = "dry-run"
	ModeConfirmSend Mode = "confirm-send"
)

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("mode must be dry-run or confirm-send")

// ParseMode accepts dry-run, confirm-send and their underscored spellings.
func ParseMode(s string) (Mode, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case "", string(ModeDryRun):
		return ModeDryRun, nil
	case string(ModeConfirmSend):
		return ModeConfirmSend, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// DryRun reports whether m is the preview mode.
func (m Mode) DryRun() bool { return m != ModeConfirmSend }

// Slug is the mode with dashes replaced by underscores, as used in file names.
func (m Mode) Slug() string { return strings.ReplaceAll(string(m), "-", "_") }

// Title is the display name of the mode ("Dry Run", "Confirm Send").
func (m Mode) Title() string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(m), "-", " "))
}

// RunID builds "<UTC second stamp>Z_<dryrun|confirm>_001".
func RunID(m Mode, now time.Time) string {
	suffix := "dryrun"
	if !m.DryRun() {
		suffix = "confirm"
	}
	return now.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z") + "_" + suffix + "_001"
}

// Severity ranks a finding.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityLow      Severity = "Low"
	SeverityInfo     Severity = "Info"
)

// Finding is one numbered line of the run report. Text must never contain a
// client name; findings reference recipient tokens instead.
type Finding struct {
	Severity Severity
	Text     string
}

func (f Finding) String() string {
	return fmt.Sprintf("**%s** - %s", f.Severity, f.Text)
}

// SourceInfo names where recipients and sends were handled.
type SourceInfo struct {
	System       string `json:"system"`
	AccessMethod string `json:"access_method"`
}

// Window is the eligibility window of a run in UTC.
type Window struct {
	Since string `json:"since"`
	Until string `json:"until"`
}

// NewWindow starts at date's startHour:startMinute in loc and ends at now.
func NewWindow(date time.Time, loc *time.Location, startHour, startMinute int, now time.Time) Window {
	y, m, d := date.Date()
	since := time.Date(y, m, d, startHour, startMinute, 0, 0, loc)
	return Window{
		Since: since.UTC().Format(time.RFC3339),
		Until: now.UTC().Truncate(time.Second).Format(time.RFC3339),
	}
}

// Totals are the run counters. Sent is reported as "would_send" in dry-run.
type Totals struct {
	Evaluated int
	Eligible  int
	Sent      int
	Skipped   int
	Errors    int

	DryRun bool
}

func (t Totals) MarshalJSON() ([]byte, error) {
	sentKey := "sent"
	if t.DryRun {
		sentKey = "would_send"
	}
	return json.Marshal(map[string]int{
		"evaluated": t.Evaluated,
		"eligible":  t.Eligible,
		sentKey:     t.Sent,
		"skipped":   t.Skipped,
		"errors":    t.Errors,
	})
}

// UnmarshalJSON accepts either "sent" or "would_send"; the latter marks the
// totals as a dry run.
func (t *Totals) UnmarshalJSON(b []byte) error {
	var m map[string]int
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	sent, live := m["sent"]
	wouldSend, dry := m["would_send"]
	*t = Totals{
		Evaluated: m["evaluated"],
		Eligible:  m["eligible"],
		Sent:      sent,
		Skipped:   m["skipped"],
		Errors:    m["errors"],
		DryRun:    dry && !live,
	}
	if t.DryRun {
		t.Sent = wouldSend
	}
	return nil
}

// IdempotencyInfo describes the ledger used by a run.
type IdempotencyInfo struct {
	StorePath      string `json:"store_path"`
	NewKeysWritten int    `json:"new_keys_written"`
}

// Envelope is the daily job's run summary.
type Envelope struct {
	RunID       string          `json:"run_id"`
	Mode        Mode            `json:"mode"`
	Source      SourceInfo      `json:"source"`
	Window      Window          `json:"window"`
	Totals      Totals          `json:"totals"`
	Idempotency IdempotencyInfo `json:"idempotency"`
	Notes       []string        `json:"notes"`
}

// Disposition is SUCCESS when the run had no errors.
func (e Envelope) Disposition() string {
	if e.Totals.Errors == 0 {
		return "SUCCESS"
	}
	return "REVIEW_REQUIRED"
}

// RenderFindingsMarkdown renders the run-level triage report.
func RenderFindingsMarkdown(e Envelope) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Triage Report - %s\n\n", e.Mode.Title())
	fmt.Fprintf(&b, "- **Run ID:** `%s`\n", e.RunID)
	fmt.Fprintf(&b, "- **Mode:** `%s`\n", e.Mode)
	fmt.Fprintf(&b, "- **Source Access:** `%s/%s`\n", e.Source.System, e.Source.AccessMethod)
	fmt.Fprintf(&b, "- **Disposition:** `%s`\n", e.Disposition())
	b.WriteString("\n## Findings\n")
	if len(e.Notes) == 0 {
		b.WriteString("1. **Info** - No findings.\n")
		return b.String()
	}
	for i, n := range e.Notes {
		fmt.Fprintf(&b, "%d. %s\n", i+1, n)
	}
	return b.String()
}

// PathConfig controls where envelope artifacts land. A template, when set,
// wins over Root and may use {date}, {mode} and {timestamp}.
type PathConfig struct {
	Root            string
	SummaryTemplate string
	TriageTemplate  string
}

// EnvelopePaths resolves the summary JSON and findings Markdown paths.
func EnvelopePaths(pc PathConfig, m Mode, date string, now time.Time) (summaryPath, triagePath string) {
	summaryPath = renderPath(pc.SummaryTemplate, pc.Root, fmt.Sprintf("summary_%s_%s.json", date, m.Slug()), m, date, now)
	triagePath = renderPath(pc.TriageTemplate, pc.Root, fmt.Sprintf("triage_%s_%s.md", date, m.Slug()), m, date, now)
	return summaryPath, triagePath
}

func renderPath(tmpl, root, defaultName string, m Mode, date string, now time.Time) string {
	tmpl = strings.TrimSpace(tmpl)
	if tmpl == "" {
		return filepath.Join(root, defaultName)
	}
	r := strings.NewReplacer(
		"{date}", date,
		"{mode}", m.Slug(),
		"{timestamp}", now.UTC().Format("20060102T150405Z"),
	)
	return r.Replace(tmpl)
}

// WriteEnvelope writes the summary JSON and findings Markdown, creating parent
// directories as needed.
func WriteEnvelope(e Envelope, summaryPath, triagePath string) error {
	if e.Notes == nil {
		e.Notes = []string{}
	}
	body, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	for _, p := range []string{summaryPath, triagePath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("envelope dir: %w", err)
		}
	}
	if err := os.WriteFile(summaryPath, body, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if err := os.WriteFile(triagePath, []byte(RenderFindingsMarkdown(e)), 0o644); err != nil {
		return fmt.Errorf("write findings: %w", err)
	}
	return nil
}

// ReadEnvelope loads a summary JSON written by WriteEnvelope.
func ReadEnvelope(path string) (Envelope, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Envelope{}, err
	}
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return e, nil
}

// LatestEnvelope returns the most recently modified summary_*.json directly
// under root. found is false when there is none.
func LatestEnvelope(root string) (e Envelope, found bool, err error) {
	matches, err := filepath.Glob(filepath.Join(root, "summary_*.json"))
	if err != nil {
		return Envelope{}, false, err
	}
	var (
		newest  string
		newestT time.Time
	)
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() {
			continue
		}
		if newest == "" || fi.ModTime().After(newestT) {
			newest, newestT = m, fi.ModTime()
		}
	}
	if newest == "" {
		return Envelope{}, false, nil
	}
	e, err = ReadEnvelope(newest)
	if err != nil {
		return Envelope{}, false, err
	}
	return e, true, nil
}
