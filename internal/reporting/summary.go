// Package reporting reduces per-item dispatch records into aggregate counters
// and renders the audit artifacts written after every run: the triage JSON and
// Markdown pair, and the daily run envelope with its findings report.
package reporting

import (
	"encoding/json"
	"sort"
)

// Record statuses.
const (
	StatusAttempted = "attempted"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Record is one terminal line of a run. ClientName is already masked.
type Record struct {
	ClientName     string `json:"client_name"`
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
}

// Breakdown counts records of one status by reason. Reasons keep the order in
// which they were first seen so reports follow input order.
type Breakdown struct {
	Total   int
	Reasons map[string]int

	order []string
}

func (b *Breakdown) add(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if b.Reasons == nil {
		b.Reasons = map[string]int{}
	}
	if _, ok := b.Reasons[reason]; !ok {
		b.order = append(b.order, reason)
	}
	b.Reasons[reason]++
	b.Total++
}

// Ordered returns reason names in first-seen order. A Breakdown decoded from
// JSON has no order and falls back to sorted names.
func (b Breakdown) Ordered() []string {
	if len(b.order) == len(b.Reasons) {
		return b.order
	}
	out := make([]string, 0, len(b.Reasons))
	for r := range b.Reasons {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

type breakdownJSON struct {
	Total   int            `json:"total"`
	Reasons map[string]int `json:"reasons"`
}

func (b Breakdown) MarshalJSON() ([]byte, error) {
	reasons := b.Reasons
	if reasons == nil {
		reasons = map[string]int{}
	}
	return json.Marshal(breakdownJSON{Total: b.Total, Reasons: reasons})
}

func (b *Breakdown) UnmarshalJSON(data []byte) error {
	var v breakdownJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	b.Total, b.Reasons, b.order = v.Total, v.Reasons, nil
	return nil
}

// Summary is the aggregate view of a run.
type Summary struct {
	TotalAppointments int       `json:"total_appointments"`
	AttemptedSends    int       `json:"attempted_sends"`
	SuccessfulSends   int       `json:"successful_sends"`
	Skipped           Breakdown `json:"skipped"`
	Failed            Breakdown `json:"failed"`
}

// ComputeSummary aggregates records. Attempted sends count terminal sent and
// failed records; when none exist yet, records still marked attempted are
// counted instead.
func ComputeSummary(records []Record, totalAppointments int) Summary {
	s := Summary{TotalAppointments: totalAppointments}
	var attemptedOnly int
	for _, r := range records {
		switch r.Status {
		case StatusSent:
			s.SuccessfulSends++
		case StatusFailed:
			s.Failed.add(r.Reason)
		case StatusSkipped:
			s.Skipped.add(r.Reason)
		case StatusAttempted:
			attemptedOnly++
		}
	}
	s.AttemptedSends = s.SuccessfulSends + s.Failed.Total
	if s.AttemptedSends == 0 {
		s.AttemptedSends = attemptedOnly
	}
	return s
}
