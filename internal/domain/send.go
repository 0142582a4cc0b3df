// Package domain defines the values that flow through a daily intake-reminder
// run: appointments pulled from the practice-management system, the send
// requests built from them, and the per-request outcome used for triage.
//
// Everything here except LedgerEntry is created and discarded within a single
// batch iteration. LedgerEntry is the only type with a lifetime beyond one run.
package domain

// Appointment is a read-only record pulled from the practice-management source.
type Appointment struct {
	AppointmentID string `json:"appointment_id" yaml:"appointment_id"`
	ScheduledDate string `json:"scheduled_date" yaml:"scheduled_date"`
	ScheduledTime string `json:"scheduled_time" yaml:"scheduled_time"`
	Location      string `json:"location,omitempty" yaml:"location,omitempty"`
	ClientName    string `json:"client_name" yaml:"client_name"`
	Phone         string `json:"phone" yaml:"phone"`
}

// Recipient is the minimal addressing record a source may return instead of a
// full appointment.
type Recipient struct {
	FullName string `json:"full_name" yaml:"full_name"`
	Phone    string `json:"phone" yaml:"phone"`
}

// ClientDetails holds the ordered name tokens and the raw phone of a client.
// Phone is empty when the source had none.
type ClientDetails struct {
	NameParts []string
	Phone     string
}

// SendRequest is an immutable value built fresh per appointment per run.
type SendRequest struct {
	Date        string // ISO date, YYYY-MM-DD
	FormType    string
	MessageBody string
	Appointment Appointment
	Client      ClientDetails
}

// IssueCode is the closed set of reasons a send can be blocked or fail.
type IssueCode string

const (
	IssueInvalidFormType    IssueCode = "invalid_form_type"
	IssueInvalidMessageBody IssueCode = "invalid_message_body"
	IssueMissingPhone       IssueCode = "missing_phone"
	IssueInvalidPhone       IssueCode = "invalid_phone"
	IssueDuplicateSend      IssueCode = "duplicate_send"

	// Workflow-level reasons.
	IssueDryRun            IssueCode = "dry_run"
	IssueSendReturnedFalse IssueCode = "send_returned_false"
)

// TriageIssue explains why a send did not go out.
type TriageIssue struct {
	Code    IssueCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// SendResult is the outcome of orchestrating one SendRequest. Issues is empty
// iff Sent is true. NormalizedPhone is filled even when blocked so triage can
// see what the validator made of the input.
type SendResult struct {
	Sent            bool          `json:"sent"`
	Issues          []TriageIssue `json:"triage_issues"`
	IdempotencyKey  string        `json:"idempotency_key"`
	NormalizedPhone string        `json:"normalized_phone,omitempty"`
}

// HasOnly reports whether every issue in r carries code.
func (r SendResult) HasOnly(code IssueCode) bool {
	if len(r.Issues) == 0 {
		return false
	}
	for _, is := range r.Issues {
		if is.Code != code {
			return false
		}
	}
	return true
}
