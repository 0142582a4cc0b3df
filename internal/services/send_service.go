// Package services – SendService
//
// SendService validates one SendRequest against the required form version and
// message template, consults the idempotency ledger, and decides between
// "sent" and "blocked with reasons". Every check runs; all failing issues are
// collected rather than stopping at the first.
//
// The ledger key is reserved (MarkSent) only on the success path, and a failed
// reservation is returned as an error instead of a false success.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry the
// target date, the outcome and the issue count. Client names never go on spans.
package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/thomasbruketta/therapy-ops-agent/internal/domain"
	"github.com/thomasbruketta/therapy-ops-agent/internal/identity"
	"github.com/thomasbruketta/therapy-ops-agent/internal/ledger"
)

const (
	// DefaultFormType is the only form version a request may carry.
	DefaultFormType = "v14"
	// DefaultMessageBody is the exact reminder text a request must carry.
	DefaultMessageBody = "Please complete Acorn intake form v14 before your appointment."
)

// SendService coordinates validation and dedupe for outbound reminders.
type SendService struct {
	Ledger ledger.Ledger

	// Required content; empty falls back to the defaults above.
	FormType    string
	MessageBody string

	Log zerolog.Logger
}

// NewSendService returns a service enforcing the default form and template.
func NewSendService(l ledger.Ledger) *SendService {
	return &SendService{
		Ledger:      l,
		FormType:    DefaultFormType,
		MessageBody: DefaultMessageBody,
		Log:         zerolog.Nop(),
	}
}

// Check runs every validation and the dedupe lookup without reserving the key.
// It is what dry-run previews and eligibility evaluation use.
func (s *SendService) Check(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
	tr := otel.Tracer("services/SendService")
	ctx, span := tr.Start(ctx, "Check",
		trace.WithAttributes(attribute.String("send.date", req.Date)),
	)
	defer span.End()

	res, err := s.evaluate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(attribute.Int("send.issues", len(res.Issues)))
	return res, nil
}

// Orchestrate validates req, checks the ledger and, when nothing blocks the
// request, records its key as sent. The returned result has Sent=true only
// after the key has been stored.
func (s *SendService) Orchestrate(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
	tr := otel.Tracer("services/SendService")
	ctx, span := tr.Start(ctx, "Orchestrate",
		trace.WithAttributes(attribute.String("send.date", req.Date)),
	)
	defer span.End()

	res, err := s.evaluate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	if len(res.Issues) > 0 {
		span.SetAttributes(
			attribute.Bool("send.blocked", true),
			attribute.Int("send.issues", len(res.Issues)),
		)
		return res, nil
	}

	if err := s.Ledger.MarkSent(ctx, res.IdempotencyKey); err != nil {
		err = &LedgerError{Op: "write", Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	res.Sent = true
	span.SetAttributes(attribute.Bool("send.blocked", false))
	s.Log.Debug().Str("idempotency_key", res.IdempotencyKey).Msg("send reserved")
	return res, nil
}

// Content returns the form type and message body requests must carry.
func (s *SendService) Content() (formType, body string) {
	return orDefault(s.FormType, DefaultFormType), orDefault(s.MessageBody, DefaultMessageBody)
}

func (s *SendService) evaluate(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
	if s.Ledger == nil {
		return domain.SendResult{}, ErrNoLedger
	}

	formType, body := s.Content()

	var issues []domain.TriageIssue

	if req.FormType != formType {
		issues = append(issues, domain.TriageIssue{
			Code:    domain.IssueInvalidFormType,
			Message: fmt.Sprintf("Form type must be %s.", formType),
			Details: map[string]any{"form_type": req.FormType},
		})
	}
	if req.MessageBody != body {
		issues = append(issues, domain.TriageIssue{
			Code:    domain.IssueInvalidMessageBody,
			Message: "Message body does not match the required template.",
		})
	}

	var normalized string
	if req.Client.Phone == "" {
		issues = append(issues, domain.TriageIssue{
			Code:    domain.IssueMissingPhone,
			Message: "Client phone number is missing.",
		})
	} else if p, ok := identity.ValidatePhone(req.Client.Phone); ok {
		normalized = p
	} else {
		issues = append(issues, domain.TriageIssue{
			Code:    domain.IssueInvalidPhone,
			Message: "Client phone number is not dialable.",
		})
	}

	clientID := identity.DeriveClientID(req.Client.NameParts)
	key := ledger.BuildKey(req.Date, clientID)

	sent, err := s.Ledger.HasBeenSent(ctx, key)
	if err != nil {
		return domain.SendResult{IdempotencyKey: key, NormalizedPhone: normalized},
			&LedgerError{Op: "read", Err: err}
	}
	if sent {
		issues = append(issues, domain.TriageIssue{
			Code:    domain.IssueDuplicateSend,
			Message: "A reminder was already sent to this client for this date.",
			Details: map[string]any{"idempotency_key": key},
		})
	}

	return domain.SendResult{
		Sent:            false,
		Issues:          issues,
		IdempotencyKey:  key,
		NormalizedPhone: normalized,
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
