package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/thomasbruketta/therapy-ops-agent/internal/domain"
	"github.com/thomasbruketta/therapy-ops-agent/internal/retry"
)

// ErrMissingClinician is returned when a PracticeSource has no clinician id.
var ErrMissingClinician = errors.New("SIMPLEPRACTICE_CLINICIAN_ID is required for the practice source")

// PracticeSource lists a clinician's appointments for a day from the
// practice-management API.
type PracticeSource struct {
	BaseURL     string
	Token       string
	ClinicianID string

	HTTP  *http.Client
	Retry retry.Policy
}

type practiceAppointment struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	ClientName  string `json:"client_name"`
	Phone       string `json:"phone"`
	Location    string `json:"location"`
	ClinicianID string `json:"clinician_id"`
}

// ListAppointments implements Source. Appointments belonging to another
// clinician are filtered out.
func (p PracticeSource) ListAppointments(ctx context.Context, date string) ([]domain.Appointment, error) {
	clinician := strings.TrimSpace(p.ClinicianID)
	if clinician == "" {
		return nil, ErrMissingClinician
	}
	base, err := url.Parse(p.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid practice base URL %q", p.BaseURL)
	}

	ctx, span := otel.Tracer("source/PracticeSource").Start(ctx, "ListAppointments",
		trace.WithAttributes(attribute.String("practice.date", date)),
	)
	defer span.End()

	u := base.JoinPath("/api/v1/appointments")
	q := u.Query()
	q.Set("date", date)
	q.Set("clinician_id", clinician)
	u.RawQuery = q.Encode()

	var payload struct {
		Appointments []practiceAppointment `json:"appointments"`
	}
	err = p.Retry.Do(ctx, "get_today_appointments", func(ctx context.Context) error {
		return p.get(ctx, u.String(), &payload)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	out := make([]domain.Appointment, 0, len(payload.Appointments))
	for _, a := range payload.Appointments {
		if a.ClinicianID != "" && a.ClinicianID != clinician {
			continue
		}
		d := a.Date
		if d == "" {
			d = date
		}
		out = append(out, domain.Appointment{
			AppointmentID: a.ID,
			ScheduledDate: d,
			ScheduledTime: a.Time,
			Location:      a.Location,
			ClientName:    strings.TrimSpace(a.ClientName),
			Phone:         strings.TrimSpace(a.Phone),
		})
	}
	span.SetAttributes(attribute.Int("practice.appointments", len(out)))
	return out, nil
}

func (p PracticeSource) get(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	hc := p.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("practice api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("practice api error: %s body=%s", resp.Status, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return retry.MarkTransient(err)
		}
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("practice api: decode: %w", err)
	}
	return nil
}
