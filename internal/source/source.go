// Package source provides the appointment feeds a daily run can draw from: a
// recipients file (JSON or YAML), inline "Name|phone" entries, and the
// practice-management HTTP API. Failures are returned as errors; a source
// never hands back a silently truncated list.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/thomasbruketta/therapy-ops-agent/internal/domain"
)

// Source lists the appointments scheduled for date (YYYY-MM-DD).
type Source interface {
	ListAppointments(ctx context.Context, date string) ([]domain.Appointment, error)
}

var (
	// ErrInlineFormat is returned for an inline entry that is not "Name|phone".
	ErrInlineFormat = errors.New("inline recipient must look like 'First Last|+15551234567'")

	// ErrNotAList is returned when a recipients file is not a list of objects.
	ErrNotAList = errors.New("recipients file must be a list of objects")
)

// FromRecipients turns addressing records into appointments for date.
func FromRecipients(date string, rs []domain.Recipient) []domain.Appointment {
	out := make([]domain.Appointment, 0, len(rs))
	for i, r := range rs {
		out = append(out, domain.Appointment{
			AppointmentID: fmt.Sprintf("recipient-%d", i+1),
			ScheduledDate: date,
			ClientName:    r.FullName,
			Phone:         r.Phone,
		})
	}
	return out
}

// InlineSource serves recipients given on the command line.
type InlineSource struct {
	Entries []string
}

// ParseInline parses one "Full Name|phone" entry.
func ParseInline(v string) (domain.Recipient, error) {
	name, phone, ok := strings.Cut(v, "|")
	name, phone = strings.TrimSpace(name), strings.TrimSpace(phone)
	if !ok || name == "" || phone == "" {
		return domain.Recipient{}, fmt.Errorf("%w: %q", ErrInlineFormat, v)
	}
	return domain.Recipient{FullName: name, Phone: phone}, nil
}

// ListAppointments implements Source.
func (s InlineSource) ListAppointments(_ context.Context, date string) ([]domain.Appointment, error) {
	rs := make([]domain.Recipient, 0, len(s.Entries))
	for _, e := range s.Entries {
		r, err := ParseInline(e)
		if err != nil {
			return nil, err
		}
		rs = append(rs, r)
	}
	return FromRecipients(date, rs), nil
}

// FileSource reads recipients from a JSON or YAML file (by extension). A
// missing file yields no recipients. Entries without a name or phone are
// dropped.
type FileSource struct {
	Path string
}

// fileEntry accepts both recipient (full_name) and appointment (client_name)
// shaped items.
type fileEntry struct {
	FullName      string
	ClientName    string
	Phone         string
	AppointmentID string
	ScheduledDate string
	ScheduledTime string
	Location      string
}

// ListAppointments implements Source. Entries with a scheduled_date for a
// different day are skipped.
func (s FileSource) ListAppointments(_ context.Context, date string) ([]domain.Appointment, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.Appointment{}, nil
		}
		return nil, fmt.Errorf("read recipients: %w", err)
	}

	entries, err := decodeEntries(s.Path, raw)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Appointment, 0, len(entries))
	for i, e := range entries {
		name := strings.TrimSpace(e.FullName)
		if name == "" {
			name = strings.TrimSpace(e.ClientName)
		}
		phone := strings.TrimSpace(e.Phone)
		if name == "" || phone == "" {
			continue
		}
		if e.ScheduledDate != "" && e.ScheduledDate != date {
			continue
		}
		id := e.AppointmentID
		if id == "" {
			id = fmt.Sprintf("recipient-%d", i+1)
		}
		out = append(out, domain.Appointment{
			AppointmentID: id,
			ScheduledDate: date,
			ScheduledTime: e.ScheduledTime,
			Location:      e.Location,
			ClientName:    name,
			Phone:         phone,
		})
	}
	return out, nil
}

// decodeEntries accepts a list whose non-object items are ignored.
func decodeEntries(path string, raw []byte) ([]fileEntry, error) {
	var items []any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotAList, err)
		}
	default:
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotAList, err)
		}
	}

	out := make([]fileEntry, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, fileEntry{
			FullName:      str(obj["full_name"]),
			ClientName:    str(obj["client_name"]),
			Phone:         str(obj["phone"]),
			AppointmentID: str(obj["appointment_id"]),
			ScheduledDate: str(obj["scheduled_date"]),
			ScheduledTime: str(obj["scheduled_time"]),
			Location:      str(obj["location"]),
		})
	}
	return out, nil
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
