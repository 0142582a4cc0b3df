// Package logging configures zerolog for the process and emits the structured
// workflow events written for every dispatch step.
//
// Client names never reach a log line unmasked: WorkflowEvent always passes
// them through MaskClientName, and free-form error text goes through Scrub,
// which removes e-mail addresses, phone numbers and UUIDs.
package logging

import (
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetLevel configures the global zerolog level. Supported values
// (case-insensitive): debug, info, warn, error, fatal, panic. Unknown or empty
// values fall back to info.
func SetLevel(lvl string) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Setup builds the process logger, installs it as zerolog's global logger and
// returns it so callers can hand it to collaborators explicitly.
func Setup(level string, pretty bool) zerolog.Logger {
	SetLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(w).With().Timestamp().Str("service", "therapy-ops-agent").Logger()
	log.Logger = l
	return l
}

// MaskClientName keeps the first character of name and replaces the rest with
// '*'. An empty name stays empty; a one-character name becomes "*".
func MaskClientName(name string) string {
	runes := []rune(name)
	switch len(runes) {
	case 0:
		return ""
	case 1:
		return "*"
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-1)
}

// UUIDs go first so the phone pattern cannot eat their digit groups.
var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\+?\b(?:\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// Scrub redacts identifiers from free-form text such as error messages.
func Scrub(s string) string {
	if s == "" {
		return s
	}
	out := uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	out = emailRE.ReplaceAllString(out, "[REDACTED:email]")
	out = phoneRE.ReplaceAllString(out, "[REDACTED:phone]")
	return out
}

// WorkflowEvent is one structured log line about a dispatch step.
type WorkflowEvent struct {
	Step           string
	ClientName     string // raw; masked on emit
	IdempotencyKey string
	Status         string
	Message        string
	ErrorCode      string
	ErrorMessage   string // scrubbed on emit
}

// Emit writes ev to l. Events with an error code are logged at warn level.
func Emit(l zerolog.Logger, ev WorkflowEvent) {
	e := l.Info()
	if ev.ErrorCode != "" {
		e = l.Warn()
	}
	e = e.Str("workflow_step", orUnknown(ev.Step)).
		Str("client_name", MaskClientName(ev.ClientName)).
		Str("idempotency_key", ev.IdempotencyKey).
		Str("status", ev.Status)
	if ev.ErrorCode != "" {
		e = e.Str("error_code", ev.ErrorCode)
	}
	if ev.ErrorMessage != "" {
		e = e.Str("error_message", Scrub(ev.ErrorMessage))
	}
	e.Msg(ev.Message)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
