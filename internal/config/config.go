// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes the settings of the
// daily send job (ledger, artifacts, sender, recipient source), the scheduler,
// the status server, logging and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // ACORN_TIMEZONE must resolve on hosts without zoneinfo
)

// RuntimeRoot holds all mutable state by default; `purge` removes it.
const RuntimeRoot = "/tmp/therapy-ops-agent"

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// HTTPConfig defines the status server.
type HTTPConfig struct {
	Addr              string        // HTTP_ADDR; "off" disables the server under `schedule`
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	RateRPS   float64 // per-client tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)
}

// LedgerConfig selects the idempotency store.
type LedgerConfig struct {
	Backend string // json|sqlite|postgres
	Path    string // JSON file
	DSN     string // sqlite file or postgres DSN
}

// ReportConfig controls where run artifacts land.
type ReportConfig struct {
	ArtifactRoot    string
	SummaryTemplate string // {date}, {mode}, {timestamp}
	TriageTemplate  string
	DiagnosticsDir  string
	MetricsTextfile string
}

// AcornConfig is the mobile-forms sender and the content it must send.
type AcornConfig struct {
	BaseURL     string
	Username    string
	Password    string
	ClinicianID string
	TextFrom    string

	FormValue       string
	FormVersion     string
	MessageTemplate string
}

// HasCredentials reports whether both username and password are set.
func (a AcornConfig) HasCredentials() bool {
	return strings.TrimSpace(a.Username) != "" && strings.TrimSpace(a.Password) != ""
}

// PracticeConfig is the practice-management appointment source.
type PracticeConfig struct {
	BaseURL     string
	Token       string
	ClinicianID string
}

// SendConfig bounds every external call.
type SendConfig struct {
	Timeout       time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	RateRPS       float64
	RateBurst     int
}

// ScheduleConfig is the daily trigger.
type ScheduleConfig struct {
	At           string // HH:MM in Config.Location
	Hour, Minute int
	MisfireGrace time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Eligibility window
	Timezone     string
	Location     *time.Location
	WindowStart  string // HH:MM
	WindowHour   int
	WindowMinute int

	// Recipients
	RecipientSource string // recipients|practice
	RecipientsPath  string
	PrivacySalt     string

	Ledger   LedgerConfig
	Report   ReportConfig
	Acorn    AcornConfig
	Practice PracticeConfig
	Send     SendConfig
	Schedule ScheduleConfig
	HTTP     HTTPConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		Timezone:    getenv("ACORN_TIMEZONE", "America/Los_Angeles"),
		WindowStart: getenv("ACORN_WINDOW_START", "08:00"),

		RecipientSource: strings.ToLower(getenv("ACORN_RECIPIENT_SOURCE", "recipients")),
		RecipientsPath:  getenv("ACORN_RECIPIENTS_PATH", "state/acorn_recipients.json"),
		PrivacySalt:     getenv("ACORN_PRIVACY_SALT", "therapy-ops"),

		Ledger: LedgerConfig{
			Backend: strings.ToLower(getenv("LEDGER_BACKEND", "json")),
			Path:    getenv("ACORN_IDEMPOTENCY_STORE_PATH", RuntimeRoot+"/state/acorn_idempotency_store.json"),
			DSN:     getenv("LEDGER_DSN", ""),
		},
		Report: ReportConfig{
			ArtifactRoot:    getenv("ACORN_ARTIFACT_ROOT", RuntimeRoot+"/artifacts/runs"),
			SummaryTemplate: getenv("ACORN_SUMMARY_PATH_TEMPLATE", ""),
			TriageTemplate:  getenv("ACORN_TRIAGE_PATH_TEMPLATE", ""),
			DiagnosticsDir:  getenv("DIAGNOSTICS_DIR", "artifacts/diagnostics"),
			MetricsTextfile: getenv("METRICS_TEXTFILE", ""),
		},
		Acorn: AcornConfig{
			BaseURL:         getenv("ACORN_BASE_URL", "https://acorn.example.com"),
			Username:        getenv("ACORN_USERNAME", ""),
			Password:        getenv("ACORN_PASSWORD", ""),
			ClinicianID:     getenv("ACORN_CLINICIAN_ID", ""),
			TextFrom:        getenv("ACORN_TEXT_FROM", ""),
			FormValue:       getenv("ACORN_FORM_VALUE", "Adult-Ver14-UNIV-28236-Online.pdf"),
			FormVersion:     getenv("ACORN_FORM_VERSION", "v14"),
			MessageTemplate: getenv("ACORN_MESSAGE_TEMPLATE", "Please complete Acorn intake form v14 before your appointment."),
		},
		Practice: PracticeConfig{
			BaseURL:     getenv("PRACTICE_BASE_URL", ""),
			Token:       getenv("PRACTICE_API_TOKEN", ""),
			ClinicianID: getenv("SIMPLEPRACTICE_CLINICIAN_ID", ""),
		},
		Send: SendConfig{
			Timeout:       getdur("SEND_TIMEOUT", 10*time.Second),
			RetryAttempts: getint("SEND_RETRY_ATTEMPTS", 3),
			RetryBackoff:  getdur("SEND_RETRY_BACKOFF", 600*time.Millisecond),
			RateRPS:       getfloat("SEND_RATE_RPS", 1.0),
			RateBurst:     getint("SEND_RATE_BURST", 1),
		},
		Schedule: ScheduleConfig{
			At:           getenv("SCHEDULE_AT", "08:00"),
			MisfireGrace: getdur("SCHEDULE_MISFIRE_GRACE", 30*time.Minute),
		},
		HTTP: HTTPConfig{
			Addr:              getenv("HTTP_ADDR", ":8090"),
			ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
			ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
			WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
			IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
			MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
			GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
			RateRPS:           getfloat("HTTP_RATE_RPS", 5.0),
			RateBurst:         getint("HTTP_RATE_BURST", 10),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "therapy-ops-agent"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.HTTP.GinMode {
	case "debug", "release", "test":
	default:
		cfg.HTTP.GinMode = "release"
	}
	if strings.EqualFold(strings.TrimSpace(cfg.HTTP.Addr), "off") {
		cfg.HTTP.Addr = ""
	}
	cfg.Acorn.Username = strings.TrimSpace(cfg.Acorn.Username)
	cfg.Acorn.Password = strings.TrimSpace(cfg.Acorn.Password)

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Ledger.Path) == "" {
		return cfg, errors.New("ACORN_IDEMPOTENCY_STORE_PATH must not be empty")
	}
	switch cfg.Ledger.Backend {
	case "json":
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.Ledger.DSN) == "" {
			return cfg, errors.New("LEDGER_DSN is required for the " + cfg.Ledger.Backend + " ledger backend")
		}
	default:
		return cfg, errors.New("LEDGER_BACKEND must be one of: json, sqlite, postgres")
	}
	switch cfg.RecipientSource {
	case "recipients", "practice":
	default:
		return cfg, errors.New("ACORN_RECIPIENT_SOURCE must be recipients or practice")
	}
	if strings.TrimSpace(cfg.Acorn.MessageTemplate) == "" {
		return cfg, errors.New("ACORN_MESSAGE_TEMPLATE must not be empty")
	}
	if strings.TrimSpace(cfg.Acorn.FormVersion) == "" {
		return cfg, errors.New("ACORN_FORM_VERSION must not be empty")
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return cfg, fmt.Errorf("ACORN_TIMEZONE: unknown time zone %q", cfg.Timezone)
	}
	cfg.Location = loc
	if cfg.WindowHour, cfg.WindowMinute, err = ParseHHMM(cfg.WindowStart); err != nil {
		return cfg, fmt.Errorf("ACORN_WINDOW_START: %w", err)
	}
	if cfg.Schedule.Hour, cfg.Schedule.Minute, err = ParseHHMM(cfg.Schedule.At); err != nil {
		return cfg, fmt.Errorf("SCHEDULE_AT: %w", err)
	}
	if cfg.Schedule.MisfireGrace < 0 {
		return cfg, errors.New("SCHEDULE_MISFIRE_GRACE must be >= 0")
	}
	if cfg.Send.Timeout <= 0 {
		return cfg, errors.New("SEND_TIMEOUT must be a positive duration")
	}
	if cfg.Send.RetryAttempts < 1 {
		return cfg, errors.New("SEND_RETRY_ATTEMPTS must be >= 1")
	}
	if cfg.Send.RetryBackoff < 0 {
		return cfg, errors.New("SEND_RETRY_BACKOFF must be >= 0")
	}
	if cfg.Send.RateRPS < 0 {
		return cfg, errors.New("SEND_RATE_RPS must be >= 0")
	}
	if cfg.Send.RateBurst < 1 {
		return cfg, errors.New("SEND_RATE_BURST must be >= 1")
	}
	if cfg.HTTP.ReadTimeout <= 0 || cfg.HTTP.ReadHeaderTimeout <= 0 || cfg.HTTP.WriteTimeout <= 0 || cfg.HTTP.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.HTTP.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.HTTP.RateRPS < 0 {
		return cfg, errors.New("HTTP_RATE_RPS must be >= 0")
	}
	if cfg.HTTP.RateBurst < 1 {
		return cfg, errors.New("HTTP_RATE_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ParseHHMM parses a 24-hour "HH:MM" wall-clock time.
func ParseHHMM(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if ok && len(h) >= 1 && len(h) <= 2 && len(m) == 2 {
		hour, herr := strconv.Atoi(h)
		minute, merr := strconv.Atoi(m)
		if herr == nil && merr == nil && hour >= 0 && hour < 24 && minute >= 0 && minute < 60 {
			return hour, minute, nil
		}
	}
	return 0, 0, fmt.Errorf("must be HH:MM, got %q", s)
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
