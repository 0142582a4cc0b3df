package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	// No special env needed; defaults are valid.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.Location == nil {
		t.Fatalf("unexpected nil location from MustLoad")
	}
}

// --- Load defaults ---

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.LogLevel != "info" || cfg.LogPretty {
		t.Fatalf("logging defaults unexpected: %+v", cfg)
	}
	if cfg.Location.String() != "America/Los_Angeles" || cfg.WindowHour != 8 || cfg.WindowMinute != 0 {
		t.Fatalf("window defaults unexpected: tz=%s %d:%d", cfg.Location, cfg.WindowHour, cfg.WindowMinute)
	}
	if cfg.Ledger.Backend != "json" || cfg.Ledger.Path != "/tmp/therapy-ops-agent/state/acorn_idempotency_store.json" {
		t.Fatalf("ledger defaults unexpected: %+v", cfg.Ledger)
	}
	if cfg.Report.ArtifactRoot != "/tmp/therapy-ops-agent/artifacts/runs" || cfg.Report.SummaryTemplate != "" {
		t.Fatalf("report defaults unexpected: %+v", cfg.Report)
	}
	if cfg.Acorn.FormVersion != "v14" ||
		cfg.Acorn.MessageTemplate != "Please complete Acorn intake form v14 before your appointment." ||
		cfg.Acorn.FormValue != "Adult-Ver14-UNIV-28236-Online.pdf" ||
		cfg.Acorn.HasCredentials() {
		t.Fatalf("acorn defaults unexpected: %+v", cfg.Acorn)
	}
	if cfg.RecipientSource != "recipients" || cfg.RecipientsPath != "state/acorn_recipients.json" || cfg.PrivacySalt != "therapy-ops" {
		t.Fatalf("recipient defaults unexpected: %+v", cfg)
	}
	if cfg.Send.Timeout != 10*time.Second || cfg.Send.RetryAttempts != 3 || cfg.Send.RetryBackoff != 600*time.Millisecond ||
		cfg.Send.RateRPS != 1 || cfg.Send.RateBurst != 1 {
		t.Fatalf("send defaults unexpected: %+v", cfg.Send)
	}
	if cfg.Schedule.Hour != 8 || cfg.Schedule.Minute != 0 || cfg.Schedule.MisfireGrace != 30*time.Minute {
		t.Fatalf("schedule defaults unexpected: %+v", cfg.Schedule)
	}
	if cfg.HTTP.Addr != ":8090" || cfg.HTTP.GinMode != "release" {
		t.Fatalf("http defaults unexpected: %+v", cfg.HTTP)
	}
	if cfg.OTEL.Enabled || cfg.OTEL.ServiceName != "therapy-ops-agent" || cfg.OTEL.SampleRatio != 1.0 {
		t.Fatalf("otel defaults unexpected: %+v", cfg.OTEL)
	}
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_Overrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("ACORN_TIMEZONE", "UTC")
	t.Setenv("ACORN_WINDOW_START", "7:30")
	t.Setenv("ACORN_RECIPIENT_SOURCE", "PRACTICE")
	t.Setenv("LEDGER_BACKEND", "SQLite")
	t.Setenv("LEDGER_DSN", "/var/lib/acorn/ledger.db")
	t.Setenv("ACORN_USERNAME", "  user@example.com ")
	t.Setenv("ACORN_PASSWORD", "secret")
	t.Setenv("SEND_RETRY_ATTEMPTS", "5")
	t.Setenv("SEND_RETRY_BACKOFF", "x") // -> default 600ms
	t.Setenv("SEND_RATE_RPS", "2.5")
	t.Setenv("SCHEDULE_AT", "06:05")
	t.Setenv("HTTP_ADDR", "off")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty {
		t.Fatalf("logging unexpected: %+v", cfg)
	}
	if cfg.Location != time.UTC || cfg.WindowHour != 7 || cfg.WindowMinute != 30 {
		t.Fatalf("window unexpected: %s %d:%d", cfg.Location, cfg.WindowHour, cfg.WindowMinute)
	}
	if cfg.RecipientSource != "practice" || cfg.Ledger.Backend != "sqlite" {
		t.Fatalf("source/ledger unexpected: %+v", cfg)
	}
	if cfg.Acorn.Username != "user@example.com" || !cfg.Acorn.HasCredentials() {
		t.Fatalf("credentials unexpected: %+v", cfg.Acorn)
	}
	if cfg.Send.RetryAttempts != 5 || cfg.Send.RetryBackoff != 600*time.Millisecond || cfg.Send.RateRPS != 2.5 {
		t.Fatalf("send unexpected: %+v", cfg.Send)
	}
	if cfg.Schedule.Hour != 6 || cfg.Schedule.Minute != 5 {
		t.Fatalf("schedule unexpected: %+v", cfg.Schedule)
	}
	if cfg.HTTP.Addr != "" || cfg.HTTP.GinMode != "release" {
		t.Fatalf("http unexpected: %+v", cfg.HTTP)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name, key, val, want string
		extra                map[string]string
	}{
		{name: "invalid LOG_LEVEL", key: "LOG_LEVEL", val: "verbose", want: "LOG_LEVEL"},
		{name: "empty ledger path", key: "ACORN_IDEMPOTENCY_STORE_PATH", val: "   ", want: "ACORN_IDEMPOTENCY_STORE_PATH"},
		{name: "unknown backend", key: "LEDGER_BACKEND", val: "redis", want: "LEDGER_BACKEND"},
		{name: "gorm backend without dsn", key: "LEDGER_BACKEND", val: "postgres", want: "LEDGER_DSN"},
		{name: "unknown source", key: "ACORN_RECIPIENT_SOURCE", val: "csv", want: "ACORN_RECIPIENT_SOURCE"},
		{name: "blank template", key: "ACORN_MESSAGE_TEMPLATE", val: "  ", want: "ACORN_MESSAGE_TEMPLATE"},
		{name: "blank form version", key: "ACORN_FORM_VERSION", val: " ", want: "ACORN_FORM_VERSION"},
		{name: "unknown timezone", key: "ACORN_TIMEZONE", val: "Mars/Olympus", want: "ACORN_TIMEZONE"},
		{name: "bad window start", key: "ACORN_WINDOW_START", val: "8am", want: "ACORN_WINDOW_START"},
		{name: "bad schedule", key: "SCHEDULE_AT", val: "24:00", want: "SCHEDULE_AT"},
		{name: "negative grace", key: "SCHEDULE_MISFIRE_GRACE", val: "-1m", want: "SCHEDULE_MISFIRE_GRACE"},
		{name: "non-positive send timeout", key: "SEND_TIMEOUT", val: "0s", want: "SEND_TIMEOUT"},
		{name: "zero attempts", key: "SEND_RETRY_ATTEMPTS", val: "0", want: "SEND_RETRY_ATTEMPTS"},
		{name: "negative backoff", key: "SEND_RETRY_BACKOFF", val: "-1s", want: "SEND_RETRY_BACKOFF"},
		{name: "negative send rate", key: "SEND_RATE_RPS", val: "-1", want: "SEND_RATE_RPS"},
		{name: "zero send burst", key: "SEND_RATE_BURST", val: "0", want: "SEND_RATE_BURST"},
		{name: "non-positive http timeout", key: "READ_TIMEOUT", val: "0s", want: "timeouts must be positive"},
		{name: "max header bytes", key: "MAX_HEADER_BYTES", val: "0", want: "MAX_HEADER_BYTES"},
		{name: "negative http rate", key: "HTTP_RATE_RPS", val: "-1", want: "HTTP_RATE_RPS"},
		{name: "zero http burst", key: "HTTP_RATE_BURST", val: "0", want: "HTTP_RATE_BURST"},
		{name: "otel sample ratio out of range", key: "OTEL_TRACES_SAMPLER_ARG", val: "1.5", want: "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}
}

func TestParseHHMM(t *testing.T) {
	good := map[string][2]int{"08:00": {8, 0}, "7:05": {7, 5}, " 23:59 ": {23, 59}, "00:00": {0, 0}}
	for in, want := range good {
		h, m, err := ParseHHMM(in)
		if err != nil || h != want[0] || m != want[1] {
			t.Errorf("ParseHHMM(%q) = %d, %d, %v", in, h, m, err)
		}
	}
	for _, in := range []string{"", "8", "08:0", "08:60", "-1:00", "24:00", "ab:cd", "123:00"} {
		if _, _, err := ParseHHMM(in); err == nil {
			t.Errorf("ParseHHMM(%q) should fail", in)
		}
	}
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"} {
		t.Setenv("B_T", v)
		if !getbool("B_T", false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	for _, v := range []string{"0", "false", "FALSE", " no ", "N", "off", "Off"} {
		t.Setenv("B_F", v)
		if getbool("B_F", true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	// default on unset/empty
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

// Ensure tests don't pick up a developer's shell environment.
func TestMain(m *testing.M) {
	for _, k := range []string{"ACORN_USERNAME", "ACORN_PASSWORD", "LEDGER_BACKEND", "HTTP_ADDR", "ACORN_TIMEZONE"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
