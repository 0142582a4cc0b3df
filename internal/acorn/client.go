// Package acorn is the HTTP adapter for the Acorn mobile-forms service. It
// logs in, submits a mobile form for one client, and verifies the send by
// reading back the confirmation.
//
// Every request waits on a token-bucket limiter and runs under the retry
// policy: 5xx, 429, network timeouts and a not-yet-visible confirmation are
// retried; authentication and other 4xx failures are not.
package acorn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/thomasbruketta/therapy-ops-agent/internal/retry"
)

const (
	defaultTimeout = 10 * time.Second
	userAgent      = "therapy-ops-agent/1"

	// SendViaText is the only delivery channel used.
	SendViaText = "text"
)

var (
	// ErrMissingCredentials is returned by Login without a username/password.
	ErrMissingCredentials = errors.New("acorn: username and password are required")

	// ErrUnauthorized matches 401/403 responses via errors.Is. They are never
	// retried.
	ErrUnauthorized = errors.New("acorn: unauthorized")
)

// APIError is a non-2xx response.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("acorn %s: HTTP %d: %s", e.Op, e.Status, e.Body)
}

// Kind names the failure for triage, e.g. "http_422".
func (e *APIError) Kind() string { return "http_" + strconv.Itoa(e.Status) }

// Unwrap lets errors.Is(err, ErrUnauthorized) match 401 and 403 responses.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	Username string
	Password string

	Timeout time.Duration
	Retry   retry.Policy

	// RatePerSecond <= 0 disables limiting.
	RatePerSecond float64
	Burst         int

	Log        zerolog.Logger
	HTTPClient *http.Client
}

// SendFields are the values submitted for one mobile form.
type SendFields struct {
	ClinicianID  string `json:"clinician_id"`
	FormValue    string `json:"form_value"`
	ClientID     string `json:"client_id"`
	Phone        string `json:"phone"`
	Message      string `json:"message"`
	SendVia      string `json:"send_via"`
	StartSession int    `json:"start_session"`
	TextFrom     string `json:"text_from"`
}

// SendResult is what Send learned from the service. Context is passed back to
// Verify unchanged.
type SendResult struct {
	Success bool
	Context map[string]string
}

// Client talks to the Acorn API.
type Client struct {
	base     *url.URL
	username string
	password string
	http     *http.Client
	limiter  *rate.Limiter
	retry    retry.Policy
	log      zerolog.Logger

	token string
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("acorn base URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid acorn base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("acorn base URL must use http or https scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("acorn base URL must include a host")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		base:     u,
		username: strings.TrimSpace(cfg.Username),
		password: strings.TrimSpace(cfg.Password),
		http:     hc,
		limiter:  rate.NewLimiter(limit, burst),
		retry:    cfg.Retry,
		log:      cfg.Log,
	}, nil
}

// Login exchanges the configured credentials for a session token.
func (c *Client) Login(ctx context.Context) error {
	if c.username == "" || c.password == "" {
		return ErrMissingCredentials
	}
	ctx, span := otel.Tracer("acorn/Client").Start(ctx, "Login")
	defer span.End()

	var out struct {
		Token string `json:"token"`
	}
	err := c.retry.Do(ctx, "login", func(ctx context.Context) error {
		return c.do(ctx, "login", http.MethodPost, "/api/login", map[string]string{
			"email":    c.username,
			"password": c.password,
		}, &out)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if out.Token == "" {
		return fmt.Errorf("acorn login: empty token")
	}
	c.token = out.Token
	c.log.Info().Msg("acorn session established")
	return nil
}

type sendResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation string `json:"confirmation_text"`
}

// Send submits one mobile form.
func (c *Client) Send(ctx context.Context, f SendFields) (SendResult, error) {
	if c.token == "" {
		if err := c.Login(ctx); err != nil {
			return SendResult{}, err
		}
	}
	if f.SendVia == "" {
		f.SendVia = SendViaText
	}

	ctx, span := otel.Tracer("acorn/Client").Start(ctx, "Send",
		trace.WithAttributes(attribute.String("acorn.form_value", f.FormValue)),
	)
	defer span.End()

	var out sendResponse
	err := c.retry.Do(ctx, "send_mobile_form", func(ctx context.Context) error {
		return c.do(ctx, "send_mobile_form", http.MethodPost, "/api/mobile-forms", f, &out)
	})
	if err != nil {
		span.RecordError(err)
		return SendResult{}, err
	}

	return SendResult{
		Success: strings.EqualFold(out.Status, "sent") || strings.EqualFold(out.Status, "queued"),
		Context: map[string]string{
			"id":                out.ID,
			"form_value":        f.FormValue,
			"client_id":         f.ClientID,
			"phone":             f.Phone,
			"confirmation_text": out.Confirmation,
		},
	}, nil
}

// Verify reads the form back and checks the confirmation mentions "sent" and
// the client id or phone from the send context.
func (c *Client) Verify(ctx context.Context, sendCtx map[string]string) (bool, error) {
	id := sendCtx["id"]
	if id == "" {
		return false, nil
	}
	ctx, span := otel.Tracer("acorn/Client").Start(ctx, "Verify")
	defer span.End()

	var out sendResponse
	err := c.retry.Do(ctx, "verify_send_success", func(ctx context.Context) error {
		err := c.do(ctx, "verify_send_success", http.MethodGet, "/api/mobile-forms/"+url.PathEscape(id), nil, &out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			// Confirmation not visible yet.
			return retry.MarkTransient(err)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	return confirmationMatches(out.Confirmation, sendCtx["client_id"], sendCtx["phone"]), nil
}

func confirmationMatches(text, clientID, phone string) bool {
	text = strings.ToLower(text)
	clientID = strings.ToLower(clientID)
	phone = strings.ToLower(phone)
	if !strings.Contains(text, "sent") {
		return false
	}
	if clientID == "" && phone == "" {
		return true
	}
	return (clientID != "" && strings.Contains(text, clientID)) ||
		(phone != "" && strings.Contains(text, phone))
}

// do performs one rate-limited JSON request and classifies the failure.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("acorn %s: rate limiter: %w", op, err)
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Only timeouts are retried; retry.Transient finds them through %w.
		return fmt.Errorf("acorn %s: %w", op, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		apiErr := &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return retry.MarkTransient(apiErr)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("acorn %s: decode response: %w", op, err)
	}
	return nil
}
