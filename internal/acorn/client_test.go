package acorn

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/thomasbruketta/therapy-ops-agent/internal/retry"
)

func fastRetry(captures *int32) retry.Policy {
	return retry.Policy{
		Attempts: 3,
		Backoff:  time.Millisecond,
		Capture: func(context.Context, string, error) {
			if captures != nil {
				atomic.AddInt32(captures, 1)
			}
		},
	}
}

// fakeAcorn is a minimal Acorn API.
type fakeAcorn struct {
	sendFailures   int32 // number of 503s before success
	verifyNotFound int32 // number of 404s before the form is visible
	confirmation   string

	mu       sync.Mutex
	lastSend SendFields
}

func (f *fakeAcorn) last() SendFields {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSend
}

func (f *fakeAcorn) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "ops@example.com" || body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	})
	mux.HandleFunc("/api/mobile-forms", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if atomic.AddInt32(&f.sendFailures, -1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var got SendFields
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode send: %v", err)
		}
		f.mu.Lock()
		f.lastSend = got
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"id": "form-9", "status": "sent"})
	})
	mux.HandleFunc("/api/mobile-forms/form-9", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&f.verifyNotFound, -1) >= 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "form-9", "status": "sent", "confirmation_text": f.confirmation})
	})
	return mux
}

func newTestClient(t *testing.T, fa *fakeAcorn, captures *int32) *Client {
	t.Helper()
	srv := httptest.NewServer(fa.handler(t))
	t.Cleanup(srv.Close)
	c, err := New(Config{
		BaseURL:  srv.URL,
		Username: "ops@example.com",
		Password: "secret",
		Retry:    fastRetry(captures),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func fields() SendFields {
	return SendFields{
		ClinicianID: "ALL",
		FormValue:   "Adult-Ver14-UNIV-28236-Online.pdf",
		ClientID:    "janeexample",
		Phone:       "+15551112222",
		Message:     "Please complete Acorn intake form v14 before your appointment.",
		TextFrom:    "ACORN",
	}
}

func TestSendAndVerify_HappyPathWithRetries(t *testing.T) {
	fa := &fakeAcorn{sendFailures: 2, verifyNotFound: 1, confirmation: "Form sent to janeexample"}
	c := newTestClient(t, fa, nil)

	res, err := c.Send(context.Background(), fields())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Success || res.Context["id"] != "form-9" {
		t.Fatalf("Send result = %+v", res)
	}
	if got := fa.last(); got.SendVia != "text" || got.ClientID != "janeexample" {
		t.Fatalf("submitted fields = %+v", got)
	}

	ok, err := c.Verify(context.Background(), res.Context)
	if err != nil || !ok {
		t.Fatalf("Verify = (%v, %v)", ok, err)
	}
}

func TestVerify_ConfirmationMismatch(t *testing.T) {
	fa := &fakeAcorn{confirmation: "Form queued"}
	c := newTestClient(t, fa, nil)
	res, err := c.Send(context.Background(), fields())
	if err != nil {
		t.Fatal(err)
	}
	ok, err := c.Verify(context.Background(), res.Context)
	if err != nil || ok {
		t.Fatalf("Verify = (%v, %v); want (false, nil)", ok, err)
	}
	if ok, _ := c.Verify(context.Background(), map[string]string{}); ok {
		t.Fatalf("Verify without id should be false")
	}
}

func TestSend_RetriesExhausted(t *testing.T) {
	var captures int32
	fa := &fakeAcorn{sendFailures: 10}
	c := newTestClient(t, fa, &captures)

	_, err := c.Send(context.Background(), fields())
	var ex *retry.ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected wrapped 503, got %v", err)
	}
	if atomic.LoadInt32(&captures) != 1 {
		t.Fatalf("captures = %d; want 1", captures)
	}
}

func TestLogin_BadCredentialsNotRetried(t *testing.T) {
	var captures int32
	fa := &fakeAcorn{}
	srv := httptest.NewServer(fa.handler(t))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL, Username: "ops@example.com", Password: "wrong", Retry: fastRetry(&captures)})
	err := c.Login(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind() != "http_401" {
		t.Fatalf("kind = %v", err)
	}
	if captures != 1 {
		t.Fatalf("captures = %d; want 1", captures)
	}

	c2, _ := New(Config{BaseURL: srv.URL})
	if err := c2.Login(context.Background()); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestSend_ClientErrorIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/login") {
			json.NewEncoder(w).Encode(map[string]string{"token": "t"})
			return
		}
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"bad phone"}`))
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL, Username: "u", Password: "p", Retry: fastRetry(nil)})
	_, err := c.Send(context.Background(), fields())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind() != "http_422" || !strings.Contains(apiErr.Body, "bad phone") {
		t.Fatalf("err = %v", err)
	}
	if hits != 1 {
		t.Fatalf("422 should not be retried (hits=%d)", hits)
	}
}

func TestNew_ValidatesURL(t *testing.T) {
	for _, u := range []string{"", "ftp://x", "http://", "::bad"} {
		if _, err := New(Config{BaseURL: u}); err == nil {
			t.Errorf("New(%q) should fail", u)
		}
	}
}

func TestRateLimiter_SpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "t", "id": "x", "status": "sent"})
	}))
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL, Username: "u", Password: "p", RatePerSecond: 20, Burst: 1})
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Send(context.Background(), fields()); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	// login + 3 sends = 4 requests at 20/s with burst 1 -> at least ~150ms.
	if el := time.Since(start); el < 100*time.Millisecond {
		t.Fatalf("requests not rate limited: %v", el)
	}
}

func TestConfirmationMatches(t *testing.T) {
	cases := []struct {
		text, id, phone string
		want            bool
	}{
		{"Sent to janeexample", "janeexample", "", true},
		{"SENT to +15551112222", "x", "+15551112222", true},
		{"Sent", "", "", true},
		{"Queued for janeexample", "janeexample", "", false},
		{"Sent to someone else", "janeexample", "+1555", false},
	}
	for _, tc := range cases {
		if got := confirmationMatches(tc.text, tc.id, tc.phone); got != tc.want {
			t.Errorf("confirmationMatches(%q,%q,%q) = %v", tc.text, tc.id, tc.phone, got)
		}
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestLogin_TransportErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantCalls int32
		exhausted bool
	}{
		{
			name:      "connection refused fails fast",
			err:       &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
			wantCalls: 1,
		},
		{
			name:      "timeout uses the retry budget",
			err:       &net.OpError{Op: "read", Net: "tcp", Err: timeoutErr{}},
			wantCalls: 3,
			exhausted: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
				atomic.AddInt32(&calls, 1)
				return nil, tc.err
			})}
			c, err := New(Config{BaseURL: "http://acorn.test", Username: "u", Password: "p", Retry: fastRetry(nil), HTTPClient: hc})
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			err = c.Login(context.Background())
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := atomic.LoadInt32(&calls); got != tc.wantCalls {
				t.Fatalf("calls = %d; want %d", got, tc.wantCalls)
			}
			var ex *retry.ExhaustedError
			if errors.As(err, &ex) != tc.exhausted {
				t.Fatalf("exhausted = %v; want %v (err=%v)", !tc.exhausted, tc.exhausted, err)
			}
		})
	}
}
