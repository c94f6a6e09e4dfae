package auth

import (
	"bytes"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

const (
	testKey    = "partner-key"
	testSecret = "partner-secret"
)

func newTestAuthenticator(now time.Time) *Authenticator {
	return NewAuthenticator(
		map[string]string{testKey: testSecret},
		time.Minute,
		5*time.Minute,
		128,
		func() time.Time { return now },
	)
}

func signedRequest(t *testing.T, now time.Time, nonce string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/deeds/1/deposit", bytes.NewReader(body))
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := ComputeSignature(testSecret, ts, nonce, req.Method, CanonicalRequestPath(req), body)
	req.Header.Set(HeaderAPIKey, testKey)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
	return req
}

func TestAuthenticateAcceptsValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	a := newTestAuthenticator(now)
	body := []byte(`{"amount":"5"}`)
	principal, err := a.Authenticate(signedRequest(t, now, "nonce-1", body), body)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.APIKey != testKey {
		t.Fatalf("unexpected principal %q", principal.APIKey)
	}
}

func TestAuthenticateRejectsUnknownKey(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	a := newTestAuthenticator(now)
	body := []byte(`{}`)
	req := signedRequest(t, now, "nonce-1", body)
	req.Header.Set(HeaderAPIKey, "other-key")
	if _, err := a.Authenticate(req, body); err == nil {
		t.Fatalf("unknown key must be rejected")
	}
}

func TestAuthenticateRejectsTamperedBody(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	a := newTestAuthenticator(now)
	body := []byte(`{"amount":"5"}`)
	req := signedRequest(t, now, "nonce-1", body)
	tampered := []byte(`{"amount":"500"}`)
	if _, err := a.Authenticate(req, tampered); err == nil || !strings.Contains(err.Error(), "invalid signature") {
		t.Fatalf("expected signature failure, got %v", err)
	}
}

func TestAuthenticateRejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	a := newTestAuthenticator(now)
	body := []byte(`{}`)
	req := signedRequest(t, now.Add(-10*time.Minute), "nonce-1", body)
	if _, err := a.Authenticate(req, body); err == nil || !strings.Contains(err.Error(), "skew") {
		t.Fatalf("expected skew failure, got %v", err)
	}
}

func TestAuthenticateRejectsReplayedNonce(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	a := newTestAuthenticator(now)
	body := []byte(`{}`)
	if _, err := a.Authenticate(signedRequest(t, now, "nonce-1", body), body); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if _, err := a.Authenticate(signedRequest(t, now, "nonce-1", body), body); err == nil || !strings.Contains(err.Error(), "nonce") {
		t.Fatalf("expected replay rejection, got %v", err)
	}
	// A fresh nonce on the same timestamp still passes.
	if _, err := a.Authenticate(signedRequest(t, now, "nonce-2", body), body); err != nil {
		t.Fatalf("fresh nonce: %v", err)
	}
}

func TestAuthenticateRejectsMissingHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	body := []byte(`{}`)
	headers := []string{HeaderAPIKey, HeaderTimestamp, HeaderNonce, HeaderSignature}
	for _, header := range headers {
		a := newTestAuthenticator(now)
		req := signedRequest(t, now, "nonce-1", body)
		req.Header.Del(header)
		if _, err := a.Authenticate(req, body); err == nil {
			t.Fatalf("missing %s must be rejected", header)
		}
	}
}

func TestCanonicalQueryOrdersPairs(t *testing.T) {
	got := CanonicalQuery("b=2&a=1&c=3")
	if got != "a=1&b=2&c=3" {
		t.Fatalf("unexpected canonical query %q", got)
	}
}
