package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"homestead/gateway/auth"
)

const (
	gatewayTestKey    = "partner"
	gatewayTestSecret = "partner-secret"
)

type stubNodeClient struct {
	calls     int
	lastState *SaleState
	failWith  error
}

func (s *stubNodeClient) state(tokenID uint64, status string) *SaleState {
	s.lastState = &SaleState{
		TokenID:       tokenID,
		Round:         1,
		Buyer:         "hst1buyer",
		PurchasePrice: "10",
		EscrowAmount:  "5",
		Status:        status,
	}
	return s.lastState
}

func (s *stubNodeClient) SaleList(ctx context.Context, req SaleListRequest) (*SaleState, error) {
	s.calls++
	if s.failWith != nil {
		return nil, s.failWith
	}
	return s.state(req.TokenID, "listed"), nil
}

func (s *stubNodeClient) SaleDeposit(ctx context.Context, caller string, tokenID uint64, amount string) (*SaleState, error) {
	s.calls++
	if s.failWith != nil {
		return nil, s.failWith
	}
	return s.state(tokenID, "listed"), nil
}

func (s *stubNodeClient) SaleTopUp(ctx context.Context, caller string, tokenID uint64, amount string) (*SaleState, error) {
	s.calls++
	return s.state(tokenID, "listed"), nil
}

func (s *stubNodeClient) SaleUpdateInspection(ctx context.Context, caller string, tokenID uint64, passed bool) (*SaleState, error) {
	s.calls++
	return s.state(tokenID, "listed"), nil
}

func (s *stubNodeClient) SaleApprove(ctx context.Context, caller string, tokenID uint64) error {
	s.calls++
	return nil
}

func (s *stubNodeClient) SaleFinalize(ctx context.Context, caller string, tokenID uint64) (*SaleState, error) {
	s.calls++
	return s.state(tokenID, "finalized"), nil
}

func (s *stubNodeClient) SaleCancel(ctx context.Context, caller string, tokenID uint64) (*SaleState, error) {
	s.calls++
	return s.state(tokenID, "cancelled"), nil
}

func (s *stubNodeClient) SaleGet(ctx context.Context, tokenID uint64) (*SaleState, error) {
	s.calls++
	return s.state(tokenID, "listed"), nil
}

type gatewayFixture struct {
	server *Server
	node   *stubNodeClient
	now    time.Time
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	now := time.Unix(1_700_000_000, 0).UTC()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	authenticator := auth.NewAuthenticator(
		map[string]string{gatewayTestKey: gatewayTestSecret},
		time.Minute, 5*time.Minute, 128,
		func() time.Time { return now },
	)
	node := &stubNodeClient{}
	server := NewServer(authenticator, node, store)
	server.nowFn = func() time.Time { return now }
	return &gatewayFixture{server: server, node: node, now: now}
}

func (f *gatewayFixture) signedPost(t *testing.T, path, nonce, idempotencyKey string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	ts := strconv.FormatInt(f.now.Unix(), 10)
	sig := auth.ComputeSignature(gatewayTestSecret, ts, nonce, req.Method, auth.CanonicalRequestPath(req), body)
	req.Header.Set(auth.HeaderAPIKey, gatewayTestKey)
	req.Header.Set(auth.HeaderTimestamp, ts)
	req.Header.Set(auth.HeaderNonce, nonce)
	req.Header.Set(auth.HeaderSignature, hex.EncodeToString(sig))
	if idempotencyKey != "" {
		req.Header.Set(headerIdempotencyKey, idempotencyKey)
	}
	recorder := httptest.NewRecorder()
	f.server.ServeHTTP(recorder, req)
	return recorder
}

func TestGatewayRejectsUnsignedRequests(t *testing.T) {
	f := newGatewayFixture(t)
	body := []byte(`{"caller":"hst1seller","amount":"5"}`)
	req := httptest.NewRequest(http.MethodPost, "/sales/1/deposit", bytes.NewReader(body))
	req.Header.Set(headerIdempotencyKey, "idem-1")
	recorder := httptest.NewRecorder()
	f.server.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if f.node.calls != 0 {
		t.Fatalf("node must not be called for unsigned requests")
	}
}

func TestGatewayRequiresIdempotencyKey(t *testing.T) {
	f := newGatewayFixture(t)
	body := []byte(`{"caller":"hst1seller","amount":"5"}`)
	recorder := f.signedPost(t, "/sales/1/deposit", "nonce-1", "", body)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestGatewayDepositRoundTrip(t *testing.T) {
	f := newGatewayFixture(t)
	body := []byte(`{"caller":"hst1buyer","amount":"5"}`)
	recorder := f.signedPost(t, "/sales/1/deposit", "nonce-1", "idem-1", body)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	var state SaleState
	if err := json.Unmarshal(recorder.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if state.TokenID != 1 || state.Status != "listed" {
		t.Fatalf("unexpected state: %+v", state)
	}
	if f.node.calls != 1 {
		t.Fatalf("expected one node call, got %d", f.node.calls)
	}
}

func TestGatewayIdempotentReplayServesCachedResponse(t *testing.T) {
	f := newGatewayFixture(t)
	body := []byte(`{"caller":"hst1buyer","amount":"5"}`)
	first := f.signedPost(t, "/sales/1/deposit", "nonce-1", "idem-1", body)
	if first.Code != http.StatusOK {
		t.Fatalf("first call: %d", first.Code)
	}
	second := f.signedPost(t, "/sales/1/deposit", "nonce-2", "idem-1", body)
	if second.Code != http.StatusOK {
		t.Fatalf("replay: %d", second.Code)
	}
	if f.node.calls != 1 {
		t.Fatalf("replay must not reach the node, got %d calls", f.node.calls)
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatalf("replay must serve the cached response")
	}
}

func TestGatewayIdempotencyKeyReuseWithDifferentBody(t *testing.T) {
	f := newGatewayFixture(t)
	first := f.signedPost(t, "/sales/1/deposit", "nonce-1", "idem-1", []byte(`{"caller":"hst1buyer","amount":"5"}`))
	if first.Code != http.StatusOK {
		t.Fatalf("first call: %d", first.Code)
	}
	second := f.signedPost(t, "/sales/1/deposit", "nonce-2", "idem-1", []byte(`{"caller":"hst1buyer","amount":"9"}`))
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409 on payload mismatch, got %d", second.Code)
	}
}

func TestGatewayNodeFailureMapsToBadGateway(t *testing.T) {
	f := newGatewayFixture(t)
	f.node.failWith = fmt.Errorf("node rejected sale_depositEarnest: forbidden (-32023)")
	recorder := f.signedPost(t, "/sales/1/deposit", "nonce-1", "idem-1", []byte(`{"caller":"hst1other","amount":"5"}`))
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", recorder.Code)
	}
}

func TestGatewayListValidation(t *testing.T) {
	f := newGatewayFixture(t)
	recorder := f.signedPost(t, "/sales", "nonce-1", "idem-1", []byte(`{"caller":"hst1seller"}`))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing terms, got %d", recorder.Code)
	}
	if f.node.calls != 0 {
		t.Fatalf("invalid request must not reach the node")
	}
}

func TestGatewaySaleGetIsUnauthenticated(t *testing.T) {
	f := newGatewayFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/sales/7", nil)
	recorder := httptest.NewRecorder()
	f.server.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var state SaleState
	if err := json.Unmarshal(recorder.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.TokenID != 7 {
		t.Fatalf("expected token 7, got %d", state.TokenID)
	}
}

func TestParseSalePath(t *testing.T) {
	cases := []struct {
		path   string
		token  uint64
		action string
		ok     bool
	}{
		{"/sales/1", 1, "", true},
		{"/sales/42/deposit", 42, "deposit", true},
		{"/sales/42/finalize", 42, "finalize", true},
		{"/sales/abc", 0, "", false},
		{"/sales/", 0, "", false},
		{"/other/1", 0, "", false},
		{"/sales/1/deposit/extra", 0, "", false},
	}
	for _, tc := range cases {
		token, action, ok := parseSalePath(tc.path)
		if token != tc.token || action != tc.action || ok != tc.ok {
			t.Fatalf("%s: got (%d, %q, %v), want (%d, %q, %v)", tc.path, token, action, ok, tc.token, tc.action, tc.ok)
		}
	}
}
