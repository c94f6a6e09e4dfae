package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"homestead/gateway/auth"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxRequestBody       = 1 << 20 // 1 MiB
	nodeCallTimeout      = 15 * time.Second
)

// Server is the HTTP front-end for sale interactions. Every mutating route
// requires an HMAC-signed request plus an idempotency key; the node call
// result is cached against the key and replayed on retries.
type Server struct {
	authenticator *auth.Authenticator
	node          NodeClient
	store         *SQLiteStore
	nowFn         func() time.Time
}

func NewServer(authenticator *auth.Authenticator, node NodeClient, store *SQLiteStore) *Server {
	if authenticator == nil {
		panic("authenticator required")
	}
	if node == nil {
		panic("node client required")
	}
	if store == nil {
		panic("sqlite store required")
	}
	return &Server{
		authenticator: authenticator,
		node:          node,
		store:         store,
		nowFn:         time.Now,
	}
}

type saleAmountRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type saleCallerRequest struct {
	Caller string `json:"caller"`
}

type saleInspectionRequest struct {
	Caller string `json:"caller"`
	Passed bool   `json:"passed"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && r.URL.Path == "/sales" {
		s.mutating(w, r, func(ctx context.Context, body []byte) (interface{}, error) {
			var req SaleListRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, badRequest(fmt.Errorf("invalid JSON payload: %w", err))
			}
			if err := validateSaleList(req); err != nil {
				return nil, badRequest(err)
			}
			return s.node.SaleList(ctx, req)
		})
		return
	}
	tokenID, action, ok := parseSalePath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch {
	case r.Method == http.MethodGet && action == "":
		s.handleSaleGet(w, r, tokenID)
	case r.Method == http.MethodPost && action == "deposit":
		s.mutating(w, r, func(ctx context.Context, body []byte) (interface{}, error) {
			var req saleAmountRequest
			if err := decodeCallerBody(body, &req); err != nil {
				return nil, err
			}
			if strings.TrimSpace(req.Amount) == "" {
				return nil, badRequest(errors.New("amount is required"))
			}
			return s.node.SaleDeposit(ctx, req.Caller, tokenID, req.Amount)
		})
	case r.Method == http.MethodPost && action == "topup":
		s.mutating(w, r, func(ctx context.Context, body []byte) (interface{}, error) {
			var req saleAmountRequest
			if err := decodeCallerBody(body, &req); err != nil {
				return nil, err
			}
			if strings.TrimSpace(req.Amount) == "" {
				return nil, badRequest(errors.New("amount is required"))
			}
			return s.node.SaleTopUp(ctx, req.Caller, tokenID, req.Amount)
		})
	case r.Method == http.MethodPost && action == "inspection":
		s.mutating(w, r, func(ctx context.Context, body []byte) (interface{}, error) {
			var req saleInspectionRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, badRequest(fmt.Errorf("invalid JSON payload: %w", err))
			}
			if strings.TrimSpace(req.Caller) == "" {
				return nil, badRequest(errors.New("caller is required"))
			}
			return s.node.SaleUpdateInspection(ctx, req.Caller, tokenID, req.Passed)
		})
	case r.Method == http.MethodPost && action == "approve":
		s.mutating(w, r, func(ctx context.Context, body []byte) (interface{}, error) {
			var req saleCallerRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, badRequest(fmt.Errorf("invalid JSON payload: %w", err))
			}
			if strings.TrimSpace(req.Caller) == "" {
				return nil, badRequest(errors.New("caller is required"))
			}
			if err := s.node.SaleApprove(ctx, req.Caller, tokenID); err != nil {
				return nil, err
			}
			return map[string]bool{"approved": true}, nil
		})
	case r.Method == http.MethodPost && action == "finalize":
		s.mutating(w, r, func(ctx context.Context, body []byte) (interface{}, error) {
			var req saleCallerRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, badRequest(fmt.Errorf("invalid JSON payload: %w", err))
			}
			if strings.TrimSpace(req.Caller) == "" {
				return nil, badRequest(errors.New("caller is required"))
			}
			return s.node.SaleFinalize(ctx, req.Caller, tokenID)
		})
	case r.Method == http.MethodPost && action == "cancel":
		s.mutating(w, r, func(ctx context.Context, body []byte) (interface{}, error) {
			var req saleCallerRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, badRequest(fmt.Errorf("invalid JSON payload: %w", err))
			}
			if strings.TrimSpace(req.Caller) == "" {
				return nil, badRequest(errors.New("caller is required"))
			}
			return s.node.SaleCancel(ctx, req.Caller, tokenID)
		})
	default:
		http.NotFound(w, r)
	}
}

// mutating runs the shared pipeline for state-changing routes: signature
// authentication, idempotency lookup, the node call, response caching and
// the audit trail.
func (s *Server) mutating(w http.ResponseWriter, r *http.Request, fn func(context.Context, []byte) (interface{}, error)) {
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	principal, err := s.authenticator.Authenticate(r, body)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err)
		s.audit(r.Context(), nil, r, body, http.StatusUnauthorized, errorBody(err))
		return
	}
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing Idempotency-Key header"))
		s.audit(r.Context(), principal, r, body, http.StatusBadRequest, []byte(`{"error":"missing idempotency key"}`))
		return
	}
	requestHash := hashRequest(r.Method, auth.CanonicalRequestPath(r), body)
	cached, cacheErr := s.store.LookupIdempotency(r.Context(), principal.APIKey, key, requestHash)
	if cacheErr != nil {
		status := http.StatusInternalServerError
		if errors.Is(cacheErr, ErrIdempotencyMismatch) {
			status = http.StatusConflict
		}
		s.writeError(w, status, cacheErr)
		s.audit(r.Context(), principal, r, body, status, errorBody(cacheErr))
		return
	}
	if cached != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cached.Status)
		_, _ = w.Write(cached.Body)
		s.audit(r.Context(), principal, r, body, cached.Status, cached.Body)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), nodeCallTimeout)
	defer cancel()
	result, err := fn(ctx, body)
	if err != nil {
		status := http.StatusBadGateway
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			status = reqErr.status
		}
		s.writeError(w, status, err)
		s.audit(r.Context(), principal, r, body, status, errorBody(err))
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		s.audit(r.Context(), principal, r, body, http.StatusInternalServerError, errorBody(err))
		return
	}
	if err := s.store.SaveIdempotency(r.Context(), principal.APIKey, key, requestHash, http.StatusOK, payload); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		s.audit(r.Context(), principal, r, body, http.StatusInternalServerError, errorBody(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
	s.audit(r.Context(), principal, r, body, http.StatusOK, payload)
}

func (s *Server) handleSaleGet(w http.ResponseWriter, r *http.Request, tokenID uint64) {
	ctx, cancel := context.WithTimeout(r.Context(), nodeCallTimeout)
	defer cancel()
	sale, err := s.node.SaleGet(ctx, tokenID)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	payload, err := json.Marshal(sale)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (s *Server) readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxRequestBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	return data, nil
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(errorBody(err))
}

func (s *Server) audit(ctx context.Context, principal *auth.Principal, r *http.Request, requestBody []byte, status int, responseBody []byte) {
	apiKey := ""
	if principal != nil {
		apiKey = principal.APIKey
	}
	entry := AuditEntry{
		APIKey:         apiKey,
		Method:         r.Method,
		Path:           auth.CanonicalRequestPath(r),
		RequestBody:    append([]byte(nil), requestBody...),
		ResponseBody:   append([]byte(nil), responseBody...),
		ResponseStatus: status,
		Timestamp:      s.nowFn().UTC(),
	}
	_ = s.store.InsertAuditLog(ctx, entry)
}

type requestError struct {
	status int
	err    error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &requestError{status: http.StatusBadRequest, err: err}
}

func decodeCallerBody(body []byte, out *saleAmountRequest) error {
	if err := json.Unmarshal(body, out); err != nil {
		return badRequest(fmt.Errorf("invalid JSON payload: %w", err))
	}
	if strings.TrimSpace(out.Caller) == "" {
		return badRequest(errors.New("caller is required"))
	}
	return nil
}

func validateSaleList(req SaleListRequest) error {
	if strings.TrimSpace(req.Caller) == "" {
		return errors.New("caller is required")
	}
	if strings.TrimSpace(req.Buyer) == "" {
		return errors.New("buyer is required")
	}
	if strings.TrimSpace(req.PurchasePrice) == "" {
		return errors.New("purchasePrice is required")
	}
	if strings.TrimSpace(req.EscrowAmount) == "" {
		return errors.New("escrowAmount is required")
	}
	return nil
}

// parseSalePath splits /sales/{tokenId}[/{action}] into its parts.
func parseSalePath(path string) (uint64, string, bool) {
	trimmed := strings.TrimPrefix(path, "/sales/")
	if trimmed == path || trimmed == "" {
		return 0, "", false
	}
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) == 0 || len(parts) > 2 {
		return 0, "", false
	}
	tokenID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	return tokenID, action, true
}

func errorBody(err error) []byte {
	msg := strings.ReplaceAll(err.Error(), "\"", "'")
	return []byte(fmt.Sprintf(`{"error":"%s"}`, msg))
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{strings.ToUpper(method), path, string(body)}, "\n")))
	return fmt.Sprintf("%x", sum[:])
}
