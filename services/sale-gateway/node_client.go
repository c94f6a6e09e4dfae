package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// SaleState mirrors the listing shape served by the node.
type SaleState struct {
	TokenID          uint64 `json:"tokenId"`
	Round            uint64 `json:"round"`
	Buyer            string `json:"buyer"`
	PurchasePrice    string `json:"purchasePrice"`
	EscrowAmount     string `json:"escrowAmount"`
	InspectionPassed bool   `json:"inspectionPassed"`
	Status           string `json:"status"`
	CreatedAt        int64  `json:"createdAt"`
}

// SaleListRequest carries the terms for opening a sale.
type SaleListRequest struct {
	Caller        string `json:"caller"`
	TokenID       uint64 `json:"tokenId"`
	Buyer         string `json:"buyer"`
	PurchasePrice string `json:"purchasePrice"`
	EscrowAmount  string `json:"escrowAmount"`
}

// NodeClient is a thin JSON-RPC client used by the gateway.
type NodeClient interface {
	SaleList(ctx context.Context, req SaleListRequest) (*SaleState, error)
	SaleDeposit(ctx context.Context, caller string, tokenID uint64, amount string) (*SaleState, error)
	SaleTopUp(ctx context.Context, caller string, tokenID uint64, amount string) (*SaleState, error)
	SaleUpdateInspection(ctx context.Context, caller string, tokenID uint64, passed bool) (*SaleState, error)
	SaleApprove(ctx context.Context, caller string, tokenID uint64) error
	SaleFinalize(ctx context.Context, caller string, tokenID uint64) (*SaleState, error)
	SaleCancel(ctx context.Context, caller string, tokenID uint64) (*SaleState, error)
	SaleGet(ctx context.Context, tokenID uint64) (*SaleState, error)
}

// RPCNodeClient implements NodeClient against the escrow node's JSON-RPC
// server.
type RPCNodeClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

func NewRPCNodeClient(baseURL, authToken string) *RPCNodeClient {
	return &RPCNodeClient{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *RPCNodeClient) SaleList(ctx context.Context, req SaleListRequest) (*SaleState, error) {
	var result SaleState
	if err := c.call(ctx, "sale_list", []interface{}{req}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) SaleDeposit(ctx context.Context, caller string, tokenID uint64, amount string) (*SaleState, error) {
	params := map[string]interface{}{"caller": caller, "tokenId": tokenID, "amount": amount}
	var result SaleState
	if err := c.call(ctx, "sale_depositEarnest", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) SaleTopUp(ctx context.Context, caller string, tokenID uint64, amount string) (*SaleState, error) {
	params := map[string]interface{}{"caller": caller, "tokenId": tokenID, "amount": amount}
	var result SaleState
	if err := c.call(ctx, "sale_topUp", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) SaleUpdateInspection(ctx context.Context, caller string, tokenID uint64, passed bool) (*SaleState, error) {
	params := map[string]interface{}{"caller": caller, "tokenId": tokenID, "passed": passed}
	var result SaleState
	if err := c.call(ctx, "sale_updateInspection", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) SaleApprove(ctx context.Context, caller string, tokenID uint64) error {
	params := map[string]interface{}{"caller": caller, "tokenId": tokenID}
	return c.call(ctx, "sale_approve", []interface{}{params}, nil)
}

func (c *RPCNodeClient) SaleFinalize(ctx context.Context, caller string, tokenID uint64) (*SaleState, error) {
	params := map[string]interface{}{"caller": caller, "tokenId": tokenID}
	var result SaleState
	if err := c.call(ctx, "sale_finalize", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) SaleCancel(ctx context.Context, caller string, tokenID uint64) (*SaleState, error) {
	params := map[string]interface{}{"caller": caller, "tokenId": tokenID}
	var result SaleState
	if err := c.call(ctx, "sale_cancel", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) SaleGet(ctx context.Context, tokenID uint64) (*SaleState, error) {
	params := map[string]interface{}{"tokenId": tokenID}
	var result SaleState
	if err := c.call(ctx, "sale_get", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCNodeClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	reqBody := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("decode node response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("node rejected %s: %s (%d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}
