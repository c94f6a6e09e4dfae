package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"homestead/escrow"
)

const (
	codeSaleInvalidParams = -32021
	codeSaleNotFound      = -32022
	codeSaleForbidden     = -32023
	codeSaleConflict      = -32024
	codeSaleInternal      = -32025
	codeSalePrecondition  = -32026
)

type saleListParams struct {
	Caller        string `json:"caller"`
	TokenID       uint64 `json:"tokenId"`
	Buyer         string `json:"buyer"`
	PurchasePrice string `json:"purchasePrice"`
	EscrowAmount  string `json:"escrowAmount"`
}

type saleAmountParams struct {
	Caller  string `json:"caller"`
	TokenID uint64 `json:"tokenId"`
	Amount  string `json:"amount"`
}

type saleActorParams struct {
	Caller  string `json:"caller"`
	TokenID uint64 `json:"tokenId"`
}

type saleInspectionParams struct {
	Caller  string `json:"caller"`
	TokenID uint64 `json:"tokenId"`
	Passed  bool   `json:"passed"`
}

type saleTokenParams struct {
	TokenID uint64 `json:"tokenId"`
}

type saleApprovalParams struct {
	TokenID     uint64 `json:"tokenId"`
	Participant string `json:"participant"`
}

func (s *Server) handleSaleList(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params saleListParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return
	}
	price, err := parsePositiveBigInt(params.PurchasePrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return
	}
	earnest, err := parseNonNegativeBigInt(params.EscrowAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, err := s.node.Engine().List(caller, params.TokenID, buyer, price, earnest)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newListingJSON(listing))
}

func (s *Server) handleSaleDepositEarnest(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params saleAmountParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Engine().DepositEarnest(caller, params.TokenID, amount); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	s.writeSaleSnapshot(w, req.ID, params.TokenID)
}

func (s *Server) handleSaleTopUp(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params saleAmountParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Engine().TopUp(caller, params.TokenID, amount); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	s.writeSaleSnapshot(w, req.ID, params.TokenID)
}

func (s *Server) handleSaleUpdateInspection(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params saleInspectionParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Engine().UpdateInspectionStatus(caller, params.TokenID, params.Passed); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	s.writeSaleSnapshot(w, req.ID, params.TokenID)
}

func (s *Server) handleSaleApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params saleActorParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Engine().ApproveSale(caller, params.TokenID); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"approved": true})
}

func (s *Server) handleSaleFinalize(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params saleActorParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Engine().FinalizeSale(caller, params.TokenID); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	s.writeSaleSnapshot(w, req.ID, params.TokenID)
}

func (s *Server) handleSaleCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params saleActorParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Engine().CancelSale(caller, params.TokenID); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	s.writeSaleSnapshot(w, req.ID, params.TokenID)
}

func (s *Server) handleSaleGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params saleTokenParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	listing, ok := s.node.Engine().Listing(params.TokenID)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeSaleNotFound, "not_found", "no listing for token")
		return
	}
	writeResult(w, req.ID, newListingJSON(listing))
}

func (s *Server) handleSaleApproval(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params saleApprovalParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	participant, err := parseBech32Address(params.Participant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return
	}
	approved, err := s.node.Engine().Approval(params.TokenID, participant)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"approved": approved})
}

func (s *Server) handleSaleBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params saleTokenParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	balance, err := s.node.Engine().EscrowBalance(params.TokenID)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": formatAmount(balance)})
}

func (s *Server) handleSaleRoles(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	engine := s.node.Engine()
	writeResult(w, req.ID, map[string]string{
		"seller":    formatAddress(engine.Seller()),
		"inspector": formatAddress(engine.Inspector()),
		"lender":    formatAddress(engine.Lender()),
		"vault":     formatAddress(s.node.VaultAddress()),
	})
}

func (s *Server) handleSaleVaultBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	balance, err := s.node.Engine().VaultBalance()
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"vault":   formatAddress(s.node.VaultAddress()),
		"balance": formatAmount(balance),
	})
}

func (s *Server) handleSaleEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	events := s.node.Events()
	out := make([]eventJSON, 0, len(events))
	for _, evt := range events {
		out = append(out, newEventJSON(evt))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) writeSaleSnapshot(w http.ResponseWriter, id interface{}, tokenID uint64) {
	listing, ok := s.node.Engine().Listing(tokenID)
	if !ok {
		writeResult(w, id, map[string]bool{"ok": true})
		return
	}
	writeResult(w, id, newListingJSON(listing))
}

func decodeSingleParam(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func writeSaleError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeSaleInternal
	message := "internal_error"
	data := err.Error()
	var precondition *escrow.PreconditionError
	var custody *escrow.CustodyError
	switch {
	case errors.Is(err, escrow.ErrNotListed):
		status = http.StatusNotFound
		code = codeSaleNotFound
		message = "not_found"
	case errors.Is(err, escrow.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeSaleForbidden
		message = "forbidden"
	case errors.Is(err, escrow.ErrAlreadyListed), errors.Is(err, escrow.ErrInsufficientFunds):
		status = http.StatusConflict
		code = codeSaleConflict
		message = "conflict"
	case errors.As(err, &precondition):
		status = http.StatusConflict
		code = codeSalePrecondition
		message = "precondition_failed"
	case errors.As(err, &custody):
		status = http.StatusConflict
		code = codeSaleConflict
		message = "custody_rejected"
	}
	writeError(w, status, id, code, message, data)
}
