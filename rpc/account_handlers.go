package rpc

import (
	"net/http"
)

type accountCreditParams struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type accountAddressParams struct {
	Address string `json:"address"`
}

type accountBalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func (s *Server) handleAccountCredit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params accountCreditParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.Engine().Credit(addr, amount); err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	balance, err := s.node.Engine().AccountBalance(addr)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, accountBalanceResult{Address: formatAddress(addr), Balance: formatAmount(balance)})
}

func (s *Server) handleAccountBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params accountAddressParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.Engine().AccountBalance(addr)
	if err != nil {
		writeSaleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, accountBalanceResult{Address: formatAddress(addr), Balance: formatAmount(balance)})
}
