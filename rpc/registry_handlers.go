package rpc

import (
	"errors"
	"net/http"
	"strings"

	"homestead/registry"
)

const (
	codeRegistryInvalidParams = -32031
	codeRegistryNotFound      = -32032
	codeRegistryForbidden     = -32033
	codeRegistryInternal      = -32035
)

type registryMintParams struct {
	Owner string `json:"owner"`
	URI   string `json:"uri,omitempty"`
}

type registryApproveParams struct {
	Caller   string `json:"caller"`
	TokenID  uint64 `json:"tokenId"`
	Operator string `json:"operator"`
}

type registryTokenParams struct {
	TokenID uint64 `json:"tokenId"`
}

type deedJSON struct {
	TokenID  uint64 `json:"tokenId"`
	Holder   string `json:"holder"`
	Approved string `json:"approved,omitempty"`
	URI      string `json:"uri,omitempty"`
}

func newDeedJSON(d *registry.Deed) *deedJSON {
	if d == nil {
		return nil
	}
	out := &deedJSON{
		TokenID: d.TokenID,
		Holder:  formatAddress(d.Holder),
		URI:     d.URI,
	}
	if d.Approved != ([20]byte{}) {
		out.Approved = formatAddress(d.Approved)
	}
	return out
}

func (s *Server) handleRegistryMint(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params registryMintParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	owner, err := parseBech32Address(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRegistryInvalidParams, "invalid_params", err.Error())
		return
	}
	tokenID, err := s.node.Registry().Mint(owner, strings.TrimSpace(params.URI))
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	deed, err := s.node.Registry().Deed(tokenID)
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newDeedJSON(deed))
}

func (s *Server) handleRegistryApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params registryApproveParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeRegistryInvalidParams, "invalid_params", err.Error())
		return
	}
	var operator [20]byte
	if strings.TrimSpace(params.Operator) == "" {
		// An omitted operator approves the escrow vault, the common case.
		operator = s.node.VaultAddress()
	} else {
		operator, err = parseBech32Address(params.Operator)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeRegistryInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	if err := s.node.Registry().Approve(caller, params.TokenID, operator); err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	deed, err := s.node.Registry().Deed(params.TokenID)
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newDeedJSON(deed))
}

func (s *Server) handleRegistryHolderOf(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params registryTokenParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	holder, err := s.node.Registry().HolderOf(params.TokenID)
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"holder": formatAddress(holder)})
}

func (s *Server) handleRegistryDeed(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params registryTokenParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	deed, err := s.node.Registry().Deed(params.TokenID)
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newDeedJSON(deed))
}

func writeRegistryError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeRegistryInternal
	message := "internal_error"
	switch {
	case errors.Is(err, registry.ErrUnknownDeed):
		status = http.StatusNotFound
		code = codeRegistryNotFound
		message = "not_found"
	case errors.Is(err, registry.ErrNotOwner), errors.Is(err, registry.ErrNotApproved):
		status = http.StatusForbidden
		code = codeRegistryForbidden
		message = "forbidden"
	case errors.Is(err, registry.ErrZeroAddress):
		status = http.StatusBadRequest
		code = codeRegistryInvalidParams
		message = "invalid_params"
	}
	writeError(w, status, id, code, message, err.Error())
}
