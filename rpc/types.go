package rpc

import (
	"fmt"
	"math/big"
	"strings"

	"homestead/core/types"
	"homestead/crypto"
	"homestead/escrow"
)

type listingJSON struct {
	TokenID          uint64 `json:"tokenId"`
	Round            uint64 `json:"round"`
	Buyer            string `json:"buyer"`
	PurchasePrice    string `json:"purchasePrice"`
	EscrowAmount     string `json:"escrowAmount"`
	InspectionPassed bool   `json:"inspectionPassed"`
	Status           string `json:"status"`
	CreatedAt        int64  `json:"createdAt"`
}

func newListingJSON(l *escrow.Listing) *listingJSON {
	if l == nil {
		return nil
	}
	return &listingJSON{
		TokenID:          l.TokenID,
		Round:            l.Round,
		Buyer:            formatAddress(l.Buyer),
		PurchasePrice:    formatAmount(l.PurchasePrice),
		EscrowAmount:     formatAmount(l.EscrowAmount),
		InspectionPassed: l.InspectionPassed,
		Status:           l.Status.String(),
		CreatedAt:        l.CreatedAt,
	}
}

type eventJSON struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func newEventJSON(evt types.Event) eventJSON {
	attrs := make(map[string]string, len(evt.Attributes))
	for k, v := range evt.Attributes {
		attrs[k] = v
	}
	return eventJSON{Type: evt.Type, Attributes: attrs}
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.HomesteadPrefix, addr[:]).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	if decoded.Prefix() != crypto.HomesteadPrefix {
		return [20]byte{}, fmt.Errorf("address must carry the %s prefix", crypto.HomesteadPrefix)
	}
	return decoded.Array(), nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseNonNegativeBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
