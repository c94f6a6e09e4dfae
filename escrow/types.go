package escrow

import (
	"fmt"
	"math/big"
)

// SaleStatus represents the lifecycle states of a property listing held in
// escrow.
type SaleStatus uint8

const (
	// SaleListed means the deed sits in custody and the sale is open.
	SaleListed SaleStatus = iota + 1
	// SaleFinalized is the terminal success state: deed with the buyer,
	// funds with the seller.
	SaleFinalized
	// SaleCancelled is the terminal abort state: deed back with the
	// seller, funds returned per the cancellation policy.
	SaleCancelled
)

// Listing captures the sale terms and runtime status for a single deed
// token held in escrow. The same token may be listed again after a terminal
// transition; Round increments on each re-listing so that consent recorded
// for an earlier sale never carries over.
type Listing struct {
	TokenID          uint64
	Round            uint64
	Buyer            [20]byte
	PurchasePrice    *big.Int
	EscrowAmount     *big.Int
	InspectionPassed bool
	Status           SaleStatus
	CreatedAt        int64
}

// Active reports whether the listing is open for deposits, inspection,
// approvals and settlement.
func (l *Listing) Active() bool {
	return l != nil && l.Status == SaleListed
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.PurchasePrice != nil {
		clone.PurchasePrice = new(big.Int).Set(l.PurchasePrice)
	} else {
		clone.PurchasePrice = big.NewInt(0)
	}
	if l.EscrowAmount != nil {
		clone.EscrowAmount = new(big.Int).Set(l.EscrowAmount)
	} else {
		clone.EscrowAmount = big.NewInt(0)
	}
	return &clone
}

// Valid reports whether the status value is within the supported range.
func (s SaleStatus) Valid() bool {
	switch s {
	case SaleListed, SaleFinalized, SaleCancelled:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase name for the status.
func (s SaleStatus) String() string {
	switch s {
	case SaleListed:
		return "listed"
	case SaleFinalized:
		return "finalized"
	case SaleCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SanitizeListing validates and normalises the supplied listing, returning
// a cloned instance with non-nil amount fields. The function does not
// mutate the original value.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listing")
	}
	clone := l.Clone()
	if clone.Round == 0 {
		return nil, fmt.Errorf("listing round must be positive")
	}
	if clone.PurchasePrice.Sign() <= 0 {
		return nil, fmt.Errorf("purchase price must be positive")
	}
	if clone.EscrowAmount.Sign() < 0 {
		return nil, fmt.Errorf("escrow amount must be non-negative")
	}
	if clone.EscrowAmount.Cmp(clone.PurchasePrice) > 0 {
		return nil, fmt.Errorf("escrow amount exceeds purchase price")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid listing status: %d", clone.Status)
	}
	return clone, nil
}
