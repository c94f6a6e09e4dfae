package escrow

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the caller lacks the role required
	// by the operation.
	ErrUnauthorized = errors.New("escrow: caller not authorized")
	// ErrNotListed is returned when an operation targets a token with no
	// active listing.
	ErrNotListed = errors.New("escrow: no active listing for token")
	// ErrAlreadyListed is returned when listing a token that already has
	// an active listing.
	ErrAlreadyListed = errors.New("escrow: token already listed")
	// ErrInsufficientFunds is returned when a disbursement or refund
	// exceeds the held balance.
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	// ErrDistinctRoles is returned at construction when the seller,
	// inspector and lender identities are not pairwise distinct.
	ErrDistinctRoles = errors.New("escrow: seller, inspector and lender must be distinct")

	errNilState         = errors.New("escrow engine: state not configured")
	errNilRegistry      = errors.New("escrow engine: custody registry not configured")
	errDeedNotInCustody = errors.New("deed not held by escrow vault")
)

// Finalization gate reasons reported through PreconditionError.
const (
	ReasonInspectionPending = "inspection not passed"
	ReasonBuyerApproval     = "buyer approval missing"
	ReasonSellerApproval    = "seller approval missing"
	ReasonLenderApproval    = "lender approval missing"
	ReasonUnderfunded       = "escrow balance below purchase price"
)

// PreconditionError reports which finalization gate rejected the operation.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("escrow: precondition failed: %s", e.Reason)
}

// CustodyError wraps a rejection from the custody registry. The engine
// propagates these without retrying.
type CustodyError struct {
	Op      string
	TokenID uint64
	Err     error
}

func (e *CustodyError) Error() string {
	return fmt.Sprintf("escrow: custody %s for token %d failed: %v", e.Op, e.TokenID, e.Err)
}

func (e *CustodyError) Unwrap() error { return e.Err }
