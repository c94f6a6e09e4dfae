package registry

import (
	"encoding/binary"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrUnknownDeed is returned when no deed exists for the token.
	ErrUnknownDeed = errors.New("registry: unknown deed token")
	// ErrNotOwner is returned when a transfer names a from address that
	// does not hold the deed.
	ErrNotOwner = errors.New("registry: from address does not hold deed")
	// ErrNotApproved is returned when the escrow vault was never approved
	// to move the deed on the holder's behalf.
	ErrNotApproved = errors.New("registry: transfer not approved by holder")
	// ErrZeroAddress is returned for operations naming the zero identity.
	ErrZeroAddress = errors.New("registry: zero address")

	errNilState = errors.New("registry: state not configured")
)

// Deed is the on-ledger record for one tokenized property deed.
type Deed struct {
	TokenID  uint64
	Holder   [20]byte
	Approved [20]byte
	URI      string
}

// Clone returns a copy of the deed record.
func (d *Deed) Clone() *Deed {
	if d == nil {
		return nil
	}
	clone := *d
	return &clone
}

type registryState interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
}

var (
	deedTokenPrefix = []byte("deed/token/")
	deedNextIDKey   = []byte("deed/next-id")
)

func deedKey(tokenID uint64) []byte {
	buf := make([]byte, len(deedTokenPrefix)+8)
	copy(buf, deedTokenPrefix)
	binary.BigEndian.PutUint64(buf[len(deedTokenPrefix):], tokenID)
	return buf
}

// Registry tracks custody of deed tokens. It implements the engine's
// CustodyRegistry interface. Every transfer is carried out on behalf of
// the configured escrow operator: moving a deed out of a holder's hands
// requires the holder's prior approval of the destination, while the
// operator reassigns custody it already holds without one.
type Registry struct {
	mu       sync.Mutex
	state    registryState
	operator [20]byte
}

// NewRegistry creates a deed registry over the provided state backend.
func NewRegistry(state registryState) *Registry {
	return &Registry{state: state}
}

// SetOperator configures the escrow vault identity allowed to reassign
// custody of deeds it holds.
func (r *Registry) SetOperator(operator [20]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operator = operator
}

func (r *Registry) loadDeed(tokenID uint64) (*Deed, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	deed := new(Deed)
	ok, err := r.state.KVGet(deedKey(tokenID), deed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownDeed
	}
	return deed, nil
}

func (r *Registry) storeDeed(deed *Deed) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	return r.state.KVPut(deedKey(deed.TokenID), deed)
}

// Mint registers a new deed token held by owner and returns its token ID.
// IDs are sequential starting at 1.
func (r *Registry) Mint(owner [20]byte, uri string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return 0, errNilState
	}
	if owner == ([20]byte{}) {
		return 0, ErrZeroAddress
	}
	var next uint64
	if _, err := r.state.KVGet(deedNextIDKey, &next); err != nil {
		return 0, err
	}
	tokenID := next + 1
	deed := &Deed{
		TokenID: tokenID,
		Holder:  owner,
		URI:     strings.TrimSpace(uri),
	}
	if err := r.storeDeed(deed); err != nil {
		return 0, err
	}
	if err := r.state.KVPut(deedNextIDKey, tokenID); err != nil {
		return 0, err
	}
	return tokenID, nil
}

// Approve authorises the operator to take custody of the deed. Only the
// current holder may approve, and a transfer clears the approval.
func (r *Registry) Approve(caller [20]byte, tokenID uint64, operator [20]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	deed, err := r.loadDeed(tokenID)
	if err != nil {
		return err
	}
	if deed.Holder != caller {
		return ErrNotOwner
	}
	deed.Approved = operator
	return r.storeDeed(deed)
}

// TransferCustody moves the deed from one identity to another.
func (r *Registry) TransferCustody(tokenID uint64, from, to [20]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	deed, err := r.loadDeed(tokenID)
	if err != nil {
		return err
	}
	if to == ([20]byte{}) {
		return ErrZeroAddress
	}
	if deed.Holder != from {
		return ErrNotOwner
	}
	if from != r.operator && deed.Approved != to {
		return ErrNotApproved
	}
	deed.Holder = to
	deed.Approved = [20]byte{}
	return r.storeDeed(deed)
}

// HolderOf returns the identity currently holding the deed.
func (r *Registry) HolderOf(tokenID uint64) ([20]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deed, err := r.loadDeed(tokenID)
	if err != nil {
		return [20]byte{}, err
	}
	return deed.Holder, nil
}

// Deed returns a snapshot of the deed record.
func (r *Registry) Deed(tokenID uint64) (*Deed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deed, err := r.loadDeed(tokenID)
	if err != nil {
		return nil, err
	}
	return deed.Clone(), nil
}

