package escrow

import (
	"math/big"
	"sync"
	"time"

	"homestead/core/events"
	"homestead/core/types"
)

// CustodyRegistry is the external collaborator tracking who currently holds
// a deed token. The engine only requests transfers; it never asserts
// custody directly.
type CustodyRegistry interface {
	TransferCustody(tokenID uint64, from, to [20]byte) error
	HolderOf(tokenID uint64) ([20]byte, error)
}

type engineState interface {
	ListingPut(*Listing) error
	ListingGet(tokenID uint64) (*Listing, bool)
	ApprovalSet(tokenID, round uint64, addr [20]byte) error
	ApprovalGet(tokenID, round uint64, addr [20]byte) (bool, error)
	EscrowCredit(tokenID uint64, amt *big.Int) error
	EscrowDebit(tokenID uint64, amt *big.Int) error
	EscrowBalance(tokenID uint64) (*big.Int, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	VaultAddress() [20]byte
}

type saleEvent struct {
	evt *types.Event
}

func (e saleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e saleEvent) Event() *types.Event { return e.evt }

// Engine is the escrow state machine. It owns every listing and approval
// record, enforces role gates and the transition graph, and calls out to
// the custody registry at the list/finalize/cancel boundary.
//
// A single mutex serializes all state-changing operations; the ledger holds
// one record per deed and critical sections are short, so per-token locking
// buys nothing here.
type Engine struct {
	mu        sync.Mutex
	state     engineState
	registry  CustodyRegistry
	emitter   events.Emitter
	seller    [20]byte
	inspector [20]byte
	lender    [20]byte
	nowFn     func() int64
}

// NewEngine creates an escrow engine bound to the supplied custody registry
// and role identities. The three roles must be non-zero and pairwise
// distinct.
func NewEngine(registry CustodyRegistry, seller, inspector, lender [20]byte) (*Engine, error) {
	if registry == nil {
		return nil, errNilRegistry
	}
	zero := [20]byte{}
	if seller == zero || inspector == zero || lender == zero {
		return nil, ErrDistinctRoles
	}
	if seller == inspector || seller == lender || inspector == lender {
		return nil, ErrDistinctRoles
	}
	return &Engine{
		registry:  registry,
		emitter:   events.NoopEmitter{},
		seller:    seller,
		inspector: inspector,
		lender:    lender,
		nowFn:     func() int64 { return time.Now().Unix() },
	}, nil
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Seller returns the fixed seller identity.
func (e *Engine) Seller() [20]byte { return e.seller }

// Inspector returns the fixed inspector identity.
func (e *Engine) Inspector() [20]byte { return e.inspector }

// Lender returns the fixed lender identity.
func (e *Engine) Lender() [20]byte { return e.lender }

// CustodyRef returns the custody registry the engine settles against.
func (e *Engine) CustodyRef() CustodyRegistry { return e.registry }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(saleEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) activeListing(tokenID uint64) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listing, ok := e.state.ListingGet(tokenID)
	if !ok || !listing.Active() {
		return nil, ErrNotListed
	}
	return listing, nil
}

// transferValue moves settlement currency between two participant accounts.
func (e *Engine) transferValue(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return ErrInsufficientFunds
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = fromAcc.EnsureDefaults()
	toAcc = toAcc.EnsureDefaults()
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// List places a deed token into escrow custody and opens a sale to the
// given buyer. Only the seller may list. The custody transfer completes
// before the listing record is written, so a rejected transfer leaves no
// dangling listing.
func (e *Engine) List(caller [20]byte, tokenID uint64, buyer [20]byte, purchasePrice, escrowAmount *big.Int) (*Listing, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	if caller != e.seller {
		return nil, ErrUnauthorized
	}
	round := uint64(1)
	if existing, ok := e.state.ListingGet(tokenID); ok {
		if existing.Active() {
			return nil, ErrAlreadyListed
		}
		round = existing.Round + 1
	}
	listing := &Listing{
		TokenID:       tokenID,
		Round:         round,
		Buyer:         buyer,
		PurchasePrice: cloneBigInt(purchasePrice),
		EscrowAmount:  cloneBigInt(escrowAmount),
		Status:        SaleListed,
		CreatedAt:     e.now(),
	}
	if buyer == ([20]byte{}) {
		return nil, &PreconditionError{Reason: "buyer identity required"}
	}
	sanitized, err := SanitizeListing(listing)
	if err != nil {
		return nil, &PreconditionError{Reason: err.Error()}
	}
	if err := e.registry.TransferCustody(tokenID, e.seller, e.state.VaultAddress()); err != nil {
		return nil, &CustodyError{Op: "list", TokenID: tokenID, Err: err}
	}
	if err := e.state.ListingPut(sanitized); err != nil {
		return nil, err
	}
	e.emit(NewListedEvent(sanitized))
	return sanitized.Clone(), nil
}

// DepositEarnest credits the buyer's earnest money toward the listing.
// Deposits are additive and unbounded; under- or over-deposit is accepted
// here because the finalize-time balance gate is the real check.
func (e *Engine) DepositEarnest(caller [20]byte, tokenID uint64, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	listing, err := e.activeListing(tokenID)
	if err != nil {
		return err
	}
	if caller != listing.Buyer {
		return ErrUnauthorized
	}
	return e.creditListing(listing, caller, amount, NewDepositedEvent)
}

// TopUp credits the listing balance from any identity. This is the lender
// financing leg: the loan principal arrives here rather than through the
// buyer's earnest deposit.
func (e *Engine) TopUp(caller [20]byte, tokenID uint64, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	listing, err := e.activeListing(tokenID)
	if err != nil {
		return err
	}
	return e.creditListing(listing, caller, amount, NewToppedUpEvent)
}

func (e *Engine) creditListing(listing *Listing, from [20]byte, amount *big.Int, eventFn func(*Listing, [20]byte, string) *types.Event) error {
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return &PreconditionError{Reason: "amount must be positive"}
	}
	if err := e.transferValue(from, e.state.VaultAddress(), amt); err != nil {
		return err
	}
	if err := e.state.EscrowCredit(listing.TokenID, amt); err != nil {
		return err
	}
	e.emit(eventFn(listing, from, amt.String()))
	return nil
}

// UpdateInspectionStatus records the inspector's verdict. The verdict may
// be toggled; the last write wins.
func (e *Engine) UpdateInspectionStatus(caller [20]byte, tokenID uint64, passed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.inspector {
		return ErrUnauthorized
	}
	listing, err := e.activeListing(tokenID)
	if err != nil {
		return err
	}
	listing.InspectionPassed = passed
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(NewInspectionUpdatedEvent(listing))
	return nil
}

// ApproveSale records the caller's consent for the current sale round. Any
// identity may approve; only the buyer, seller and lender approvals are
// consulted at finalize time. Re-approving is a no-op.
func (e *Engine) ApproveSale(caller [20]byte, tokenID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	listing, err := e.activeListing(tokenID)
	if err != nil {
		return err
	}
	already, err := e.state.ApprovalGet(tokenID, listing.Round, caller)
	if err != nil {
		return err
	}
	if already {
		return nil
	}
	if err := e.state.ApprovalSet(tokenID, listing.Round, caller); err != nil {
		return err
	}
	e.emit(NewApprovedEvent(listing, caller))
	return nil
}

// FinalizeSale settles the listing: the purchase price moves to the seller,
// any overpayment is returned to the buyer, and deed custody transfers to
// the buyer. Only the seller may finalize, and every gate must pass first;
// a rejected finalize performs zero writes.
func (e *Engine) FinalizeSale(caller [20]byte, tokenID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.seller {
		return ErrUnauthorized
	}
	listing, err := e.activeListing(tokenID)
	if err != nil {
		return err
	}
	if !listing.InspectionPassed {
		return &PreconditionError{Reason: ReasonInspectionPending}
	}
	for _, gate := range []struct {
		addr   [20]byte
		reason string
	}{
		{listing.Buyer, ReasonBuyerApproval},
		{e.seller, ReasonSellerApproval},
		{e.lender, ReasonLenderApproval},
	} {
		approved, err := e.state.ApprovalGet(tokenID, listing.Round, gate.addr)
		if err != nil {
			return err
		}
		if !approved {
			return &PreconditionError{Reason: gate.reason}
		}
	}
	balance, err := e.state.EscrowBalance(tokenID)
	if err != nil {
		return err
	}
	if balance.Cmp(listing.PurchasePrice) < 0 {
		return &PreconditionError{Reason: ReasonUnderfunded}
	}
	vault := e.state.VaultAddress()
	holder, err := e.registry.HolderOf(tokenID)
	if err != nil {
		return &CustodyError{Op: "finalize", TokenID: tokenID, Err: err}
	}
	if holder != vault {
		return &CustodyError{Op: "finalize", TokenID: tokenID, Err: errDeedNotInCustody}
	}
	// Custody is the only step that can be rejected externally, so it
	// commits first; the value transfers below cannot fail once the
	// balance gate has passed.
	if err := e.registry.TransferCustody(tokenID, vault, listing.Buyer); err != nil {
		return &CustodyError{Op: "finalize", TokenID: tokenID, Err: err}
	}
	price := cloneBigInt(listing.PurchasePrice)
	remainder := new(big.Int).Sub(balance, price)
	if err := e.transferValue(vault, e.seller, price); err != nil {
		return err
	}
	if remainder.Sign() > 0 {
		if err := e.transferValue(vault, listing.Buyer, remainder); err != nil {
			return err
		}
	}
	if err := e.state.EscrowDebit(tokenID, balance); err != nil {
		return err
	}
	listing.Status = SaleFinalized
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(NewFinalizedEvent(listing, price.String(), remainder.String()))
	return nil
}

// CancelSale aborts the listing. The seller or the buyer may cancel. Funds
// return to the buyer while the inspection has not passed; once it has,
// the held balance is forfeited to the seller. Deed custody always returns
// to the seller.
func (e *Engine) CancelSale(caller [20]byte, tokenID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	listing, err := e.activeListing(tokenID)
	if err != nil {
		return err
	}
	if caller != e.seller && caller != listing.Buyer {
		return ErrUnauthorized
	}
	recipient := listing.Buyer
	if listing.InspectionPassed {
		recipient = e.seller
	}
	vault := e.state.VaultAddress()
	balance, err := e.state.EscrowBalance(tokenID)
	if err != nil {
		return err
	}
	holder, err := e.registry.HolderOf(tokenID)
	if err != nil {
		return &CustodyError{Op: "cancel", TokenID: tokenID, Err: err}
	}
	if holder != vault {
		return &CustodyError{Op: "cancel", TokenID: tokenID, Err: errDeedNotInCustody}
	}
	// Deed return commits before the funds move so that a registry
	// rejection leaves every ledger untouched.
	if err := e.registry.TransferCustody(tokenID, vault, e.seller); err != nil {
		return &CustodyError{Op: "cancel", TokenID: tokenID, Err: err}
	}
	if balance.Sign() > 0 {
		if err := e.transferValue(vault, recipient, balance); err != nil {
			return err
		}
		if err := e.state.EscrowDebit(tokenID, balance); err != nil {
			return err
		}
	}
	listing.Status = SaleCancelled
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(listing, recipient, balance.String()))
	return nil
}

// Credit records value arriving from the external payment rail into a
// participant account. This is the ingress half of the value-transfer
// primitive; the engine never invents balances elsewhere.
func (e *Engine) Credit(addr [20]byte, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return &PreconditionError{Reason: "amount must be positive"}
	}
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = acc.EnsureDefaults()
	acc.Balance = new(big.Int).Add(acc.Balance, amt)
	return e.state.PutAccount(addr[:], acc)
}

// AccountBalance returns the spendable balance for a participant account.
func (e *Engine) AccountBalance(addr [20]byte) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return cloneBigInt(acc.EnsureDefaults().Balance), nil
}

// --- Query surface ---

// Listing returns a snapshot of the most recent listing record for the
// token, whether active or terminal.
func (e *Engine) Listing(tokenID uint64) (*Listing, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, false
	}
	listing, ok := e.state.ListingGet(tokenID)
	if !ok {
		return nil, false
	}
	return listing.Clone(), true
}

// IsListed reports whether the token has an active listing.
func (e *Engine) IsListed(tokenID uint64) bool {
	listing, ok := e.Listing(tokenID)
	return ok && listing.Active()
}

// Approval reports whether the identity has consented to the token's
// current sale round.
func (e *Engine) Approval(tokenID uint64, addr [20]byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return false, errNilState
	}
	listing, ok := e.state.ListingGet(tokenID)
	if !ok {
		return false, nil
	}
	return e.state.ApprovalGet(tokenID, listing.Round, addr)
}

// EscrowBalance returns the cumulative value credited toward the listing.
func (e *Engine) EscrowBalance(tokenID uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	return e.state.EscrowBalance(tokenID)
}

// VaultBalance returns the total value currently held in escrow custody
// across all listings.
func (e *Engine) VaultBalance() (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	vault := e.state.VaultAddress()
	acc, err := e.state.GetAccount(vault[:])
	if err != nil {
		return nil, err
	}
	return cloneBigInt(acc.EnsureDefaults().Balance), nil
}
