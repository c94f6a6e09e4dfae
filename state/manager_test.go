package state

import (
	"math/big"
	"strings"
	"testing"

	"homestead/core/types"
	"homestead/escrow"
	"homestead/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func sampleListing(tokenID uint64) *escrow.Listing {
	return &escrow.Listing{
		TokenID:          tokenID,
		Round:            1,
		Buyer:            testAddr(0x04),
		PurchasePrice:    big.NewInt(10),
		EscrowAmount:     big.NewInt(5),
		InspectionPassed: true,
		Status:           escrow.SaleListed,
		CreatedAt:        1_700_000_000,
	}
}

func TestListingRoundTrip(t *testing.T) {
	manager := newTestManager(t)
	original := sampleListing(7)
	if err := manager.ListingPut(original); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok := manager.ListingGet(7)
	if !ok {
		t.Fatalf("expected listing to exist")
	}
	if loaded.TokenID != original.TokenID || loaded.Round != original.Round {
		t.Fatalf("identity fields lost: %+v", loaded)
	}
	if loaded.Buyer != original.Buyer {
		t.Fatalf("buyer lost")
	}
	if loaded.PurchasePrice.Cmp(original.PurchasePrice) != 0 {
		t.Fatalf("purchase price lost: %v", loaded.PurchasePrice)
	}
	if loaded.EscrowAmount.Cmp(original.EscrowAmount) != 0 {
		t.Fatalf("escrow amount lost: %v", loaded.EscrowAmount)
	}
	if !loaded.InspectionPassed {
		t.Fatalf("inspection flag lost")
	}
	if loaded.Status != escrow.SaleListed {
		t.Fatalf("status lost: %v", loaded.Status)
	}
	if loaded.CreatedAt != original.CreatedAt {
		t.Fatalf("timestamp lost: %d", loaded.CreatedAt)
	}
}

func TestListingGetMissing(t *testing.T) {
	manager := newTestManager(t)
	if _, ok := manager.ListingGet(99); ok {
		t.Fatalf("expected missing listing")
	}
}

func TestListingPutRejectsInvalid(t *testing.T) {
	manager := newTestManager(t)
	invalid := sampleListing(1)
	invalid.EscrowAmount = big.NewInt(20)
	if err := manager.ListingPut(invalid); err == nil {
		t.Fatalf("earnest above price must be rejected")
	}
	if _, ok := manager.ListingGet(1); ok {
		t.Fatalf("rejected listing must not be written")
	}
}

func TestListingGetReturnsCopy(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.ListingPut(sampleListing(3)); err != nil {
		t.Fatalf("put: %v", err)
	}
	first, _ := manager.ListingGet(3)
	first.PurchasePrice.SetInt64(999)
	first.InspectionPassed = false
	second, _ := manager.ListingGet(3)
	if second.PurchasePrice.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("mutating a loaded listing must not leak into state")
	}
	if !second.InspectionPassed {
		t.Fatalf("mutating a loaded listing must not leak into state")
	}
}

func TestApprovalsAreScopedByRound(t *testing.T) {
	manager := newTestManager(t)
	addr := testAddr(0x04)
	if err := manager.ApprovalSet(1, 1, addr); err != nil {
		t.Fatalf("set: %v", err)
	}
	roundOne, err := manager.ApprovalGet(1, 1, addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !roundOne {
		t.Fatalf("expected round 1 approval")
	}
	roundTwo, err := manager.ApprovalGet(1, 2, addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if roundTwo {
		t.Fatalf("round 2 must not inherit round 1 consent")
	}
	other, err := manager.ApprovalGet(1, 1, testAddr(0x05))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if other {
		t.Fatalf("approvals must be per-identity")
	}
}

func TestApprovalSetRejectsZeroRound(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.ApprovalSet(1, 0, testAddr(0x04)); err == nil {
		t.Fatalf("round 0 must be rejected")
	}
}

func TestEscrowBalanceLifecycle(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.ListingPut(sampleListing(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	balance, err := manager.EscrowBalance(1)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("fresh listing must start at zero, got %v", balance)
	}
	if err := manager.EscrowCredit(1, big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := manager.EscrowCredit(1, big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	balance, _ = manager.EscrowBalance(1)
	if balance.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected balance 10, got %v", balance)
	}
	if err := manager.EscrowDebit(1, big.NewInt(10)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	balance, _ = manager.EscrowBalance(1)
	if balance.Sign() != 0 {
		t.Fatalf("expected drained balance, got %v", balance)
	}
}

func TestEscrowCreditRequiresListing(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.EscrowCredit(42, big.NewInt(5)); err == nil {
		t.Fatalf("credit against an unknown listing must fail")
	}
}

func TestEscrowDebitRejectsOverdraw(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.ListingPut(sampleListing(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := manager.EscrowCredit(1, big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := manager.EscrowDebit(1, big.NewInt(6))
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected overdraw rejection, got %v", err)
	}
	balance, _ := manager.EscrowBalance(1)
	if balance.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("failed debit must not change the balance, got %v", balance)
	}
}

func TestEscrowAmountsRejectNegative(t *testing.T) {
	manager := newTestManager(t)
	if err := manager.ListingPut(sampleListing(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := manager.EscrowCredit(1, big.NewInt(-1)); err == nil {
		t.Fatalf("negative credit must fail")
	}
	if err := manager.EscrowDebit(1, big.NewInt(-1)); err == nil {
		t.Fatalf("negative debit must fail")
	}
}

func TestAccountRoundTrip(t *testing.T) {
	manager := newTestManager(t)
	addr := testAddr(0x04)
	account, err := manager.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if account.Balance.Sign() != 0 {
		t.Fatalf("missing account must resolve to zero balance")
	}
	account.Balance = big.NewInt(25)
	account.Nonce = 3
	if err := manager.PutAccount(addr[:], account); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, err := manager.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Balance.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("balance lost: %v", loaded.Balance)
	}
	if loaded.Nonce != 3 {
		t.Fatalf("nonce lost: %d", loaded.Nonce)
	}
}

func TestPutAccountRejectsNegativeBalance(t *testing.T) {
	manager := newTestManager(t)
	addr := testAddr(0x04)
	err := manager.PutAccount(addr[:], &types.Account{Balance: big.NewInt(-1)})
	if err == nil {
		t.Fatalf("negative balance must be rejected")
	}
}

func TestVaultAddressIsStableAndNonZero(t *testing.T) {
	manager := newTestManager(t)
	vault := manager.VaultAddress()
	if vault == ([20]byte{}) {
		t.Fatalf("vault address must be non-zero")
	}
	if manager.VaultAddress() != vault {
		t.Fatalf("vault address must be deterministic")
	}
	other := NewManager(storage.NewMemDB())
	if other.VaultAddress() != vault {
		t.Fatalf("vault address must not depend on the backing store")
	}
}

func TestKVRoundTrip(t *testing.T) {
	manager := newTestManager(t)
	type record struct {
		Name  string
		Value uint64
	}
	in := record{Name: "deed", Value: 7}
	if err := manager.KVPut([]byte("module/record"), &in); err != nil {
		t.Fatalf("put: %v", err)
	}
	var out record
	ok, err := manager.KVGet([]byte("module/record"), &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("expected key to exist")
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	ok, err = manager.KVGet([]byte("module/missing"), &out)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatalf("missing key must report absent")
	}
}
