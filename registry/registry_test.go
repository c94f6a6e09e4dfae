package registry

import (
	"errors"
	"testing"

	"homestead/state"
	"homestead/storage"
)

func newTestRegistry(t *testing.T) (*Registry, [20]byte) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	reg := NewRegistry(manager)
	vault := manager.VaultAddress()
	reg.SetOperator(vault)
	return reg, vault
}

func regAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestMintAssignsSequentialIDs(t *testing.T) {
	reg, _ := newTestRegistry(t)
	owner := regAddr(0x01)
	first, err := reg.Mint(owner, "ipfs://deed-1")
	if err != nil {
		t.Fatalf("mint #1: %v", err)
	}
	second, err := reg.Mint(owner, "ipfs://deed-2")
	if err != nil {
		t.Fatalf("mint #2: %v", err)
	}
	if first != 1 || second != 2 {
		t.Fatalf("expected IDs 1 and 2, got %d and %d", first, second)
	}
	deed, err := reg.Deed(first)
	if err != nil {
		t.Fatalf("deed: %v", err)
	}
	if deed.Holder != owner {
		t.Fatalf("minted deed must belong to owner")
	}
	if deed.URI != "ipfs://deed-1" {
		t.Fatalf("unexpected URI %q", deed.URI)
	}
}

func TestMintRejectsZeroOwner(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.Mint([20]byte{}, ""); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
}

func TestHolderOfUnknownDeed(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.HolderOf(42); !errors.Is(err, ErrUnknownDeed) {
		t.Fatalf("expected ErrUnknownDeed, got %v", err)
	}
}

func TestApproveRequiresHolder(t *testing.T) {
	reg, vault := newTestRegistry(t)
	owner := regAddr(0x01)
	stranger := regAddr(0x02)
	tokenID, err := reg.Mint(owner, "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := reg.Approve(stranger, tokenID, vault); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := reg.Approve(owner, tokenID, vault); err != nil {
		t.Fatalf("approve: %v", err)
	}
	deed, _ := reg.Deed(tokenID)
	if deed.Approved != vault {
		t.Fatalf("approval not recorded")
	}
}

func TestTransferIntoCustodyRequiresApproval(t *testing.T) {
	reg, vault := newTestRegistry(t)
	owner := regAddr(0x01)
	tokenID, err := reg.Mint(owner, "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := reg.TransferCustody(tokenID, owner, vault); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("unapproved transfer must fail, got %v", err)
	}
	if err := reg.Approve(owner, tokenID, vault); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := reg.TransferCustody(tokenID, owner, vault); err != nil {
		t.Fatalf("approved transfer: %v", err)
	}
	holder, err := reg.HolderOf(tokenID)
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	if holder != vault {
		t.Fatalf("custody must sit with the vault")
	}
}

func TestOperatorReassignsWithoutApproval(t *testing.T) {
	reg, vault := newTestRegistry(t)
	owner := regAddr(0x01)
	buyer := regAddr(0x04)
	tokenID, _ := reg.Mint(owner, "")
	if err := reg.Approve(owner, tokenID, vault); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := reg.TransferCustody(tokenID, owner, vault); err != nil {
		t.Fatalf("into custody: %v", err)
	}
	// Settlement leg: the vault hands the deed to the buyer with no
	// further approval from anyone.
	if err := reg.TransferCustody(tokenID, vault, buyer); err != nil {
		t.Fatalf("out of custody: %v", err)
	}
	holder, _ := reg.HolderOf(tokenID)
	if holder != buyer {
		t.Fatalf("deed must belong to the buyer")
	}
}

func TestTransferClearsApproval(t *testing.T) {
	reg, vault := newTestRegistry(t)
	owner := regAddr(0x01)
	tokenID, _ := reg.Mint(owner, "")
	if err := reg.Approve(owner, tokenID, vault); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := reg.TransferCustody(tokenID, owner, vault); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	deed, _ := reg.Deed(tokenID)
	if deed.Approved != ([20]byte{}) {
		t.Fatalf("approval must be cleared by a transfer")
	}
}

func TestTransferRejectsWrongFrom(t *testing.T) {
	reg, vault := newTestRegistry(t)
	owner := regAddr(0x01)
	stranger := regAddr(0x02)
	tokenID, _ := reg.Mint(owner, "")
	if err := reg.TransferCustody(tokenID, stranger, vault); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := reg.TransferCustody(tokenID, owner, [20]byte{}); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
}

func TestDeedSnapshotIsDetached(t *testing.T) {
	reg, _ := newTestRegistry(t)
	owner := regAddr(0x01)
	tokenID, _ := reg.Mint(owner, "uri")
	deed, _ := reg.Deed(tokenID)
	deed.Holder = regAddr(0x09)
	reloaded, _ := reg.Deed(tokenID)
	if reloaded.Holder != owner {
		t.Fatalf("mutating a snapshot must not affect the registry")
	}
}
