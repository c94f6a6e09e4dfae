package escrow

import (
	"math/big"
	"strings"
	"testing"
)

func eventListing() *Listing {
	return &Listing{
		TokenID:       7,
		Round:         2,
		Buyer:         [20]byte{0x04},
		PurchasePrice: big.NewInt(10),
		EscrowAmount:  big.NewInt(5),
		Status:        SaleListed,
	}
}

func TestListedEventCarriesListingTerms(t *testing.T) {
	evt := NewListedEvent(eventListing())
	if evt.Type != EventTypeSaleListed {
		t.Fatalf("unexpected type %q", evt.Type)
	}
	attrs := evt.Attributes
	if attrs["tokenId"] != "7" || attrs["round"] != "2" {
		t.Fatalf("unexpected identity attrs: %v", attrs)
	}
	if attrs["purchasePrice"] != "10" || attrs["escrowAmount"] != "5" {
		t.Fatalf("unexpected amount attrs: %v", attrs)
	}
	if attrs["status"] != "listed" {
		t.Fatalf("unexpected status %q", attrs["status"])
	}
	if !strings.HasPrefix(attrs["buyer"], "hst1") {
		t.Fatalf("buyer must be bech32 encoded, got %q", attrs["buyer"])
	}
}

func TestDepositedEventRecordsSourceAndAmount(t *testing.T) {
	from := [20]byte{0x04}
	evt := NewDepositedEvent(eventListing(), from, "5")
	if evt.Type != EventTypeSaleDeposited {
		t.Fatalf("unexpected type %q", evt.Type)
	}
	if evt.Attributes["amount"] != "5" {
		t.Fatalf("unexpected amount %q", evt.Attributes["amount"])
	}
	if evt.Attributes["from"] != evt.Attributes["buyer"] {
		t.Fatalf("expected from to match buyer encoding: %v", evt.Attributes)
	}
}

func TestInspectionEventReflectsVerdict(t *testing.T) {
	l := eventListing()
	l.InspectionPassed = true
	evt := NewInspectionUpdatedEvent(l)
	if evt.Attributes["passed"] != "true" {
		t.Fatalf("expected passed=true, got %v", evt.Attributes)
	}
	l.InspectionPassed = false
	if NewInspectionUpdatedEvent(l).Attributes["passed"] != "false" {
		t.Fatalf("expected passed=false after toggle")
	}
}

func TestFinalizedEventRecordsSettlement(t *testing.T) {
	l := eventListing()
	l.Status = SaleFinalized
	evt := NewFinalizedEvent(l, "10", "2")
	if evt.Attributes["disbursed"] != "10" || evt.Attributes["refunded"] != "2" {
		t.Fatalf("unexpected settlement attrs: %v", evt.Attributes)
	}
	if evt.Attributes["status"] != "finalized" {
		t.Fatalf("unexpected status %q", evt.Attributes["status"])
	}
}

func TestCancelledEventRecordsRecipient(t *testing.T) {
	l := eventListing()
	l.Status = SaleCancelled
	seller := [20]byte{0x01}
	evt := NewCancelledEvent(l, seller, "5")
	if evt.Attributes["returned"] != "5" {
		t.Fatalf("unexpected returned %q", evt.Attributes["returned"])
	}
	if !strings.HasPrefix(evt.Attributes["fundsTo"], "hst1") {
		t.Fatalf("recipient must be bech32 encoded, got %q", evt.Attributes["fundsTo"])
	}
}

func TestEventTolerantOfNilListing(t *testing.T) {
	evt := NewInspectionUpdatedEvent(nil)
	if evt.Attributes["passed"] != "false" {
		t.Fatalf("nil listing must report passed=false")
	}
	if _, ok := evt.Attributes["tokenId"]; ok {
		t.Fatalf("nil listing must not fabricate identity attrs")
	}
}
