package escrow

import (
	"strconv"

	"homestead/core/types"
	"homestead/crypto"
)

const (
	EventTypeSaleListed            = "sale.listed"
	EventTypeSaleDeposited         = "sale.deposited"
	EventTypeSaleToppedUp          = "sale.topped_up"
	EventTypeSaleInspectionUpdated = "sale.inspection_updated"
	EventTypeSaleApproved          = "sale.approved"
	EventTypeSaleFinalized         = "sale.finalized"
	EventTypeSaleCancelled         = "sale.cancelled"
)

// NewListedEvent returns the canonical event payload for a newly listed
// property.
func NewListedEvent(l *Listing) *types.Event {
	return newSaleEvent(EventTypeSaleListed, l, nil)
}

// NewDepositedEvent returns the event payload emitted when the buyer
// credits earnest money toward the listing.
func NewDepositedEvent(l *Listing, from [20]byte, amount string) *types.Event {
	return newSaleEvent(EventTypeSaleDeposited, l, map[string]string{
		"from":   formatAddress(from),
		"amount": amount,
	})
}

// NewToppedUpEvent returns the event payload emitted when a third party
// (typically the lender) credits the listing balance.
func NewToppedUpEvent(l *Listing, from [20]byte, amount string) *types.Event {
	return newSaleEvent(EventTypeSaleToppedUp, l, map[string]string{
		"from":   formatAddress(from),
		"amount": amount,
	})
}

// NewInspectionUpdatedEvent returns the event payload emitted when the
// inspector records a verdict.
func NewInspectionUpdatedEvent(l *Listing) *types.Event {
	return newSaleEvent(EventTypeSaleInspectionUpdated, l, map[string]string{
		"passed": strconv.FormatBool(l != nil && l.InspectionPassed),
	})
}

// NewApprovedEvent returns the event payload emitted when a participant
// records consent for the current sale round.
func NewApprovedEvent(l *Listing, caller [20]byte) *types.Event {
	return newSaleEvent(EventTypeSaleApproved, l, map[string]string{
		"participant": formatAddress(caller),
	})
}

// NewFinalizedEvent returns the event payload for a completed sale.
func NewFinalizedEvent(l *Listing, disbursed, refunded string) *types.Event {
	return newSaleEvent(EventTypeSaleFinalized, l, map[string]string{
		"disbursed": disbursed,
		"refunded":  refunded,
	})
}

// NewCancelledEvent returns the event payload for an aborted sale.
func NewCancelledEvent(l *Listing, recipient [20]byte, returned string) *types.Event {
	return newSaleEvent(EventTypeSaleCancelled, l, map[string]string{
		"fundsTo":  formatAddress(recipient),
		"returned": returned,
	})
}

func newSaleEvent(eventType string, l *Listing, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if l != nil {
		attrs["tokenId"] = strconv.FormatUint(l.TokenID, 10)
		attrs["round"] = strconv.FormatUint(l.Round, 10)
		attrs["buyer"] = formatAddress(l.Buyer)
		attrs["status"] = l.Status.String()
		if l.PurchasePrice != nil {
			attrs["purchasePrice"] = l.PurchasePrice.String()
		}
		if l.EscrowAmount != nil {
			attrs["escrowAmount"] = l.EscrowAmount.String()
		}
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.HomesteadPrefix, addr[:]).String()
}
