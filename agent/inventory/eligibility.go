package inventory

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

// EligibleDealTypes lists the deal types a product can be sold under.
// Exclusive and guaranteed inventory supports every type, PMP inventory
// has nothing to guarantee, and an unknown delivery type is not
// restricted.
func EligibleDealTypes(p contractx.Product) []contractx.DealType {
	switch strings.ToLower(strings.TrimSpace(p.DeliveryType)) {
	case "pmp", "non-guaranteed", "nonguaranteed":
		return []contractx.DealType{contractx.DealPreferred, contractx.DealPrivateAuction}
	default:
		return []contractx.DealType{contractx.DealProgrammaticGuaranteed, contractx.DealPreferred, contractx.DealPrivateAuction}
	}
}

func Eligible(p contractx.Product, t contractx.DealType) bool {
	for _, dt := range EligibleDealTypes(p) {
		if dt == t {
			return true
		}
	}
	return false
}

// CheckDeal validates a deal request against the product before any price
// is computed.
func CheckDeal(p contractx.Product, t contractx.DealType, volume int64, flight contractx.Flight) error {
	if !t.Valid() {
		return fmt.Errorf("%w: invalid deal type %q, use PG, PD or PA", contractx.ErrValidation, t)
	}
	if t == contractx.DealProgrammaticGuaranteed && volume <= 0 {
		return fmt.Errorf("%w: %s deals require an impressions volume", contractx.ErrValidation, t.Label())
	}
	if volume < 0 {
		return fmt.Errorf("%w: impressions must not be negative", contractx.ErrValidation)
	}
	if !Eligible(p, t) {
		return fmt.Errorf("%w: product %s (%s) does not support %s deals", contractx.ErrValidation, p.ID, p.DeliveryType, t.Label())
	}
	if !flight.IsZero() {
		if flight.End.Before(flight.Start) {
			return fmt.Errorf("%w: flight ends before it starts", contractx.ErrValidation)
		}
		if !p.AvailableDuring(flight) {
			return fmt.Errorf("%w: product %s is not available for the requested flight", contractx.ErrValidation, p.ID)
		}
	}
	if t == contractx.DealProgrammaticGuaranteed && p.AvailableImpressions > 0 && volume > p.AvailableImpressions {
		return fmt.Errorf("%w: product %s has %d impressions available, %d requested",
			contractx.ErrValidation, p.ID, p.AvailableImpressions, volume)
	}
	return nil
}
