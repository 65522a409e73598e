package orchestratornode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	bookingx "github.com/tanpawarit/ad-buyer-orchestrator/agent/booking"
	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
	pricingx "github.com/tanpawarit/ad-buyer-orchestrator/agent/pricing"
)

var (
	ErrInvalidProduct = errors.New("product id is empty")
	ErrNilState       = errors.New("graph state is nil")
)

const (
	defaultFlightDays = 30
	dealValidity      = 7 * 24 * time.Hour
)

// GraphInput is one requestDeal call.
type GraphInput struct {
	ProductID string
	DealType  contractx.DealType
	Volume    int64
	Flight    contractx.Flight
	TargetCPM float64
	Identity  contractx.BuyerIdentity
	// Booking ties the deal to a booking session; nil for a stand-alone
	// deal.
	Booking *bookingx.Machine
	// SessionID scopes the deal id. It is taken from Booking when set.
	SessionID string
}

type GraphOutput struct {
	Deal       contractx.Deal
	Quote      pricingx.Quote
	Negotiated bool
	Accepted   bool
	Summary    string
}

type GraphState struct {
	Input GraphInput
	Now   time.Time
	Tier  contractx.PricingTier

	Product  contractx.Product
	Quote    pricingx.Quote
	PriceCPM float64
	Accepted bool

	RequestID string
	Deal      contractx.Deal
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	in.ProductID = strings.TrimSpace(in.ProductID)
	if in.ProductID == "" {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, ErrInvalidProduct)
	}

	in.DealType = contractx.DealType(strings.ToUpper(strings.TrimSpace(string(in.DealType))))
	if in.DealType == "" {
		in.DealType = contractx.DealPreferred
	}
	if !in.DealType.Valid() {
		return nil, fmt.Errorf("%w: invalid deal type %q, use PG, PD or PA", contractx.ErrValidation, in.DealType)
	}
	if in.DealType == contractx.DealProgrammaticGuaranteed && in.Volume <= 0 {
		return nil, fmt.Errorf("%w: %s deals require an impressions volume", contractx.ErrValidation, in.DealType.Label())
	}
	if in.Volume < 0 || in.TargetCPM < 0 {
		return nil, fmt.Errorf("%w: volume and target cpm must not be negative", contractx.ErrValidation)
	}

	in.Identity = in.Identity.Normalize()
	tier := pricingx.ResolveTier(in.Identity)
	if in.TargetCPM > 0 && !tier.CanNegotiate() {
		return nil, fmt.Errorf("%w: price negotiation requires agency or advertiser tier (current: %s)", contractx.ErrValidation, tier)
	}

	now := nowFn().UTC()
	in.Flight = defaultFlight(in.Flight, now)
	if in.Flight.End.Before(in.Flight.Start) {
		return nil, fmt.Errorf("%w: flight ends before it starts", contractx.ErrValidation)
	}
	in.SessionID = strings.TrimSpace(in.SessionID)
	if in.Booking != nil {
		in.SessionID = in.Booking.SessionID()
	}

	return &GraphState{
		Input: in,
		Now:   now,
		Tier:  tier,
	}, nil
}

// defaultFlight fills a missing start with today and a missing end with
// start plus thirty days.
func defaultFlight(f contractx.Flight, now time.Time) contractx.Flight {
	if f.Start.IsZero() {
		f.Start = now.Truncate(24 * time.Hour)
	}
	if f.End.IsZero() {
		f.End = f.Start.AddDate(0, 0, defaultFlightDays)
	}
	return f
}
