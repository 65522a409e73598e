package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	bookingx "github.com/tanpawarit/ad-buyer-orchestrator/agent/booking"
	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

// ActivationInstructions tells a trader where to enter a deal id in each
// supported DSP.
func ActivationInstructions(dealID string) map[string]string {
	return map[string]string{
		"ttd":    "The Trade Desk > Inventory > Private Marketplace > Add Deal ID: " + dealID,
		"dv360":  "Display & Video 360 > Inventory > My Inventory > New > Deal ID: " + dealID,
		"amazon": "Amazon DSP > Private Marketplace > Deals > Add Deal: " + dealID,
		"xandr":  "Xandr > Inventory > Deals > Create Deal with ID: " + dealID,
		"yahoo":  "Yahoo DSP > Inventory > Private Marketplace > Enter Deal ID: " + dealID,
	}
}

func IssueDeal(ctx context.Context, in *GraphState, machine *bookingx.Machine) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, ErrNilState)
	}
	if in.Deal.ID == "" {
		return nil, fmt.Errorf("%w: deal id was not assigned", contractx.ErrStateViolation)
	}

	// A resumed session returns the deal it already issued.
	if machine != nil {
		if existing, ok := machine.Deal(); ok {
			in.Deal = existing
			return in, nil
		}
	}

	in.Deal = contractx.Deal{
		ID:          in.Deal.ID,
		Type:        in.Input.DealType,
		ProductID:   in.Product.ID,
		Tier:        in.Tier.String(),
		PriceCPM:    in.PriceCPM,
		ListCPM:     in.Product.BaseCPM,
		Impressions: in.Input.Volume,
		Flight:      in.Input.Flight,
		Activation:  ActivationInstructions(in.Deal.ID),
		IssuedAt:    in.Now,
		ExpiresAt:   in.Now.Add(dealValidity),
	}
	if machine != nil {
		if err := machine.IssueDeal(ctx, in.Deal); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("deal_id", in.Deal.ID).
		Str("product_id", in.Deal.ProductID).
		Str("deal_type", string(in.Deal.Type)).
		Str("tier", in.Deal.Tier).
		Float64("price_cpm", in.Deal.PriceCPM).
		Msg("deal issued")
	return in, nil
}

// PublishEvent emits the issued deal. Delivery is best effort and never
// fails the request.
func PublishEvent(ctx context.Context, in *GraphState, publisher contractx.EventPublisher) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, ErrNilState)
	}
	if publisher == nil {
		return in, nil
	}
	if err := publisher.PublishDealIssued(ctx, in.Deal); err != nil {
		log.Warn().Err(err).Str("deal_id", in.Deal.ID).Msg("publish deal event")
	}
	return in, nil
}
