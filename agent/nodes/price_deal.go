package orchestratornode

import (
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
	pricingx "github.com/tanpawarit/ad-buyer-orchestrator/agent/pricing"
)

func PriceDeal(in *GraphState, resolver *pricingx.Resolver) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, ErrNilState)
	}

	quote, err := resolver.Price(in.Product, in.Tier, in.Input.Volume)
	if err != nil {
		return nil, err
	}
	in.Quote = quote
	in.PriceCPM = quote.PriceCPM

	if in.Input.TargetCPM > 0 {
		price, accepted, err := resolver.Negotiate(quote, in.Input.TargetCPM)
		if err != nil {
			return nil, err
		}
		in.PriceCPM, in.Accepted = price, accepted
		log.Info().
			Str("product_id", in.Product.ID).
			Float64("target_cpm", in.Input.TargetCPM).
			Float64("price_cpm", price).
			Bool("accepted", accepted).
			Msg("deal price negotiated")
	}
	return in, nil
}
