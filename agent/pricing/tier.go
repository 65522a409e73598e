package pricing

import contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"

// ResolveTier applies a strict precedence chain: a higher tier masks any
// partial information of lower tiers. Advertiser needs both the agency and
// advertiser ids.
func ResolveTier(identity contractx.BuyerIdentity) contractx.PricingTier {
	id := identity.Normalize()
	switch {
	case id.AgencyID != "" && id.AdvertiserID != "":
		return contractx.TierAdvertiser
	case id.AgencyID != "":
		return contractx.TierAgency
	case id.SeatID != "":
		return contractx.TierSeat
	default:
		return contractx.TierPublic
	}
}
