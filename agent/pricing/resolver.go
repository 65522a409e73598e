package pricing

import (
	"fmt"
	"math"
	"strings"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

// Tolerance for float comparisons against the floor.
const floorEpsilon = 1e-9

type Quote struct {
	ProductID      string                `json:"product_id"`
	Tier           contractx.PricingTier `json:"-"`
	TierName       string                `json:"tier"`
	Volume         int64                 `json:"volume"`
	BaseCPM        float64               `json:"base_cpm"`
	TierDiscount   float64               `json:"tier_discount"`
	VolumeDiscount float64               `json:"volume_discount"`
	TieredCPM      float64               `json:"tiered_cpm"`
	PriceCPM       float64               `json:"price_cpm"`
	FloorCPM       float64               `json:"floor_cpm"`
	CanNegotiate   bool                  `json:"can_negotiate"`
}

// TotalCost is the media cost of the quoted volume.
func (q Quote) TotalCost() float64 {
	return roundPrice(q.PriceCPM * float64(q.Volume) / 1000)
}

type Resolver struct {
	policy      Policy
	volumeTiers map[contractx.PricingTier]bool
}

func NewResolver(policy Policy) (*Resolver, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	r := &Resolver{
		policy:      policy,
		volumeTiers: make(map[contractx.PricingTier]bool, len(policy.VolumeTiers)),
	}
	for _, name := range policy.VolumeTiers {
		tier, _ := contractx.ParseTier(name)
		r.volumeTiers[tier] = true
	}
	return r, nil
}

func (r *Resolver) TierDiscount(tier contractx.PricingTier) float64 {
	return r.policy.TierDiscounts[tier.String()]
}

// VolumeDiscount returns the discount of the highest breakpoint reached by
// volume. Per-product breakpoints replace the default curve.
func (r *Resolver) VolumeDiscount(productID string, tier contractx.PricingTier, volume int64) float64 {
	if volume <= 0 || !r.volumeTiers[tier] {
		return 0
	}
	bps := r.policy.Breakpoints
	if pp, ok := r.policy.Products[productID]; ok && len(pp.Breakpoints) > 0 {
		bps = pp.Breakpoints
	}
	discount := 0.0
	for _, bp := range sortedBreakpoints(bps) {
		if volume < bp.MinVolume {
			break
		}
		discount = bp.Discount
	}
	return discount
}

func (r *Resolver) floor(p contractx.Product) float64 {
	if pp, ok := r.policy.Products[p.ID]; ok && pp.FloorCPM > 0 {
		return pp.FloorCPM
	}
	return p.FloorCPM
}

// Price computes base * (1 - tier discount) * (1 - volume discount). A
// result under the product floor is an error, never clamped.
func (r *Resolver) Price(p contractx.Product, tier contractx.PricingTier, volume int64) (Quote, error) {
	if strings.TrimSpace(p.ID) == "" {
		return Quote{}, fmt.Errorf("%w: product id is required", contractx.ErrValidation)
	}
	if p.BaseCPM <= 0 || math.IsNaN(p.BaseCPM) || math.IsInf(p.BaseCPM, 0) {
		return Quote{}, fmt.Errorf("%w: product %s has no usable base price", contractx.ErrValidation, p.ID)
	}
	if volume < 0 {
		return Quote{}, fmt.Errorf("%w: volume must be >= 0", contractx.ErrValidation)
	}

	q := Quote{
		ProductID:      p.ID,
		Tier:           tier,
		TierName:       tier.String(),
		Volume:         volume,
		BaseCPM:        p.BaseCPM,
		TierDiscount:   r.TierDiscount(tier),
		VolumeDiscount: r.VolumeDiscount(p.ID, tier, volume),
		FloorCPM:       r.floor(p),
		CanNegotiate:   tier.CanNegotiate(),
	}
	q.TieredCPM = roundPrice(p.BaseCPM * (1 - q.TierDiscount))
	q.PriceCPM = roundPrice(q.TieredCPM * (1 - q.VolumeDiscount))

	if err := checkFloor(p.ID, q.PriceCPM, q.FloorCPM); err != nil {
		return q, err
	}
	return q, nil
}

// Negotiate settles a buyer target price. A target at or above the lower
// bound of the tolerance band is accepted; otherwise the counter offer is
// the bound itself. The settled price is still floor checked.
func (r *Resolver) Negotiate(q Quote, target float64) (price float64, accepted bool, err error) {
	if !q.CanNegotiate {
		return 0, false, fmt.Errorf("%w: price negotiation requires agency or advertiser tier (current: %s)", contractx.ErrValidation, q.TierName)
	}
	if target <= 0 {
		return 0, false, fmt.Errorf("%w: target cpm must be positive", contractx.ErrValidation)
	}
	bound := roundPrice(q.PriceCPM * (1 - r.policy.NegotiationTolerance))
	price, accepted = bound, false
	if target >= bound {
		price, accepted = roundPrice(target), true
	}
	if err := checkFloor(q.ProductID, price, q.FloorCPM); err != nil {
		return price, accepted, err
	}
	return price, accepted, nil
}

func checkFloor(productID string, price, floor float64) error {
	if floor > 0 && price+floorEpsilon < floor {
		return &contractx.PriceFloorError{ProductID: productID, Price: price, Floor: floor}
	}
	return nil
}

func roundPrice(v float64) float64 {
	return math.Round(v*10000) / 10000
}
