package pricing

import (
	"fmt"
	"sort"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
	configx "github.com/tanpawarit/ad-buyer-orchestrator/pkg/config"
)

// Breakpoint applies Discount to every unit once volume reaches MinVolume.
type Breakpoint struct {
	MinVolume int64   `yaml:"min_volume"`
	Discount  float64 `yaml:"discount"`
}

type ProductPolicy struct {
	FloorCPM    float64      `yaml:"floor_cpm"`
	Breakpoints []Breakpoint `yaml:"breakpoints"`
}

// Policy is the seller rate card configuration. Discount curves are data;
// nothing in the resolver hard-codes them.
type Policy struct {
	TierDiscounts        map[string]float64       `yaml:"tier_discounts"`
	VolumeTiers          []string                 `yaml:"volume_tiers"`
	Breakpoints          []Breakpoint             `yaml:"breakpoints"`
	Products             map[string]ProductPolicy `yaml:"products"`
	NegotiationTolerance float64                  `yaml:"negotiation_tolerance"`
}

// DefaultPolicy reproduces the documented example rate card.
func DefaultPolicy() Policy {
	return Policy{
		TierDiscounts: map[string]float64{
			"public":     0,
			"seat":       0.05,
			"agency":     0.10,
			"advertiser": 0.15,
		},
		VolumeTiers: []string{"agency", "advertiser"},
		Breakpoints: []Breakpoint{
			{MinVolume: 5_000_000, Discount: 0.05},
			{MinVolume: 10_000_000, Discount: 0.10},
		},
		NegotiationTolerance: 0.10,
	}
}

func LoadPolicy(path string) (Policy, error) {
	p, err := configx.LoadYAML[Policy](path)
	if err != nil {
		return Policy{}, fmt.Errorf("load pricing policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return *p, nil
}

func (p Policy) Validate() error {
	prev := -1.0
	for _, tier := range []contractx.PricingTier{
		contractx.TierPublic, contractx.TierSeat, contractx.TierAgency, contractx.TierAdvertiser,
	} {
		d := p.TierDiscounts[tier.String()]
		if d < 0 || d >= 1 {
			return fmt.Errorf("%w: tier %s discount %.4f outside [0,1)", contractx.ErrValidation, tier, d)
		}
		if d < prev {
			return fmt.Errorf("%w: tier %s discount %.4f lower than previous tier", contractx.ErrValidation, tier, d)
		}
		prev = d
	}
	for name := range p.TierDiscounts {
		if _, ok := contractx.ParseTier(name); !ok {
			return fmt.Errorf("%w: unknown tier %q", contractx.ErrValidation, name)
		}
	}
	for _, name := range p.VolumeTiers {
		if _, ok := contractx.ParseTier(name); !ok {
			return fmt.Errorf("%w: unknown volume tier %q", contractx.ErrValidation, name)
		}
	}
	if err := validateBreakpoints("default", p.Breakpoints); err != nil {
		return err
	}
	for id, pp := range p.Products {
		if pp.FloorCPM < 0 {
			return fmt.Errorf("%w: product %s floor is negative", contractx.ErrValidation, id)
		}
		if err := validateBreakpoints(id, pp.Breakpoints); err != nil {
			return err
		}
	}
	if p.NegotiationTolerance < 0 || p.NegotiationTolerance >= 1 {
		return fmt.Errorf("%w: negotiation tolerance %.4f outside [0,1)", contractx.ErrValidation, p.NegotiationTolerance)
	}
	return nil
}

// validateBreakpoints requires discounts to grow with volume so the price
// per unit never increases.
func validateBreakpoints(scope string, bps []Breakpoint) error {
	sorted := sortedBreakpoints(bps)
	prev := 0.0
	for _, bp := range sorted {
		if bp.MinVolume <= 0 {
			return fmt.Errorf("%w: %s breakpoint volume must be positive", contractx.ErrValidation, scope)
		}
		if bp.Discount < 0 || bp.Discount >= 1 {
			return fmt.Errorf("%w: %s breakpoint discount %.4f outside [0,1)", contractx.ErrValidation, scope, bp.Discount)
		}
		if bp.Discount < prev {
			return fmt.Errorf("%w: %s breakpoint at %d lowers the discount", contractx.ErrValidation, scope, bp.MinVolume)
		}
		prev = bp.Discount
	}
	return nil
}

func sortedBreakpoints(bps []Breakpoint) []Breakpoint {
	out := append([]Breakpoint(nil), bps...)
	sort.Slice(out, func(i, j int) bool { return out[i].MinVolume < out[j].MinVolume })
	return out
}
