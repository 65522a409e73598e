package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

func newDefaultResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(DefaultPolicy())
	require.NoError(t, err)
	return r
}

func TestResolveTierPrecedence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		identity contractx.BuyerIdentity
		want     contractx.PricingTier
	}{
		{"empty", contractx.BuyerIdentity{}, contractx.TierPublic},
		{"seat", contractx.BuyerIdentity{SeatID: "ttd-1"}, contractx.TierSeat},
		{"agency masks seat", contractx.BuyerIdentity{SeatID: "ttd-1", AgencyID: "ag-1"}, contractx.TierAgency},
		{"advertiser alone is public", contractx.BuyerIdentity{AdvertiserID: "adv-1"}, contractx.TierPublic},
		{"advertiser alone with seat", contractx.BuyerIdentity{SeatID: "s", AdvertiserID: "adv-1"}, contractx.TierSeat},
		{"agency and advertiser", contractx.BuyerIdentity{AgencyID: "ag-1", AdvertiserID: "adv-1"}, contractx.TierAdvertiser},
		{"whitespace ids ignored", contractx.BuyerIdentity{AgencyID: "  "}, contractx.TierPublic},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ResolveTier(tc.identity))
		})
	}
}

func TestPriceAdvertiserDiscount(t *testing.T) {
	t.Parallel()

	r := newDefaultResolver(t)
	product := contractx.Product{ID: "prod-video", BaseCPM: 20}
	tier := ResolveTier(contractx.BuyerIdentity{AgencyID: "ag-1", AdvertiserID: "adv-1"})

	q, err := r.Price(product, tier, 0)
	require.NoError(t, err)
	assert.InDelta(t, 17.00, q.PriceCPM, 1e-9)
	assert.InDelta(t, 0.15, q.TierDiscount, 1e-9)
	assert.Zero(t, q.VolumeDiscount)

	atBreakpoint, err := r.Price(product, tier, 5_000_000)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, atBreakpoint.VolumeDiscount, 1e-9)
	assert.InDelta(t, 16.15, atBreakpoint.PriceCPM, 1e-9)
	assert.LessOrEqual(t, atBreakpoint.PriceCPM, 17.00)
}

func TestPriceVolumeDiscountOnlyForEligibleTiers(t *testing.T) {
	t.Parallel()

	r := newDefaultResolver(t)
	product := contractx.Product{ID: "prod-display", BaseCPM: 10}

	q, err := r.Price(product, contractx.TierSeat, 12_000_000)
	require.NoError(t, err)
	assert.Zero(t, q.VolumeDiscount)
	assert.InDelta(t, 9.5, q.PriceCPM, 1e-9)

	q, err = r.Price(product, contractx.TierAgency, 12_000_000)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, q.VolumeDiscount, 1e-9)
	assert.InDelta(t, 8.1, q.PriceCPM, 1e-9)
}

func TestPriceFloorViolation(t *testing.T) {
	t.Parallel()

	r := newDefaultResolver(t)
	product := contractx.Product{ID: "prod-ctv", BaseCPM: 20, FloorCPM: 18}

	_, err := r.Price(product, contractx.TierAdvertiser, 0)
	require.ErrorIs(t, err, contractx.ErrPriceFloorViolation)

	var floorErr *contractx.PriceFloorError
	require.ErrorAs(t, err, &floorErr)
	assert.Equal(t, 18.0, floorErr.Floor)

	q, err := r.Price(product, contractx.TierPublic, 0)
	require.NoError(t, err)
	assert.Equal(t, 20.0, q.PriceCPM)
}

func TestPricePerProductBreakpointsAndFloor(t *testing.T) {
	t.Parallel()

	policy := DefaultPolicy()
	policy.Products = map[string]ProductPolicy{
		"prod-audio": {
			FloorCPM:    5,
			Breakpoints: []Breakpoint{{MinVolume: 1_000_000, Discount: 0.2}},
		},
	}
	r, err := NewResolver(policy)
	require.NoError(t, err)

	q, err := r.Price(contractx.Product{ID: "prod-audio", BaseCPM: 10}, contractx.TierAgency, 1_000_000)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, q.VolumeDiscount, 1e-9)
	assert.InDelta(t, 7.2, q.PriceCPM, 1e-9)
	assert.Equal(t, 5.0, q.FloorCPM)
}

func TestPriceRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	r := newDefaultResolver(t)
	_, err := r.Price(contractx.Product{ID: "p"}, contractx.TierPublic, 0)
	assert.ErrorIs(t, err, contractx.ErrValidation)

	_, err = r.Price(contractx.Product{ID: "p", BaseCPM: 1}, contractx.TierPublic, -1)
	assert.ErrorIs(t, err, contractx.ErrValidation)
}

func TestNegotiate(t *testing.T) {
	t.Parallel()

	r := newDefaultResolver(t)
	q, err := r.Price(contractx.Product{ID: "p", BaseCPM: 20}, contractx.TierAgency, 0)
	require.NoError(t, err)
	require.InDelta(t, 18.0, q.PriceCPM, 1e-9)

	price, accepted, err := r.Negotiate(q, 17)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.InDelta(t, 17.0, price, 1e-9)

	price, accepted, err = r.Negotiate(q, 12)
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.InDelta(t, 16.2, price, 1e-9)

	seat, err := r.Price(contractx.Product{ID: "p", BaseCPM: 20}, contractx.TierSeat, 0)
	require.NoError(t, err)
	_, _, err = r.Negotiate(seat, 15)
	assert.ErrorIs(t, err, contractx.ErrValidation)
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.TierDiscounts["seat"] = 0.2
	assert.ErrorIs(t, p.Validate(), contractx.ErrValidation, "seat above agency breaks tier order")

	p = DefaultPolicy()
	p.Breakpoints = []Breakpoint{{MinVolume: 100, Discount: 0.2}, {MinVolume: 200, Discount: 0.1}}
	assert.ErrorIs(t, p.Validate(), contractx.ErrValidation, "price must not rise with volume")

	p = DefaultPolicy()
	p.TierDiscounts["platinum"] = 0.3
	assert.ErrorIs(t, p.Validate(), contractx.ErrValidation)
}

func TestLoadPolicy(t *testing.T) {
	t.Parallel()

	doc := `tier_discounts:
  public: 0
  seat: 0.02
  agency: 0.08
  advertiser: 0.12
volume_tiers: [advertiser]
breakpoints:
  - min_volume: 1000000
    discount: 0.03
negotiation_tolerance: 0.05
`
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 0.12, p.TierDiscounts["advertiser"])
	assert.Equal(t, []string{"advertiser"}, p.VolumeTiers)

	r, err := NewResolver(p)
	require.NoError(t, err)
	assert.Zero(t, r.VolumeDiscount("x", contractx.TierAgency, 2_000_000))
	assert.InDelta(t, 0.03, r.VolumeDiscount("x", contractx.TierAdvertiser, 2_000_000), 1e-9)
}
