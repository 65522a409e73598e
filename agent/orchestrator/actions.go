package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	bookingx "github.com/tanpawarit/ad-buyer-orchestrator/agent/booking"
	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
	inventoryx "github.com/tanpawarit/ad-buyer-orchestrator/agent/inventory"
	nodex "github.com/tanpawarit/ad-buyer-orchestrator/agent/nodes"
	pricingx "github.com/tanpawarit/ad-buyer-orchestrator/agent/pricing"
)

type DealRequest struct {
	ProductID string             `json:"product_id"`
	DealType  contractx.DealType `json:"deal_type,omitempty"`
	Volume    int64              `json:"volume,omitempty"`
	Flight    contractx.Flight   `json:"flight,omitzero"`
	TargetCPM float64            `json:"target_cpm,omitempty"`
}

type DealResult = nodex.GraphOutput

// Offer is a product the buyer can deal on, priced for the buyer's tier.
type Offer struct {
	Product   contractx.Product    `json:"product"`
	Quote     pricingx.Quote       `json:"quote"`
	DealTypes []contractx.DealType `json:"deal_types"`
}

type CampaignRequest struct {
	Inventory inventoryx.Filter             `json:"inventory"`
	Audience  contractx.AudienceRequirement `json:"audience"`
}

type CampaignPlan struct {
	Offers   []Offer                    `json:"offers"`
	Coverage contractx.CoverageEstimate `json:"coverage"`
}

type runFunc func(ctx context.Context, operation string, args map[string]any) (contractx.NormalizedResult, error)

func (o *Orchestrator) run(ctx context.Context, operation string, args map[string]any) (contractx.NormalizedResult, error) {
	return o.Execute(ctx, contractx.Action{Name: operation, Args: args}, "")
}

// runCreate scopes a stand-alone create to a one-step booking of its own,
// so every delivery of it carries the same idempotency key.
func (o *Orchestrator) runCreate(ctx context.Context, operation string, args map[string]any) (contractx.NormalizedResult, error) {
	if _, ok := args["idempotencyKey"]; !ok {
		args["idempotencyKey"] = bookingx.IdempotencyKey(uuid.NewString(), stepOperations[operation])
	}
	return o.run(ctx, operation, args)
}

// ListProducts fetches the catalog and refreshes the capability cache.
func (o *Orchestrator) ListProducts(ctx context.Context) ([]contractx.Product, error) {
	return o.products.Refresh(ctx, o.sellerKey, o.fetchProducts)
}

func (o *Orchestrator) CreateAccount(ctx context.Context, account contractx.Account) (contractx.Account, error) {
	return createEntity(ctx, o.runCreate, "create_account", account, func(a *contractx.Account, id string) { a.ID = id })
}

func (o *Orchestrator) CreateOrder(ctx context.Context, order contractx.Order) (contractx.Order, error) {
	return createEntity(ctx, o.runCreate, "create_order", order, func(v *contractx.Order, id string) { v.ID = id })
}

func (o *Orchestrator) CreateLine(ctx context.Context, line contractx.Line) (contractx.Line, error) {
	return createEntity(ctx, o.runCreate, "create_line", line, func(l *contractx.Line, id string) { l.ID = id })
}

func (o *Orchestrator) CreateCreative(ctx context.Context, creative contractx.Creative) (contractx.Creative, error) {
	return createEntity(ctx, o.runCreate, "create_creative", creative, func(c *contractx.Creative, id string) { c.ID = id })
}

func (o *Orchestrator) CreateAssignment(ctx context.Context, assignment contractx.Assignment) (contractx.Assignment, error) {
	return createEntity(ctx, o.runCreate, "create_assignment", assignment, func(a *contractx.Assignment, id string) { a.ID = id })
}

// SearchProducts asks the seller to search, then applies every filter
// locally at the session buyer's price.
func (o *Orchestrator) SearchProducts(ctx context.Context, f inventoryx.Filter) ([]contractx.Product, error) {
	if expr := strings.TrimSpace(f.Expr); expr != "" {
		if err := o.engine.Compile(expr); err != nil {
			return nil, err
		}
	}
	res, err := o.run(ctx, "search_products", f.SearchArgs())
	if err != nil {
		return nil, err
	}
	products, err := inventoryx.Products(res.Data)
	if err != nil {
		return nil, err
	}

	quotes, err := o.quoteAll(products, o.session.Identity(), f.MinImpressions)
	if err != nil {
		return nil, err
	}
	return o.engine.Apply(products, f, quotePrice(quotes))
}

func (o *Orchestrator) SendNaturalLanguage(ctx context.Context, text string) (contractx.NormalizedResult, error) {
	if strings.TrimSpace(text) == "" {
		err := fmt.Errorf("%w: message text is empty", contractx.ErrValidation)
		return contractx.Failed(contractx.ProtocolConversational, "send_message", err), err
	}
	return o.Execute(ctx, contractx.Action{Text: text}, "")
}

// DiscoverInventory filters the cached catalog and prices each match for
// identity. A zero identity means the session buyer.
func (o *Orchestrator) DiscoverInventory(ctx context.Context, identity contractx.BuyerIdentity, f inventoryx.Filter) ([]Offer, error) {
	identity, err := o.identityFor(identity)
	if err != nil {
		return nil, err
	}
	products, err := o.catalog(ctx)
	if err != nil {
		return nil, err
	}
	quotes, err := o.quoteAll(products, identity, f.MinImpressions)
	if err != nil {
		return nil, err
	}
	matched, err := o.engine.Apply(products, f, quotePrice(quotes))
	if err != nil {
		return nil, err
	}

	offers := make([]Offer, 0, len(matched))
	for _, p := range matched {
		offers = append(offers, Offer{
			Product:   p,
			Quote:     quotes[p.ID],
			DealTypes: inventoryx.EligibleDealTypes(p),
		})
	}
	return offers, nil
}

func (o *Orchestrator) GetPricing(ctx context.Context, productID string, volume int64, identity contractx.BuyerIdentity) (pricingx.Quote, error) {
	identity, err := o.identityFor(identity)
	if err != nil {
		return pricingx.Quote{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return pricingx.Quote{}, fmt.Errorf("%w: product id is required", contractx.ErrValidation)
	}
	p, err := o.product(ctx, productID)
	if err != nil {
		return pricingx.Quote{}, err
	}
	return o.resolver.Price(p, pricingx.ResolveTier(identity), volume)
}

// RequestDeal issues a stand-alone deal outside any booking session.
func (o *Orchestrator) RequestDeal(ctx context.Context, req DealRequest) (DealResult, error) {
	return o.runDeal(ctx, req, nil)
}

func (o *Orchestrator) PlanAudience(ctx context.Context, req contractx.AudienceRequirement) (contractx.CoverageEstimate, error) {
	caps, err := o.capabilities(ctx)
	if err != nil {
		return contractx.CoverageEstimate{}, err
	}
	return o.matcher.Match(req, caps)
}

// PlanCampaign runs inventory discovery and audience planning
// concurrently.
func (o *Orchestrator) PlanCampaign(ctx context.Context, req CampaignRequest) (CampaignPlan, error) {
	var plan CampaignPlan
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		offers, err := o.DiscoverInventory(gctx, contractx.BuyerIdentity{}, req.Inventory)
		if err != nil {
			return fmt.Errorf("discover inventory: %w", err)
		}
		plan.Offers = offers
		return nil
	})
	g.Go(func() error {
		coverage, err := o.PlanAudience(gctx, req.Audience)
		if err != nil {
			return fmt.Errorf("plan audience: %w", err)
		}
		plan.Coverage = coverage
		return nil
	})
	if err := g.Wait(); err != nil {
		return CampaignPlan{}, err
	}
	return plan, nil
}

func (o *Orchestrator) runDeal(ctx context.Context, req DealRequest, booking *bookingx.Machine) (DealResult, error) {
	return o.dealRunner.Invoke(ctx, nodex.GraphInput{
		ProductID: req.ProductID,
		DealType:  req.DealType,
		Volume:    req.Volume,
		Flight:    req.Flight,
		TargetCPM: req.TargetCPM,
		Identity:  o.session.Identity(),
		Booking:   booking,
	})
}

func (o *Orchestrator) fetchProducts(ctx context.Context) ([]contractx.Product, error) {
	adapter, err := o.session.Adapter(contractx.ProtocolStructured)
	if err != nil {
		return nil, err
	}
	res, err := adapter.Execute(ctx, "list_products", nil)
	if err != nil {
		return nil, err
	}
	return inventoryx.Products(res.Data)
}

func (o *Orchestrator) catalog(ctx context.Context) ([]contractx.Product, error) {
	return o.products.Get(ctx, o.sellerKey, o.fetchProducts)
}

// product looks in the cached catalog first and asks the seller only for
// products it does not list. A product the seller has but the catalog lacks
// marks the cached catalog stale.
func (o *Orchestrator) product(ctx context.Context, id string) (contractx.Product, error) {
	products, err := o.catalog(ctx)
	if err != nil {
		return contractx.Product{}, err
	}
	for _, p := range products {
		if p.ID == id {
			return p, nil
		}
	}
	res, err := o.run(ctx, "get_product", map[string]any{"id": id})
	if err != nil {
		return contractx.Product{}, err
	}
	product, err := inventoryx.Product(res.Data)
	if err != nil {
		return contractx.Product{}, err
	}
	o.products.Invalidate(o.sellerKey)
	log.Debug().Str("seller", o.sellerKey).Str("product", id).Msg("product missing from cached catalog")
	return product, nil
}

func (o *Orchestrator) capabilities(ctx context.Context) ([]contractx.AudienceCapability, error) {
	if o.audience == nil {
		return nil, fmt.Errorf("%w: no audience capability source configured", contractx.ErrAdapterUnavailable)
	}
	return o.audiences.Get(ctx, o.audience.Endpoint(), o.audience.DiscoverCapabilities)
}

// identityFor accepts only the session identity; pricing another buyer
// needs a session of its own.
func (o *Orchestrator) identityFor(identity contractx.BuyerIdentity) (contractx.BuyerIdentity, error) {
	identity = identity.Normalize()
	if identity == (contractx.BuyerIdentity{}) {
		return o.session.Identity(), nil
	}
	if identity != o.session.Identity() {
		return contractx.BuyerIdentity{}, fmt.Errorf("%w: identity differs from the session buyer", contractx.ErrValidation)
	}
	return identity, nil
}

func (o *Orchestrator) quoteAll(products []contractx.Product, identity contractx.BuyerIdentity, volume int64) (map[string]pricingx.Quote, error) {
	tier := pricingx.ResolveTier(identity)
	out := make(map[string]pricingx.Quote, len(products))
	for _, p := range products {
		q, err := o.resolver.Price(p, tier, volume)
		if err != nil {
			return nil, err
		}
		out[p.ID] = q
	}
	return out, nil
}

func quotePrice(quotes map[string]pricingx.Quote) inventoryx.PriceFunc {
	return func(p contractx.Product) float64 {
		return quotes[p.ID].PriceCPM
	}
}

func createEntity[T any](ctx context.Context, run runFunc, operation string, entity T, setID func(*T, string)) (T, error) {
	args, err := entityArgs(entity)
	if err != nil {
		return entity, err
	}
	res, err := run(ctx, operation, args)
	if err != nil {
		return entity, err
	}
	setID(&entity, ResultID(res.Data))
	return entity, nil
}

// entityArgs turns an OpenDirect entity into create arguments. The id and
// empty strings are dropped so the seller and the booking session can
// fill them.
func entityArgs(entity any) (map[string]any, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("%w: encode entity: %v", contractx.ErrValidation, err)
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: encode entity: %v", contractx.ErrValidation, err)
	}
	delete(args, "id")
	for k, v := range args {
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			delete(args, k)
		}
	}
	return args, nil
}
