package orchestratornode

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	bookingx "github.com/tanpawarit/ad-buyer-orchestrator/agent/booking"
	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
	pricingx "github.com/tanpawarit/ad-buyer-orchestrator/agent/pricing"
)

var fixedNow = time.Date(2026, 3, 10, 15, 4, 5, 0, time.UTC)

func now() time.Time { return fixedNow }

var advertiser = contractx.BuyerIdentity{AgencyID: "agency-1", AdvertiserID: "adv-1"}

func TestValidateRequestDefaults(t *testing.T) {
	t.Parallel()

	st, err := ValidateRequest(GraphInput{ProductID: " prod-1 ", DealType: "pd"}, now)
	if err != nil {
		t.Fatalf("ValidateRequest() error = %v", err)
	}
	if st.Input.ProductID != "prod-1" || st.Input.DealType != contractx.DealPreferred {
		t.Fatalf("unexpected input: %+v", st.Input)
	}
	wantStart := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if !st.Input.Flight.Start.Equal(wantStart) || !st.Input.Flight.End.Equal(wantStart.AddDate(0, 0, 30)) {
		t.Fatalf("unexpected default flight: %+v", st.Input.Flight)
	}
	if st.Tier != contractx.TierPublic {
		t.Fatalf("unexpected tier: %v", st.Tier)
	}
}

func TestValidateRequestRejects(t *testing.T) {
	t.Parallel()

	tests := []GraphInput{
		{},
		{ProductID: "p", DealType: "XX"},
		{ProductID: "p", DealType: contractx.DealProgrammaticGuaranteed},
		{ProductID: "p", TargetCPM: 10, Identity: contractx.BuyerIdentity{SeatID: "seat-1"}},
		{ProductID: "p", Flight: contractx.Flight{Start: fixedNow, End: fixedNow.AddDate(0, 0, -1)}},
	}
	for i, in := range tests {
		if _, err := ValidateRequest(in, now); !errors.Is(err, contractx.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestDealIDDeterministic(t *testing.T) {
	t.Parallel()

	a, _ := ValidateRequest(GraphInput{ProductID: "prod-1", Identity: advertiser, SessionID: "s-1"}, now)
	b, _ := ValidateRequest(GraphInput{ProductID: "prod-1", Identity: advertiser, SessionID: "s-1", Volume: 99}, now)
	c, _ := ValidateRequest(GraphInput{ProductID: "prod-1", Identity: advertiser, SessionID: "s-2"}, now)

	id := DealID(a)
	if !strings.HasPrefix(id, "DEAL-") || len(id) != 13 || strings.ToUpper(id) != id {
		t.Fatalf("unexpected deal id format: %s", id)
	}
	if DealID(b) != id {
		t.Fatal("deal id must depend only on product, identity and session")
	}
	if DealID(c) == id {
		t.Fatal("different sessions must yield different deal ids")
	}
}

func pricedState(t *testing.T, in GraphInput, product contractx.Product) *GraphState {
	t.Helper()
	resolver, err := pricingx.NewResolver(pricingx.DefaultPolicy())
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	st, err := ValidateRequest(in, now)
	if err != nil {
		t.Fatalf("ValidateRequest() error = %v", err)
	}
	st, err = LoadProduct(context.Background(), st, func(context.Context, string) (contractx.Product, error) {
		return product, nil
	})
	if err != nil {
		t.Fatalf("LoadProduct() error = %v", err)
	}
	st, err = PriceDeal(st, resolver)
	if err != nil {
		t.Fatalf("PriceDeal() error = %v", err)
	}
	return st
}

func TestPriceDealAppliesTierAndVolume(t *testing.T) {
	t.Parallel()

	st := pricedState(t, GraphInput{
		ProductID: "prod-1", DealType: contractx.DealProgrammaticGuaranteed,
		Volume: 5_000_000, Identity: advertiser,
	}, contractx.Product{ID: "prod-1", BaseCPM: 20})

	if st.Quote.TieredCPM != 17 {
		t.Fatalf("unexpected tiered cpm: %v", st.Quote.TieredCPM)
	}
	if st.PriceCPM != 16.15 {
		t.Fatalf("unexpected price: %v", st.PriceCPM)
	}
}

func TestPriceDealNegotiation(t *testing.T) {
	t.Parallel()

	accepted := pricedState(t, GraphInput{ProductID: "p", TargetCPM: 16, Identity: advertiser},
		contractx.Product{ID: "p", BaseCPM: 20})
	if !accepted.Accepted || accepted.PriceCPM != 16 {
		t.Fatalf("expected accepted target, got %v accepted=%v", accepted.PriceCPM, accepted.Accepted)
	}

	countered := pricedState(t, GraphInput{ProductID: "p", TargetCPM: 10, Identity: advertiser},
		contractx.Product{ID: "p", BaseCPM: 20})
	if countered.Accepted || countered.PriceCPM != 15.3 {
		t.Fatalf("expected counter at 15.3, got %v accepted=%v", countered.PriceCPM, countered.Accepted)
	}
}

func TestLoadProductChecksEligibility(t *testing.T) {
	t.Parallel()

	st, _ := ValidateRequest(GraphInput{ProductID: "pmp-1", DealType: contractx.DealProgrammaticGuaranteed, Volume: 1000}, now)
	_, err := LoadProduct(context.Background(), st, func(context.Context, string) (contractx.Product, error) {
		return contractx.Product{ID: "pmp-1", BaseCPM: 5, DeliveryType: "PMP"}, nil
	})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func linkedMachine(t *testing.T, store bookingx.Store, sessionID string) *bookingx.Machine {
	t.Helper()
	ctx := context.Background()
	m, err := bookingx.Open(ctx, store, sessionID, bookingx.WithClock(now))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for _, step := range []bookingx.Step{bookingx.StepAccount, bookingx.StepOrder, bookingx.StepLine, bookingx.StepCreative, bookingx.StepAssignment} {
		id := string(step) + "-1"
		if _, err := m.Run(ctx, step, map[string]any{"step": string(step)}, func(context.Context, string) (string, error) {
			return id, nil
		}); err != nil {
			t.Fatalf("Run(%s) error = %v", step, err)
		}
	}
	return m
}

func TestCheckSessionBeforeCreativeLinked(t *testing.T) {
	t.Parallel()

	m, err := bookingx.Open(context.Background(), bookingx.NewMemoryStore(), "s-early")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	st, _ := ValidateRequest(GraphInput{ProductID: "p", SessionID: "s-early"}, now)
	if _, err := CheckSession(st, m); !errors.Is(err, contractx.ErrStateViolation) {
		t.Fatalf("expected state violation, got %v", err)
	}
	if _, err := CheckSession(st, nil); err != nil {
		t.Fatalf("stand-alone request must pass, got %v", err)
	}
}

func TestBookAndIssueDealOnSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := bookingx.NewMemoryStore()
	m := linkedMachine(t, store, "s-book")

	st := pricedState(t, GraphInput{ProductID: "prod-1", Identity: advertiser, SessionID: "s-book"},
		contractx.Product{ID: "prod-1", BaseCPM: 20})

	var (
		requests int
		gotOrder string
		gotKey   string
	)
	request := func(_ context.Context, key, orderID string, _ *GraphState) (string, error) {
		requests++
		gotKey, gotOrder = key, orderID
		return "msg-1", nil
	}

	st, err := CheckSession(st, m)
	if err != nil {
		t.Fatalf("CheckSession() error = %v", err)
	}
	st, err = BookDeal(ctx, st, m, request)
	if err != nil {
		t.Fatalf("BookDeal() error = %v", err)
	}
	st, err = IssueDeal(ctx, st, m)
	if err != nil {
		t.Fatalf("IssueDeal() error = %v", err)
	}
	out, err := FinalizeDeal(st)
	if err != nil {
		t.Fatalf("FinalizeDeal() error = %v", err)
	}

	if gotOrder != "order-1" || gotKey != bookingx.IdempotencyKey("s-book", bookingx.StepDealRequest) {
		t.Fatalf("unexpected request order=%s key=%s", gotOrder, gotKey)
	}
	if m.State() != bookingx.StateDealIssued {
		t.Fatalf("unexpected state: %s", m.State())
	}
	if out.Deal.PriceCPM != 17 || out.Deal.Tier != "advertiser" || len(out.Deal.Activation) != 5 {
		t.Fatalf("unexpected deal: %+v", out.Deal)
	}
	if !out.Deal.ExpiresAt.Equal(fixedNow.Add(7 * 24 * time.Hour)) {
		t.Fatalf("unexpected expiry: %v", out.Deal.ExpiresAt)
	}
	if !strings.Contains(out.Summary, "Final CPM: $17.00") || !strings.Contains(out.Summary, out.Deal.ID) {
		t.Fatalf("unexpected summary: %s", out.Summary)
	}

	// Replaying the request on the same session returns the same deal
	// without asking the seller again.
	again := pricedState(t, GraphInput{ProductID: "prod-1", Identity: advertiser, SessionID: "s-book"},
		contractx.Product{ID: "prod-1", BaseCPM: 20})
	reopened, err := bookingx.Open(ctx, store, "s-book", bookingx.WithClock(now))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	again, err = BookDeal(ctx, again, reopened, request)
	if err != nil {
		t.Fatalf("BookDeal() replay error = %v", err)
	}
	again, err = IssueDeal(ctx, again, reopened)
	if err != nil {
		t.Fatalf("IssueDeal() replay error = %v", err)
	}
	if requests != 1 || again.Deal.ID != out.Deal.ID {
		t.Fatalf("replay must not re-request: requests=%d id=%s", requests, again.Deal.ID)
	}
}

type recordingPublisher struct {
	deals []contractx.Deal
	err   error
}

func (p *recordingPublisher) PublishDealIssued(_ context.Context, d contractx.Deal) error {
	p.deals = append(p.deals, d)
	return p.err
}

func TestPublishEventIsBestEffort(t *testing.T) {
	t.Parallel()

	st := &GraphState{Deal: contractx.Deal{ID: "DEAL-00000001"}}
	pub := &recordingPublisher{err: errors.New("qstash down")}
	if _, err := PublishEvent(context.Background(), st, pub); err != nil {
		t.Fatalf("publish failure must not fail the request: %v", err)
	}
	if len(pub.deals) != 1 {
		t.Fatalf("expected one publish, got %d", len(pub.deals))
	}
	if _, err := PublishEvent(context.Background(), st, nil); err != nil {
		t.Fatalf("nil publisher must be skipped: %v", err)
	}
}
