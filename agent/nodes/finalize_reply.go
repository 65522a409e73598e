package orchestratornode

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

func FinalizeDeal(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: %v", contractx.ErrValidation, ErrNilState)
	}
	if in.Deal.ID == "" {
		return GraphOutput{}, fmt.Errorf("%w: deal was not issued", contractx.ErrStateViolation)
	}
	return GraphOutput{
		Deal:       in.Deal,
		Quote:      in.Quote,
		Negotiated: in.Input.TargetCPM > 0,
		Accepted:   in.Accepted,
		Summary:    Summary(in.Deal, in.Quote.TierDiscount),
	}, nil
}

// Summary renders the deal for a human trader.
func Summary(d contractx.Deal, tierDiscount float64) string {
	p := message.NewPrinter(language.English)
	var b strings.Builder

	b.WriteString(p.Sprintf("Deal ID: %s\n", d.ID))
	b.WriteString(p.Sprintf("Product ID: %s\n", d.ProductID))
	b.WriteString(p.Sprintf("Deal Type: %s\n", d.Type.Label()))
	b.WriteString(p.Sprintf("Flight: %s to %s\n", d.Flight.Start.Format(time.DateOnly), d.Flight.End.Format(time.DateOnly)))
	if d.Impressions > 0 {
		b.WriteString(p.Sprintf("Impressions: %d\n", d.Impressions))
	}
	b.WriteString(p.Sprintf("Original CPM: $%.2f\n", d.ListCPM))
	b.WriteString(p.Sprintf("Your Tier: %s (%.1f%% discount)\n", strings.ToUpper(d.Tier), tierDiscount*100))
	b.WriteString(p.Sprintf("Final CPM: $%.2f\n", d.PriceCPM))
	if d.Impressions > 0 {
		b.WriteString(p.Sprintf("Estimated Total: $%.2f\n", d.PriceCPM*float64(d.Impressions)/1000))
	}

	platforms := make([]string, 0, len(d.Activation))
	for k := range d.Activation {
		platforms = append(platforms, k)
	}
	sort.Strings(platforms)
	b.WriteString("Activation Instructions:\n")
	for _, k := range platforms {
		b.WriteString(p.Sprintf("- %s: %s\n", strings.ToUpper(k), d.Activation[k]))
	}
	b.WriteString(p.Sprintf("Deal expires: %s", d.ExpiresAt.Format(time.DateOnly)))
	return b.String()
}
