package inventory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

// Filter narrows a product list. Zero fields do not filter. Expr is a CEL
// expression over `product` (the seller fields) and `price` (the CPM the
// buyer would pay), e.g. `product.channel == "ctv" && price < 25.0`.
type Filter struct {
	Query          string             `json:"query,omitempty"`
	Channel        string             `json:"channel,omitempty"`
	Publisher      string             `json:"publisher,omitempty"`
	MaxCPM         float64            `json:"max_cpm,omitempty"`
	MinImpressions int64              `json:"min_impressions,omitempty"`
	Targeting      []string           `json:"targeting,omitempty"`
	Expr           string             `json:"expr,omitempty"`
	Flight         contractx.Flight   `json:"flight,omitzero"`
	DealType       contractx.DealType `json:"deal_type,omitempty"`
}

// SearchArgs are the search_products arguments the seller understands.
// Price, impressions and CEL checks always run locally as well.
func (f Filter) SearchArgs() map[string]any {
	args := map[string]any{}
	if q := strings.TrimSpace(f.Query); q != "" {
		args["query"] = q
	}
	if c := strings.TrimSpace(f.Channel); c != "" {
		args["channel"] = strings.ToLower(c)
	}
	if p := strings.TrimSpace(f.Publisher); p != "" {
		args["publisherId"] = p
	}
	if e := strings.TrimSpace(f.Expr); e != "" {
		args["filter"] = e
	}
	return args
}

// PriceFunc returns the CPM the buyer would pay for p.
type PriceFunc func(p contractx.Product) float64

type Engine struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("product", cel.DynType),
		cel.Variable("price", cel.DoubleType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel environment: %w", err)
	}
	return &Engine{env: env, programs: make(map[string]cel.Program)}, nil
}

// Compile checks expr without evaluating it.
func (e *Engine) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

func (e *Engine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.programs[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.programs[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: compile product filter: %v", contractx.ErrValidation, issues.Err())
	}
	switch ast.OutputType().String() {
	case "bool", "dyn":
	default:
		return nil, fmt.Errorf("%w: product filter must be boolean, got %s", contractx.ErrValidation, ast.OutputType())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: product filter program: %v", contractx.ErrValidation, err)
	}
	e.programs[expr] = prg
	return prg, nil
}

// Eval runs expr for one product.
func (e *Engine) Eval(expr string, p contractx.Product, price float64) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{
		"product": activation(p),
		"price":   price,
	})
	if err != nil {
		return false, fmt.Errorf("%w: evaluate product filter: %v", contractx.ErrValidation, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("%w: product filter returned %T", contractx.ErrValidation, out.Value())
	}
	return ok, nil
}

// Apply keeps the products that pass every set constraint, in input order.
// A nil price func uses the base CPM.
func (e *Engine) Apply(products []contractx.Product, f Filter, price PriceFunc) ([]contractx.Product, error) {
	if price == nil {
		price = func(p contractx.Product) float64 { return p.BaseCPM }
	}
	expr := strings.TrimSpace(f.Expr)
	if expr != "" {
		if _, err := e.program(expr); err != nil {
			return nil, err
		}
	}

	out := make([]contractx.Product, 0, len(products))
	for _, p := range products {
		cpm := price(p)
		if !matchesStatic(p, f, cpm) {
			continue
		}
		if expr != "" {
			ok, err := e.Eval(expr, p, cpm)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func matchesStatic(p contractx.Product, f Filter, cpm float64) bool {
	if c := strings.TrimSpace(f.Channel); c != "" && !strings.EqualFold(p.Channel, c) {
		return false
	}
	if pub := strings.TrimSpace(f.Publisher); pub != "" && !strings.EqualFold(p.PublisherID, pub) {
		return false
	}
	if f.MaxCPM > 0 && cpm > f.MaxCPM {
		return false
	}
	if f.MinImpressions > 0 && p.AvailableImpressions < f.MinImpressions {
		return false
	}
	for _, want := range f.Targeting {
		if !hasFold(p.Targeting, want) {
			return false
		}
	}
	if !f.Flight.IsZero() && !p.AvailableDuring(f.Flight) {
		return false
	}
	if f.DealType != "" && !Eligible(p, f.DealType) {
		return false
	}
	return true
}

func hasFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}

func activation(p contractx.Product) map[string]any {
	targeting := make([]string, len(p.Targeting))
	copy(targeting, p.Targeting)
	return map[string]any{
		"id":                   p.ID,
		"name":                 p.Name,
		"publisherId":          p.PublisherID,
		"channel":              p.Channel,
		"basePrice":            p.BaseCPM,
		"floorPrice":           p.FloorCPM,
		"rateType":             p.RateType,
		"deliveryType":         p.DeliveryType,
		"targeting":            targeting,
		"availableImpressions": p.AvailableImpressions,
	}
}
