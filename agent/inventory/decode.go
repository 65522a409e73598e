package inventory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

// Keys under which sellers wrap product lists.
var listKeys = []string{"products", "items", "data", "results"}

type wireProduct struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	PublisherID          string          `json:"publisherId"`
	Publisher            string          `json:"publisher"`
	Channel              string          `json:"channel"`
	BasePrice            *float64        `json:"basePrice"`
	Price                *float64        `json:"price"`
	FloorPrice           float64         `json:"floorPrice"`
	RateType             string          `json:"rateType"`
	DeliveryType         string          `json:"deliveryType"`
	Targeting            json.RawMessage `json:"targeting"`
	AvailableTargeting   []string        `json:"availableTargeting"`
	AvailableImpressions int64           `json:"availableImpressions"`
	AvailableFrom        string          `json:"availableFrom"`
	AvailableTo          string          `json:"availableTo"`
}

// Products decodes the product payload of a list, search or get result.
// It accepts a bare list, a list wrapped under a common key, or a single
// product object.
func Products(data any) ([]contractx.Product, error) {
	switch v := data.(type) {
	case nil:
		return []contractx.Product{}, nil
	case []any:
		out := make([]contractx.Product, 0, len(v))
		for _, item := range v {
			p, err := decodeOne(item)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	case map[string]any:
		for _, k := range listKeys {
			if inner, ok := v[k]; ok {
				if _, isList := inner.([]any); isList {
					return Products(inner)
				}
			}
		}
		p, err := decodeOne(v)
		if err != nil {
			return nil, err
		}
		return []contractx.Product{p}, nil
	default:
		return nil, contractx.NewProtocolError("decode_products", fmt.Sprintf("unexpected product payload %T", data))
	}
}

// Product decodes exactly one product, e.g. from get_product.
func Product(data any) (contractx.Product, error) {
	if m, ok := data.(map[string]any); ok {
		if inner, ok := m["product"]; ok {
			data = inner
		}
	}
	list, err := Products(data)
	if err != nil {
		return contractx.Product{}, err
	}
	if len(list) != 1 {
		return contractx.Product{}, contractx.NewProtocolError("get_product", fmt.Sprintf("expected one product, got %d", len(list)))
	}
	return list[0], nil
}

func decodeOne(item any) (contractx.Product, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return contractx.Product{}, contractx.NewProtocolError("decode_products", err.Error())
	}
	var w wireProduct
	if err := json.Unmarshal(raw, &w); err != nil {
		return contractx.Product{}, contractx.NewProtocolError("decode_products", err.Error())
	}
	if strings.TrimSpace(w.ID) == "" {
		return contractx.Product{}, contractx.NewProtocolError("decode_products", "product without id")
	}

	p := contractx.Product{
		ID:                   strings.TrimSpace(w.ID),
		Name:                 w.Name,
		PublisherID:          firstNonEmpty(w.PublisherID, w.Publisher),
		Channel:              strings.ToLower(strings.TrimSpace(w.Channel)),
		FloorCPM:             w.FloorPrice,
		RateType:             w.RateType,
		DeliveryType:         w.DeliveryType,
		Targeting:            targeting(w.Targeting, w.AvailableTargeting),
		AvailableImpressions: w.AvailableImpressions,
	}
	switch {
	case w.BasePrice != nil:
		p.BaseCPM = *w.BasePrice
	case w.Price != nil:
		p.BaseCPM = *w.Price
	}
	if p.AvailableFrom, err = parseDate(w.AvailableFrom); err != nil {
		return contractx.Product{}, contractx.NewProtocolError("decode_products", err.Error())
	}
	if p.AvailableTo, err = parseDate(w.AvailableTo); err != nil {
		return contractx.Product{}, contractx.NewProtocolError("decode_products", err.Error())
	}
	return p, nil
}

// targeting accepts a list of capability names or an object whose keys
// are the capabilities.
func targeting(raw json.RawMessage, fallback []string) []string {
	if len(raw) == 0 {
		return fallback
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		out := make([]string, 0, len(obj))
		for k := range obj {
			out = append(out, k)
		}
		sort.Strings(out)
		return out
	}
	return fallback
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
