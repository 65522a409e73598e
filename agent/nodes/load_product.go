package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
	inventoryx "github.com/tanpawarit/ad-buyer-orchestrator/agent/inventory"
)

// ProductLoader returns one seller product, typically through the
// capability cache.
type ProductLoader func(ctx context.Context, productID string) (contractx.Product, error)

func LoadProduct(ctx context.Context, in *GraphState, load ProductLoader) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, ErrNilState)
	}

	product, err := load(ctx, in.Input.ProductID)
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", in.Input.ProductID, err)
	}
	if err := inventoryx.CheckDeal(product, in.Input.DealType, in.Input.Volume, in.Input.Flight); err != nil {
		return nil, err
	}

	in.Product = product
	return in, nil
}
