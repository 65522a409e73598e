package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	nodex "github.com/tanpawarit/ad-buyer-orchestrator/agent/nodes"
)

func (o *Orchestrator) compileRequestDealGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("check_session",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.CheckSession(in, in.Input.Booking)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node check_session: %w", err)
	}

	if err := graph.AddLambdaNode("load_product",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadProduct(ctx, in, o.product)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_product: %w", err)
	}

	if err := graph.AddLambdaNode("price_deal",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.PriceDeal(in, o.resolver)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node price_deal: %w", err)
	}

	if err := graph.AddLambdaNode("book_deal",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.BookDeal(ctx, in, in.Input.Booking, o.requestDeal)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node book_deal: %w", err)
	}

	if err := graph.AddLambdaNode("issue_deal",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.IssueDeal(ctx, in, in.Input.Booking)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node issue_deal: %w", err)
	}

	if err := graph.AddLambdaNode("publish_event",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.PublishEvent(ctx, in, o.publisher)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node publish_event: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_deal",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeDeal(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_deal: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "check_session"},
		{"check_session", "load_product"},
		{"load_product", "price_deal"},
		{"price_deal", "book_deal"},
		{"book_deal", "issue_deal"},
		{"issue_deal", "publish_event"},
		{"publish_event", "finalize_deal"},
		{"finalize_deal", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.request_deal"))
	if err != nil {
		return nil, fmt.Errorf("compile request deal graph: %w", err)
	}
	return runner, nil
}
