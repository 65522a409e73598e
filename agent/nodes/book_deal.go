package orchestratornode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	bookingx "github.com/tanpawarit/ad-buyer-orchestrator/agent/booking"
	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

// DealRequester asks the seller to reserve the deal against the booked
// order and returns the seller's reference for the request.
type DealRequester func(ctx context.Context, idempotencyKey string, orderID string, in *GraphState) (string, error)

// CheckSession stops a deal request on a session that has not linked its
// creative yet, before anything is sent to the seller.
func CheckSession(in *GraphState, machine *bookingx.Machine) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, ErrNilState)
	}
	if machine == nil {
		return in, nil
	}
	if err := machine.Require(bookingx.StateCreativeLinked); err != nil {
		return nil, err
	}
	if d, ok := machine.Deal(); ok && d.ProductID != in.Input.ProductID {
		return nil, fmt.Errorf("%w: session %s already issued deal %s for product %s",
			contractx.ErrStateViolation, machine.SessionID(), d.ID, d.ProductID)
	}
	return in, nil
}

// BookDeal records the deal request and the deal id on the session. A
// stand-alone request only derives the deal id.
func BookDeal(ctx context.Context, in *GraphState, machine *bookingx.Machine, request DealRequester) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, ErrNilState)
	}
	dealID := DealID(in)
	if machine == nil {
		in.Deal.ID = dealID
		return in, nil
	}

	args := map[string]any{
		"productId": in.Input.ProductID,
		"dealType":  string(in.Input.DealType),
		"volume":    in.Input.Volume,
		"start":     in.Input.Flight.Start.Format(time.DateOnly),
		"end":       in.Input.Flight.End.Format(time.DateOnly),
		"priceCPM":  in.PriceCPM,
	}
	orderID, _ := machine.ID(bookingx.StepOrder)

	requestID, err := machine.Run(ctx, bookingx.StepDealRequest, args, func(ctx context.Context, key string) (string, error) {
		return request(ctx, key, orderID, in)
	})
	if err != nil {
		return nil, err
	}
	in.RequestID = requestID

	id, err := machine.Run(ctx, bookingx.StepDeal, args, func(context.Context, string) (string, error) {
		return dealID, nil
	})
	if err != nil {
		return nil, err
	}
	in.Deal.ID = id
	return in, nil
}

// DealID is "DEAL-" plus eight uppercase hex digits of a digest over the
// product, the buyer identity and the booking session. Stand-alone
// requests digest the request terms instead of a session.
func DealID(in *GraphState) string {
	scope := in.Input.SessionID
	if scope == "" {
		scope = strings.Join([]string{
			"adhoc",
			string(in.Input.DealType),
			fmt.Sprint(in.Input.Volume),
			in.Input.Flight.Start.Format(time.DateOnly),
			in.Input.Flight.End.Format(time.DateOnly),
		}, ":")
	}
	sum := sha256.Sum256([]byte(in.Input.ProductID + "\x00" + in.Input.Identity.Key() + "\x00" + scope))
	return "DEAL-" + strings.ToUpper(hex.EncodeToString(sum[:4]))
}
