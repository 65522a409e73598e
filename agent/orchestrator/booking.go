package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	bookingx "github.com/tanpawarit/ad-buyer-orchestrator/agent/booking"
	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
	nodex "github.com/tanpawarit/ad-buyer-orchestrator/agent/nodes"
)

// stepOperations maps the create operations that advance a booking.
var stepOperations = map[string]bookingx.Step{
	"create_account":    bookingx.StepAccount,
	"create_order":      bookingx.StepOrder,
	"create_line":       bookingx.StepLine,
	"create_creative":   bookingx.StepCreative,
	"create_assignment": bookingx.StepAssignment,
}

// parentArgs lists, per step, the argument filled from an earlier step
// when the caller leaves it out.
var parentArgs = map[bookingx.Step]map[string]bookingx.Step{
	bookingx.StepOrder:      {"accountId": bookingx.StepAccount},
	bookingx.StepLine:       {"orderId": bookingx.StepOrder},
	bookingx.StepCreative:   {"accountId": bookingx.StepAccount},
	bookingx.StepAssignment: {"lineId": bookingx.StepLine, "creativeId": bookingx.StepCreative},
}

// BookingSession is one booking attempt. Its writes are sequential; each
// one carries the idempotency key of its step.
type BookingSession struct {
	o       *Orchestrator
	machine *bookingx.Machine
}

// StartBooking opens sessionID, or a new session when it is empty. A
// session left in Failed resumes at the state where it stopped.
func (o *Orchestrator) StartBooking(ctx context.Context, sessionID string) (*BookingSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	m, err := bookingx.Open(ctx, o.store, sessionID, bookingx.WithClock(o.now))
	if err != nil {
		return nil, err
	}
	return &BookingSession{o: o, machine: m}, nil
}

func (b *BookingSession) ID() string { return b.machine.SessionID() }

func (b *BookingSession) State() bookingx.State { return b.machine.State() }

// Record is a snapshot of the persisted session.
func (b *BookingSession) Record() *bookingx.Record { return b.machine.Record() }

func (b *BookingSession) CreateAccount(ctx context.Context, account contractx.Account) (contractx.Account, error) {
	return createEntity(ctx, b.run, "create_account", account, func(a *contractx.Account, id string) { a.ID = id })
}

func (b *BookingSession) CreateOrder(ctx context.Context, order contractx.Order) (contractx.Order, error) {
	return createEntity(ctx, b.run, "create_order", order, func(o *contractx.Order, id string) { o.ID = id })
}

func (b *BookingSession) CreateLine(ctx context.Context, line contractx.Line) (contractx.Line, error) {
	return createEntity(ctx, b.run, "create_line", line, func(l *contractx.Line, id string) { l.ID = id })
}

func (b *BookingSession) CreateCreative(ctx context.Context, creative contractx.Creative) (contractx.Creative, error) {
	return createEntity(ctx, b.run, "create_creative", creative, func(c *contractx.Creative, id string) { c.ID = id })
}

func (b *BookingSession) CreateAssignment(ctx context.Context, assignment contractx.Assignment) (contractx.Assignment, error) {
	return createEntity(ctx, b.run, "create_assignment", assignment, func(a *contractx.Assignment, id string) { a.ID = id })
}

// RequestDeal requests and issues the session's deal. It fails with a
// state violation before any remote call unless the creative is linked.
func (b *BookingSession) RequestDeal(ctx context.Context, req DealRequest) (DealResult, error) {
	if _, err := b.o.session.Adapter(contractx.ProtocolStructured); err != nil {
		return DealResult{}, err
	}
	out, err := b.o.runDeal(ctx, req, b.machine)
	if err != nil {
		return DealResult{}, err
	}
	if err := b.machine.SetMeta(ctx, "product_id", out.Deal.ProductID); err != nil {
		return out, fmt.Errorf("persist booking metadata: %w", err)
	}
	return out, nil
}

// run sends booking writes to the structured adapter. The adapter is
// checked first so an unconnected protocol never fails the session.
func (b *BookingSession) run(ctx context.Context, operation string, args map[string]any) (contractx.NormalizedResult, error) {
	adapter, err := b.o.session.Adapter(contractx.ProtocolStructured)
	if err != nil {
		return contractx.Failed(contractx.ProtocolStructured, operation, err), err
	}
	return b.execute(ctx, adapter, operation, args)
}

// execute runs operation inside the session. Create operations advance
// the state machine; other operations pass through.
func (b *BookingSession) execute(ctx context.Context, adapter contractx.ProtocolAdapter, operation string, args map[string]any) (contractx.NormalizedResult, error) {
	step, ok := stepOperations[operation]
	if !ok {
		res, err := adapter.Execute(ctx, operation, args)
		if err != nil {
			return res, err
		}
		if strings.HasPrefix(operation, "update_") {
			if err := b.machine.SetMeta(ctx, "last_update", operation); err != nil {
				return res, fmt.Errorf("persist booking metadata: %w", err)
			}
		}
		b.o.observe(operation, res)
		return res, nil
	}

	args = b.withParents(step, args)
	var res contractx.NormalizedResult
	id, err := b.machine.Run(ctx, step, args, func(ctx context.Context, key string) (string, error) {
		callArgs := maps.Clone(args)
		callArgs["idempotencyKey"] = key
		out, err := adapter.Execute(ctx, operation, callArgs)
		if err != nil {
			return "", err
		}
		res = out
		return ResultID(out.Data), nil
	})
	if err != nil {
		return contractx.Failed(adapter.Protocol(), operation, err), err
	}
	if res.Operation == "" {
		// Replayed from the record; the seller was not called.
		res = contractx.NormalizedResult{
			Success:   true,
			Protocol:  adapter.Protocol(),
			Operation: operation,
			Data:      map[string]any{"id": id},
		}
	}
	return res, nil
}

// withParents copies args for step, filling omitted parent ids. A caller
// idempotencyKey is dropped; the session key for the step replaces it.
func (b *BookingSession) withParents(step bookingx.Step, args map[string]any) map[string]any {
	out := make(map[string]any, len(args)+2)
	maps.Copy(out, args)
	delete(out, "idempotencyKey")
	for key, parent := range parentArgs[step] {
		if v, ok := out[key].(string); ok && strings.TrimSpace(v) != "" {
			continue
		}
		if id, ok := b.machine.ID(parent); ok {
			out[key] = id
		}
	}
	return out
}

// requestDeal sends the deal brief as a message on the booked order.
func (o *Orchestrator) requestDeal(ctx context.Context, key, orderID string, in *nodex.GraphState) (string, error) {
	if strings.TrimSpace(orderID) == "" {
		return "", fmt.Errorf("%w: deal request needs a booked order", contractx.ErrStateViolation)
	}
	body, err := o.dealBrief(ctx, in)
	if err != nil {
		return "", err
	}
	adapter, err := o.session.Adapter(contractx.ProtocolStructured)
	if err != nil {
		return "", err
	}
	res, err := adapter.Execute(ctx, "create_message", map[string]any{
		"orderId":        orderID,
		"body":           body,
		"idempotencyKey": key,
	})
	if err != nil {
		return "", err
	}
	return ResultID(res.Data), nil
}

func (o *Orchestrator) dealBrief(ctx context.Context, in *nodex.GraphState) (string, error) {
	p := message.NewPrinter(language.English)
	impressions := "open"
	if in.Input.Volume > 0 {
		impressions = p.Sprintf("%d", in.Input.Volume)
	}
	template := einoprompt.FromMessages(schema.FString, schema.UserMessage(o.prompts.DealBrief))
	msgs, err := template.Format(ctx, map[string]any{
		"deal_type":   in.Input.DealType.Label(),
		"product_id":  in.Input.ProductID,
		"impressions": impressions,
		"start":       in.Input.Flight.Start.Format(time.DateOnly),
		"end":         in.Input.Flight.End.Format(time.DateOnly),
		"price":       p.Sprintf("$%.2f", in.PriceCPM),
	})
	if err != nil {
		return "", fmt.Errorf("%w: format deal brief: %v", contractx.ErrValidation, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%w: deal brief", contractx.ErrPromptMissing)
	}
	return msgs[0].Content, nil
}

// ResultID finds the id the seller issued in a result payload: a top-level
// "id", or the "id" of the single object wrapped under one key.
func ResultID(data any) string {
	m, ok := data.(map[string]any)
	if !ok {
		if list, isList := data.([]any); isList && len(list) == 1 {
			return ResultID(list[0])
		}
		return ""
	}
	if id := idString(m["id"]); id != "" {
		return id
	}
	if len(m) == 1 {
		for _, v := range m {
			return ResultID(v)
		}
	}
	return ""
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case float64:
		return fmt.Sprintf("%.0f", id)
	case int, int64:
		return fmt.Sprint(id)
	default:
		return ""
	}
}
