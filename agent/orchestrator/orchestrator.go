package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	audiencex "github.com/tanpawarit/ad-buyer-orchestrator/agent/audience"
	bookingx "github.com/tanpawarit/ad-buyer-orchestrator/agent/booking"
	cachex "github.com/tanpawarit/ad-buyer-orchestrator/agent/cache"
	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
	interpreterx "github.com/tanpawarit/ad-buyer-orchestrator/agent/interpreter"
	inventoryx "github.com/tanpawarit/ad-buyer-orchestrator/agent/inventory"
	nodex "github.com/tanpawarit/ad-buyer-orchestrator/agent/nodes"
	pricingx "github.com/tanpawarit/ad-buyer-orchestrator/agent/pricing"
	promptx "github.com/tanpawarit/ad-buyer-orchestrator/agent/prompt"
	telemetryx "github.com/tanpawarit/ad-buyer-orchestrator/pkg/telemetry"
)

// ContextBookingSession is the Action.Context key that ties a call to a
// booking session.
const ContextBookingSession = "booking_session"

var ErrNilSession = errors.New("orchestrator session is required")

type Config struct {
	SellerKey      string        `split_words:"true" default:"default"`
	CacheTTL       time.Duration `split_words:"true" default:"5m"`
	RefreshTimeout time.Duration `split_words:"true" default:"30s"`
}

// AudienceSource publishes a seller's audience capabilities.
type AudienceSource interface {
	Endpoint() string
	DiscoverCapabilities(ctx context.Context) ([]contractx.AudienceCapability, error)
}

type Option func(*Orchestrator)

func WithResolver(r *pricingx.Resolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

func WithMatcher(m *audiencex.Matcher) Option {
	return func(o *Orchestrator) { o.matcher = m }
}

func WithAudienceSource(src AudienceSource) Option {
	return func(o *Orchestrator) { o.audience = src }
}

func WithInterpreter(i contractx.NaturalLanguageInterpreter) Option {
	return func(o *Orchestrator) { o.interpreter = i }
}

func WithPublisher(p contractx.EventPublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

func WithBookingStore(s bookingx.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

func WithPrompts(p promptx.PromptSet) Option {
	return func(o *Orchestrator) { o.prompts = p }
}

func WithTelemetry(in *telemetryx.Instruments) Option {
	return func(o *Orchestrator) { o.telemetry = in }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator routes buyer actions to the adapters of one session and
// drives booking sessions against the structured protocol.
type Orchestrator struct {
	session     *Session
	resolver    *pricingx.Resolver
	matcher     *audiencex.Matcher
	audience    AudienceSource
	interpreter contractx.NaturalLanguageInterpreter
	publisher   contractx.EventPublisher
	store       bookingx.Store
	engine      *inventoryx.Engine
	prompts     promptx.PromptSet
	telemetry   *telemetryx.Instruments

	products  *cachex.Capability[[]contractx.Product]
	audiences *cachex.Capability[[]contractx.AudienceCapability]
	sellerKey string

	dealRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

func New(session *Session, cfg Config, opts ...Option) (*Orchestrator, error) {
	if session == nil {
		return nil, ErrNilSession
	}

	sellerKey := strings.TrimSpace(cfg.SellerKey)
	if sellerKey == "" {
		sellerKey = "default"
	}

	o := &Orchestrator{
		session:   session,
		sellerKey: sellerKey,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	if o.resolver == nil {
		r, err := pricingx.NewResolver(pricingx.DefaultPolicy())
		if err != nil {
			return nil, err
		}
		o.resolver = r
	}
	if o.matcher == nil {
		m, err := audiencex.NewMatcher(audiencex.Config{})
		if err != nil {
			return nil, err
		}
		o.matcher = m
	}
	if o.interpreter == nil {
		o.interpreter = interpreterx.NewRules()
	}
	if o.store == nil {
		o.store = bookingx.NewMemoryStore()
	}
	if o.prompts.DealBrief == "" {
		o.prompts = promptx.LoadPromptSet()
	}
	engine, err := inventoryx.NewEngine()
	if err != nil {
		return nil, err
	}
	o.engine = engine

	cacheOpts := []cachex.Option{cachex.WithClock(o.now), cachex.WithRefreshTimeout(cfg.RefreshTimeout)}
	o.products = cachex.New[[]contractx.Product](cfg.CacheTTL, cacheOpts...)
	o.audiences = cachex.New[[]contractx.AudienceCapability](cfg.CacheTTL, cacheOpts...)

	runner, err := o.compileRequestDealGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.dealRunner = runner

	return o, nil
}

func (o *Orchestrator) Session() *Session { return o.session }

// Close waits for background cache refreshes, then releases the adapters.
func (o *Orchestrator) Close() error {
	o.products.Wait()
	o.audiences.Wait()
	return o.session.Close()
}

// Route picks the protocol for action. An explicit hint always wins.
func Route(action contractx.Action, hint contractx.Protocol) (contractx.Protocol, error) {
	if hint != "" {
		if !hint.Valid() {
			return "", fmt.Errorf("%w: unknown protocol hint %q", contractx.ErrValidation, hint)
		}
		return hint, nil
	}
	if strings.TrimSpace(action.Name) == "" && strings.TrimSpace(action.Text) == "" {
		return "", fmt.Errorf("%w: action needs an operation name or text", contractx.ErrValidation)
	}
	if action.Class() == contractx.ActionExploratory {
		return contractx.ProtocolConversational, nil
	}
	return contractx.ProtocolStructured, nil
}

// Execute runs one action on the routed adapter. Free text sent to the
// structured protocol is interpreted into an operation first. Calls whose
// context names a booking session advance that session.
func (o *Orchestrator) Execute(ctx context.Context, action contractx.Action, hint contractx.Protocol) (contractx.NormalizedResult, error) {
	protocol, err := Route(action, hint)
	if err != nil {
		return contractx.Failed(hint, action.Name, err), err
	}
	adapter, err := o.session.Adapter(protocol)
	if err != nil {
		return contractx.Failed(protocol, action.Name, err), err
	}

	operation, args := strings.TrimSpace(action.Name), action.Args
	if operation == "" {
		if protocol == contractx.ProtocolConversational {
			return o.converse(ctx, action.Text, action.Context)
		}
		intent, err := o.interpreter.Interpret(ctx, action.Text)
		if err != nil {
			return contractx.Failed(protocol, "", err), err
		}
		if intent.Operation == "" {
			err := fmt.Errorf("%w: no structured operation matches %q", contractx.ErrValidation, action.Text)
			return contractx.Failed(protocol, "", err), err
		}
		log.Debug().
			Str("operation", intent.Operation).
			Float64("confidence", intent.Confidence).
			Msg("interpreted free text for structured protocol")
		operation, args = intent.Operation, intent.Args
	}

	if sessionID := bookingSessionID(action.Context); sessionID != "" {
		bs, err := o.StartBooking(ctx, sessionID)
		if err != nil {
			return contractx.Failed(protocol, operation, err), err
		}
		return bs.execute(ctx, adapter, operation, args)
	}

	res, err := adapter.Execute(ctx, operation, args)
	if err != nil {
		return res, err
	}
	o.observe(operation, res)
	return res, nil
}

func (o *Orchestrator) converse(ctx context.Context, text string, msgContext map[string]any) (contractx.NormalizedResult, error) {
	conv := o.session.Conversational()
	ctx, end := o.telemetry.StartCall(ctx, string(conv.Protocol()), "send_message")
	reply, err := conv.SendMessage(ctx, text, msgContext)
	end(err)
	if err != nil {
		return contractx.Failed(conv.Protocol(), "send_message", err), err
	}
	return reply.Result("send_message"), nil
}

// observe keeps the capability cache in step with successful catalog
// reads.
func (o *Orchestrator) observe(operation string, res contractx.NormalizedResult) {
	if operation != "list_products" || res.Data == nil {
		return
	}
	products, err := inventoryx.Products(res.Data)
	if err != nil {
		log.Warn().Err(err).Str("operation", operation).Msg("skip caching undecodable product list")
		return
	}
	o.products.Put(o.sellerKey, products)
	log.Debug().Str("seller", o.sellerKey).Int("products", len(products)).Msg("product catalog cached")
}

func bookingSessionID(ctx map[string]any) string {
	v, ok := ctx[ContextBookingSession].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}
