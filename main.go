package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	audiencex "github.com/tanpawarit/ad-buyer-orchestrator/agent/audience"
	bookingx "github.com/tanpawarit/ad-buyer-orchestrator/agent/booking"
	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
	interpreterx "github.com/tanpawarit/ad-buyer-orchestrator/agent/interpreter"
	llmx "github.com/tanpawarit/ad-buyer-orchestrator/agent/llm"
	orchestratorx "github.com/tanpawarit/ad-buyer-orchestrator/agent/orchestrator"
	pricingx "github.com/tanpawarit/ad-buyer-orchestrator/agent/pricing"
	promptx "github.com/tanpawarit/ad-buyer-orchestrator/agent/prompt"
	conversationalx "github.com/tanpawarit/ad-buyer-orchestrator/agent/protocol/conversational"
	structuredx "github.com/tanpawarit/ad-buyer-orchestrator/agent/protocol/structured"
	configx "github.com/tanpawarit/ad-buyer-orchestrator/pkg/config"
	_ "github.com/tanpawarit/ad-buyer-orchestrator/pkg/logger/autoload"
	qstashx "github.com/tanpawarit/ad-buyer-orchestrator/pkg/qstash"
	retryx "github.com/tanpawarit/ad-buyer-orchestrator/pkg/retry"
	telemetryx "github.com/tanpawarit/ad-buyer-orchestrator/pkg/telemetry"
)

type AppConfig struct {
	BookingStore      string        `envconfig:"BOOKING_STORE" default:"memory"`
	BookingSQLitePath string        `envconfig:"BOOKING_SQLITE_PATH" default:"booking.db"`
	PricingPolicyFile string        `envconfig:"PRICING_POLICY_FILE"`
	FailedBookingAge  time.Duration `envconfig:"FAILED_BOOKING_AGE" default:"0s"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("buyer orchestrator stopped")
	}
}

func run(ctx context.Context) error {
	appCfg := configx.MustNew[AppConfig]("")
	identity := configx.MustNew[contractx.BuyerIdentity]("BUYER")
	retryPolicy := configx.MustNew[retryx.Policy]("RETRY")
	telemetry := telemetryx.New()
	prompts := promptx.LoadPromptSet()

	store, err := openBookingStore(*appCfg)
	if err != nil {
		return err
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	structuredCfg := configx.MustNew[structuredx.Config]("STRUCTURED")
	structured, err := structuredx.New(*structuredCfg,
		structuredx.WithIdentity(*identity),
		structuredx.WithRetryPolicy(*retryPolicy),
		structuredx.WithTelemetry(telemetry),
	)
	if err != nil {
		return err
	}

	interpreter, err := newInterpreter(ctx, prompts, structured.Catalog())
	if err != nil {
		return err
	}

	conversationalCfg := configx.MustNew[conversationalx.Config]("CONVERSATIONAL")
	conversational, err := conversationalx.New(*conversationalCfg,
		conversationalx.WithIdentity(*identity),
		conversationalx.WithRetryPolicy(*retryPolicy),
		conversationalx.WithTelemetry(telemetry),
		conversationalx.WithDescriber(interpreter),
	)
	if err != nil {
		return err
	}

	session, err := orchestratorx.NewSession(*identity, structured, conversational)
	if err != nil {
		return err
	}

	opts := []orchestratorx.Option{
		orchestratorx.WithBookingStore(store),
		orchestratorx.WithInterpreter(interpreter),
		orchestratorx.WithPrompts(prompts),
		orchestratorx.WithTelemetry(telemetry),
	}
	if path := strings.TrimSpace(appCfg.PricingPolicyFile); path != "" {
		policy, err := pricingx.LoadPolicy(path)
		if err != nil {
			return err
		}
		resolver, err := pricingx.NewResolver(policy)
		if err != nil {
			return err
		}
		opts = append(opts, orchestratorx.WithResolver(resolver))
	}

	matcher, err := audiencex.NewMatcher(*configx.MustNew[audiencex.Config]("AUDIENCE"))
	if err != nil {
		return err
	}
	opts = append(opts, orchestratorx.WithMatcher(matcher))
	if ucpCfg := configx.MustNew[audiencex.ClientConfig]("UCP"); strings.TrimSpace(ucpCfg.Endpoint) != "" {
		ucp, err := audiencex.NewClient(*ucpCfg, audiencex.WithHeaders(identity.Headers()))
		if err != nil {
			return err
		}
		opts = append(opts, orchestratorx.WithAudienceSource(ucp))
	}

	if qstashCfg := configx.MustNew[qstashx.Config]("QSTASH"); qstashCfg.Enabled() {
		opts = append(opts, orchestratorx.WithPublisher(qstashx.MustNew(*qstashCfg)))
	}

	orch, err := orchestratorx.New(session, *configx.MustNew[orchestratorx.Config]("CACHE"), opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := orch.Close(); err != nil {
			log.Warn().Err(err).Msg("close orchestrator session")
		}
	}()

	if err := session.ConnectBoth(ctx); err != nil {
		return err
	}
	if card, ok := conversational.AgentCard(); ok {
		log.Info().Str("agent", card.Name).Int("skills", len(card.Skills)).Msg("seller agent connected")
	}
	reportFailedBookings(ctx, store, appCfg.FailedBookingAge)

	products, err := orch.ListProducts(ctx)
	if err != nil {
		return err
	}
	tier := pricingx.ResolveTier(session.Identity())
	log.Info().Int("products", len(products)).Str("tier", tier.String()).Msg("seller catalog loaded")
	return nil
}

func openBookingStore(cfg AppConfig) (bookingx.Store, error) {
	switch backend := strings.ToLower(strings.TrimSpace(cfg.BookingStore)); backend {
	case "", "memory":
		return bookingx.NewMemoryStore(), nil
	case "redis":
		return bookingx.NewRedisStore(*configx.MustNew[bookingx.RedisConfig]("REDIS"))
	case "upstash":
		return bookingx.NewUpstashRedisStore(*configx.MustNew[bookingx.UpstashRedisConfig]("UPSTASH_REDIS"))
	case "sqlite":
		return bookingx.OpenSQLite(cfg.BookingSQLitePath)
	default:
		return nil, fmt.Errorf("unknown booking store backend %q", backend)
	}
}

// reportFailedBookings lists the sessions parked in Failed so an operator
// can resume them. Only stores that can query by state report.
func reportFailedBookings(ctx context.Context, store bookingx.Store, olderThan time.Duration) {
	lister, ok := store.(interface {
		Failed(context.Context, time.Duration) ([]string, error)
	})
	if !ok {
		return
	}
	ids, err := lister.Failed(ctx, olderThan)
	if err != nil {
		log.Warn().Err(err).Msg("list failed booking sessions")
		return
	}
	if len(ids) > 0 {
		log.Warn().Strs("sessions", ids).Msg("booking sessions awaiting resume")
	}
}

// newInterpreter uses the configured model when there is one and the
// rule-based interpreter otherwise.
func newInterpreter(ctx context.Context, prompts promptx.PromptSet, catalog *structuredx.Catalog) (contractx.NaturalLanguageInterpreter, error) {
	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")
	if !llmCfg.Enabled() {
		log.Info().Msg("no model configured, using rule-based interpreter")
		return interpreterx.NewRules(), nil
	}
	if err := llmCfg.Validate(); err != nil {
		return nil, err
	}
	routerCfg := llmCfg.OpenRouterFor(llmx.RoleInterpreter)
	chatModel, err := routerCfg.New(ctx)
	if err != nil {
		return nil, err
	}
	return interpreterx.NewLLM(ctx, chatModel, prompts.Interpreter, catalog)
}
