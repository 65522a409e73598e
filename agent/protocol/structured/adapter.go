package structured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
	retryx "github.com/tanpawarit/ad-buyer-orchestrator/pkg/retry"
	telemetryx "github.com/tanpawarit/ad-buyer-orchestrator/pkg/telemetry"
)

type Config struct {
	Endpoint      string        `split_words:"true"`
	Timeout       time.Duration `split_words:"true" default:"30s"`
	RatePerSecond float64       `split_words:"true" default:"10"`
	Burst         int           `split_words:"true" default:"5"`
	ClientName    string        `split_words:"true" default:"ad-buyer"`
	ClientVersion string        `split_words:"true" default:"0.1.0"`
}

// TransportFunc opens the MCP transport. Tests swap in an in-memory one.
type TransportFunc func(ctx context.Context) (mcp.Transport, error)

// toolSession is the part of *mcp.ClientSession the adapter uses.
type toolSession interface {
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	Close() error
}

type Option func(*Adapter)

func WithTransport(fn TransportFunc) Option {
	return func(a *Adapter) {
		if fn != nil {
			a.dial = fn
		}
	}
}

func WithRetryPolicy(p retryx.Policy) Option {
	return func(a *Adapter) { a.policy = p }
}

func WithTelemetry(in *telemetryx.Instruments) Option {
	return func(a *Adapter) { a.telemetry = in }
}

func WithIdentity(identity contractx.BuyerIdentity) Option {
	return func(a *Adapter) { a.identity = identity.Normalize() }
}

func WithCatalog(c *Catalog) Option {
	return func(a *Adapter) {
		if c != nil {
			a.catalog = c
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// Adapter is the structured ProtocolAdapter: one MCP tool call per
// OpenDirect operation.
type Adapter struct {
	cfg        Config
	catalog    *Catalog
	validator  *Validator
	limiter    *rate.Limiter
	policy     retryx.Policy
	telemetry  *telemetryx.Instruments
	identity   contractx.BuyerIdentity
	httpClient *http.Client
	dial       TransportFunc

	connectMu  sync.Mutex
	mu         sync.RWMutex
	session    toolSession
	advertised map[string]bool
}

var _ contractx.ProtocolAdapter = (*Adapter)(nil)

func New(cfg Config, opts ...Option) (*Adapter, error) {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if strings.TrimSpace(cfg.ClientName) == "" {
		cfg.ClientName = "ad-buyer"
	}
	if strings.TrimSpace(cfg.ClientVersion) == "" {
		cfg.ClientVersion = "0.1.0"
	}

	a := &Adapter{
		cfg:     cfg,
		catalog: DefaultCatalog(),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		policy:  retryx.DefaultPolicy,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if cfg.Timeout > 0 {
		a.policy.AttemptTimeout = cfg.Timeout
	}
	a.validator = NewValidator(a.catalog)

	if a.dial == nil {
		endpoint := strings.TrimSpace(cfg.Endpoint)
		if endpoint == "" {
			return nil, errors.New("structured adapter endpoint is required")
		}
		a.dial = a.streamableTransport(endpoint)
	}
	return a, nil
}

func (a *Adapter) streamableTransport(endpoint string) TransportFunc {
	return func(context.Context) (mcp.Transport, error) {
		base := a.httpClient
		if base == nil {
			base = &http.Client{}
		}
		client := *base
		client.Transport = &headerTransport{base: base.Transport, headers: a.identity.Headers()}
		return &mcp.StreamableClientTransport{Endpoint: endpoint, HTTPClient: &client}, nil
	}
}

func (a *Adapter) Protocol() contractx.Protocol { return contractx.ProtocolStructured }

func (a *Adapter) Catalog() *Catalog { return a.catalog }

// Connect opens the MCP session and records which tools the seller
// advertises. Connecting an open adapter is a no-op.
func (a *Adapter) Connect(ctx context.Context) error {
	a.connectMu.Lock()
	defer a.connectMu.Unlock()
	if a.IsConnected() {
		return nil
	}

	transport, err := a.dial(ctx)
	if err != nil {
		return contractx.NewTransportError("connect", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: a.cfg.ClientName, Version: a.cfg.ClientVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return contractx.NewTransportError("connect", err)
	}

	advertised, err := listTools(ctx, session)
	if err != nil {
		_ = session.Close()
		return contractx.NewTransportError("list_tools", err)
	}
	a.install(session, advertised)
	return nil
}

func (a *Adapter) install(session toolSession, advertised map[string]bool) {
	var missing []string
	for _, name := range a.catalog.Names() {
		if !advertised[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		log.Warn().Strs("operations", missing).Msg("seller does not advertise every opendirect operation")
	}

	a.mu.Lock()
	a.session = session
	a.advertised = advertised
	a.mu.Unlock()
	log.Info().Str("protocol", string(a.Protocol())).Int("tools", len(advertised)).Msg("structured adapter connected")
}

func listTools(ctx context.Context, session toolSession) (map[string]bool, error) {
	out := make(map[string]bool)
	params := &mcp.ListToolsParams{}
	for {
		res, err := session.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, t := range res.Tools {
			if t != nil {
				out[t.Name] = true
			}
		}
		if res.NextCursor == "" {
			return out, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session != nil
}

// Close releases the session. It is safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	session := a.session
	a.session = nil
	a.advertised = nil
	a.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

// Execute validates args locally, then calls the tool with retries on
// transport failures. Writes are retried only when they carry an
// idempotencyKey. Tool-level errors surface as ProtocolError with the
// seller's text intact.
func (a *Adapter) Execute(ctx context.Context, operation string, args map[string]any) (contractx.NormalizedResult, error) {
	op, err := a.validator.Validate(operation, args)
	if err != nil {
		return contractx.Failed(a.Protocol(), operation, err), err
	}

	a.mu.RLock()
	session, advertised := a.session, a.advertised
	a.mu.RUnlock()
	if session == nil {
		err := fmt.Errorf("%w: structured adapter is not connected", contractx.ErrAdapterUnavailable)
		return contractx.Failed(a.Protocol(), op.Name, err), err
	}
	if len(advertised) > 0 && !advertised[op.Name] {
		err := contractx.NewProtocolError(op.Name, "operation is not offered by the seller")
		return contractx.Failed(a.Protocol(), op.Name, err), err
	}

	policy := a.policy
	if op.Mutating() && !hasIdempotencyKey(args) {
		// A redelivered write without a key can duplicate the entity.
		policy.MaximumAttempts = 1
	}

	params := &mcp.CallToolParams{Name: op.Name, Arguments: cloneArgs(args)}
	ctx, end := a.telemetry.StartCall(ctx, string(a.Protocol()), op.Name)
	res, err := retryx.Do(ctx, policy, op.Name, func(ctx context.Context) (*mcp.CallToolResult, error) {
		if err := a.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, contractx.NewTransportError(op.Name, err)
		}
		out, err := session.CallTool(ctx, params)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, contractx.NewTransportError(op.Name, err)
		}
		if out.IsError {
			return out, contractx.NewProtocolError(op.Name, resultText(out))
		}
		return out, nil
	})
	end(err)
	if err != nil {
		log.Debug().Err(err).Str("protocol", string(a.Protocol())).Str("operation", op.Name).Msg("structured call failed")
		return contractx.Failed(a.Protocol(), op.Name, err), err
	}
	return decodeResult(op.Name, res), nil
}

func hasIdempotencyKey(args map[string]any) bool {
	key, ok := args["idempotencyKey"].(string)
	return ok && strings.TrimSpace(key) != ""
}

func decodeResult(operation string, res *mcp.CallToolResult) contractx.NormalizedResult {
	out := contractx.NormalizedResult{
		Success:   true,
		Protocol:  contractx.ProtocolStructured,
		Operation: operation,
		Text:      resultText(res),
		Raw:       res,
	}
	if res == nil {
		return out
	}
	if res.StructuredContent != nil {
		out.Data = normalizeData(res.StructuredContent)
		return out
	}
	for _, c := range res.Content {
		tc, ok := c.(*mcp.TextContent)
		if !ok {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(tc.Text), &v); err == nil {
			out.Data = v
		}
		break
	}
	return out
}

// normalizeData gives structured content the shape json.Unmarshal would
// produce, whatever decoded it.
func normalizeData(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func resultText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// headerTransport stamps buyer identity headers on every MCP request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if len(t.headers) == 0 {
		return base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return base.RoundTrip(r)
}
