package conversational

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
	retryx "github.com/tanpawarit/ad-buyer-orchestrator/pkg/retry"
	telemetryx "github.com/tanpawarit/ad-buyer-orchestrator/pkg/telemetry"
)

const maxResponseSizeBytes = 4 << 20

type Config struct {
	BaseURL   string        `split_words:"true"`
	AgentType string        `split_words:"true" default:"buyer"`
	Timeout   time.Duration `split_words:"true" default:"60s"`
}

// Describer renders a structured operation as text.
type Describer interface {
	Describe(ctx context.Context, operation string, args map[string]any) (string, error)
}

type Option func(*Adapter)

func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

func WithIdentity(identity contractx.BuyerIdentity) Option {
	return func(a *Adapter) { a.headers = identity.Headers() }
}

func WithDescriber(d Describer) Option {
	return func(a *Adapter) {
		if d != nil {
			a.describer = d
		}
	}
}

func WithRetryPolicy(p retryx.Policy) Option {
	return func(a *Adapter) { a.policy = p }
}

func WithTelemetry(in *telemetryx.Instruments) Option {
	return func(a *Adapter) { a.telemetry = in }
}

// AgentCard is the seller agent's self description.
type AgentCard struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Version     string  `json:"version,omitempty"`
	Skills      []Skill `json:"skills,omitempty"`
}

type Skill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Adapter is the conversational ProtocolAdapter speaking A2A JSON-RPC.
type Adapter struct {
	jsonrpcURL   string
	agentCardURL string
	httpClient   *http.Client
	headers      map[string]string
	describer    Describer
	policy       retryx.Policy
	telemetry    *telemetryx.Instruments

	mu        sync.RWMutex
	card      *AgentCard
	contextID string
}

var _ contractx.Conversational = (*Adapter)(nil)

func New(cfg Config, opts ...Option) (*Adapter, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("conversational adapter base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid a2a base url: %w", err)
	}
	agent := strings.TrimSpace(cfg.AgentType)
	if agent == "" {
		agent = "buyer"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	a := &Adapter{
		jsonrpcURL:   fmt.Sprintf("%s/a2a/%s/jsonrpc", base, agent),
		agentCardURL: fmt.Sprintf("%s/a2a/%s/.well-known/agent-card.json", base, agent),
		httpClient:   &http.Client{Timeout: timeout},
		describer:    NewRenderer(),
		policy:       retryx.DefaultPolicy,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.policy.AttemptTimeout = timeout
	return a, nil
}

func (a *Adapter) Protocol() contractx.Protocol { return contractx.ProtocolConversational }

// Connect fetches the agent card. A reachable agent without a card is
// not considered connected.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.IsConnected() {
		return nil
	}
	card, err := retryx.Do(ctx, a.policy, "agent_card", func(ctx context.Context) (*AgentCard, error) {
		raw, err := a.do(ctx, http.MethodGet, a.agentCardURL, nil, "agent_card")
		if err != nil {
			return nil, err
		}
		var card AgentCard
		if err := json.Unmarshal(raw, &card); err != nil {
			return nil, contractx.NewProtocolError("agent_card", fmt.Sprintf("decode agent card: %v", err))
		}
		return &card, nil
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.card = card
	a.mu.Unlock()
	log.Info().Str("protocol", string(a.Protocol())).Str("agent", card.Name).Int("skills", len(card.Skills)).Msg("conversational adapter connected")
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.card != nil
}

// Close forgets the agent card and the conversation context.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.card = nil
	a.contextID = ""
	return nil
}

// AgentCard is the card read by the last Connect.
func (a *Adapter) AgentCard() (AgentCard, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.card == nil {
		return AgentCard{}, false
	}
	return *a.card, true
}

// ContextID is the conversation the next message continues.
func (a *Adapter) ContextID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.contextID
}

// Execute phrases the operation as text and sends it. The result carries
// whatever structured data the seller returned; callers must not rely on
// the wording.
func (a *Adapter) Execute(ctx context.Context, operation string, args map[string]any) (contractx.NormalizedResult, error) {
	operation = strings.TrimSpace(operation)
	if operation == "" {
		err := fmt.Errorf("%w: operation is required", contractx.ErrValidation)
		return contractx.Failed(a.Protocol(), operation, err), err
	}
	text, err := a.describer.Describe(ctx, operation, args)
	if err != nil {
		return contractx.Failed(a.Protocol(), operation, err), err
	}

	msgContext := map[string]any{"operation": operation}
	if len(args) > 0 {
		msgContext["arguments"] = args
	}
	reply, err := a.send(ctx, operation, text, msgContext)
	if err != nil {
		return contractx.Failed(a.Protocol(), operation, err), err
	}
	return reply.Result(operation), nil
}

func (a *Adapter) SendMessage(ctx context.Context, text string, msgContext map[string]any) (contractx.ConversationReply, error) {
	return a.send(ctx, "send_message", text, msgContext)
}

type part struct {
	Kind string         `json:"kind"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

type a2aMessage struct {
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	Parts     []part `json:"parts"`
}

type sendParams struct {
	Message   a2aMessage `json:"message"`
	ContextID string     `json:"contextId,omitempty"`
}

type rpcRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	Method  string     `json:"method"`
	Params  sendParams `json:"params"`
	ID      string     `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResult struct {
	TaskID    string `json:"taskId"`
	ContextID string `json:"contextId"`
	Parts     []part `json:"parts"`
}

type rpcResponse struct {
	Result *rpcResult `json:"result"`
	Error  *rpcError  `json:"error"`
}

func (a *Adapter) send(ctx context.Context, operation, text string, msgContext map[string]any) (contractx.ConversationReply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return contractx.ConversationReply{}, fmt.Errorf("%w: message text is empty", contractx.ErrValidation)
	}
	if !a.IsConnected() {
		return contractx.ConversationReply{}, fmt.Errorf("%w: conversational adapter is not connected", contractx.ErrAdapterUnavailable)
	}

	parts := []part{{Kind: "text", Text: text}}
	if len(msgContext) > 0 {
		parts = append(parts, part{Kind: "data", Data: msgContext})
	}
	// Retries resend the same message id.
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "message/send",
		Params: sendParams{
			Message:   a2aMessage{MessageID: uuid.NewString(), Role: "user", Parts: parts},
			ContextID: a.ContextID(),
		},
		ID: uuid.NewString(),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return contractx.ConversationReply{}, fmt.Errorf("%w: marshal a2a request: %v", contractx.ErrValidation, err)
	}

	ctx, end := a.telemetry.StartCall(ctx, string(a.Protocol()), operation)
	reply, err := retryx.Do(ctx, a.policy, operation, func(ctx context.Context) (contractx.ConversationReply, error) {
		raw, err := a.do(ctx, http.MethodPost, a.jsonrpcURL, body, operation)
		if err != nil {
			return contractx.ConversationReply{}, err
		}
		return decodeReply(operation, raw)
	})
	end(err)
	if err != nil {
		return contractx.ConversationReply{}, err
	}

	if reply.ContextID != "" {
		a.mu.Lock()
		a.contextID = reply.ContextID
		a.mu.Unlock()
	}
	return reply, nil
}

func decodeReply(operation string, raw []byte) (contractx.ConversationReply, error) {
	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return contractx.ConversationReply{}, contractx.NewProtocolError(operation, fmt.Sprintf("decode a2a response: %v", err))
	}
	if resp.Error != nil {
		msg := resp.Error.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return contractx.ConversationReply{}, contractx.NewProtocolError(operation, msg)
	}
	if resp.Result == nil {
		return contractx.ConversationReply{}, contractx.NewProtocolError(operation, "a2a response has no result")
	}

	reply := contractx.ConversationReply{ContextID: resp.Result.ContextID}
	var texts []string
	for _, p := range resp.Result.Parts {
		switch p.Kind {
		case "text":
			texts = append(texts, p.Text)
		case "data":
			if p.Data == nil {
				p.Data = map[string]any{}
			}
			reply.Extracted = append(reply.Extracted, p.Data)
		}
	}
	reply.Text = strings.Join(texts, "\n")
	return reply, nil
}

func (a *Adapter) do(ctx context.Context, method, target string, body []byte, operation string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: build a2a request: %v", contractx.ErrValidation, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, contractx.NewTransportError(operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, contractx.NewTransportError(operation, err)
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return nil, contractx.NewTransportError(operation, fmt.Errorf("a2a http status=%d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, contractx.NewProtocolError(operation, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
