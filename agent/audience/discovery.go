package audience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

const maxManifestBytes = 8 << 20

type ClientConfig struct {
	Endpoint     string        `split_words:"true"`
	Timeout      time.Duration `split_words:"true" default:"10s"`
	ModelID      string        `split_words:"true" default:"ucp-embedding-v1"`
	ModelVersion string        `split_words:"true" default:"1.0.0"`
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// Client fetches seller audience capability manifests over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
	headers    map[string]string
	model      contractx.ModelDescriptor
}

func NewClient(cfg ClientConfig, opts ...ClientOption) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("ucp capability endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid ucp endpoint: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		headers:    make(map[string]string),
		model: contractx.ModelDescriptor{
			ID:      strings.TrimSpace(cfg.ModelID),
			Version: strings.TrimSpace(cfg.ModelVersion),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Endpoint doubles as the cache key of the seller.
func (c *Client) Endpoint() string { return c.endpoint }

type manifest struct {
	Capabilities []json.RawMessage `json:"capabilities"`
}

// DiscoverCapabilities returns the seller's usable capabilities. Entries
// that fail validation or use an incompatible model are skipped.
func (c *Client) DiscoverCapabilities(ctx context.Context) ([]contractx.AudienceCapability, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build capability request: %v", contractx.ErrValidation, err)
	}
	req.Header.Set("Accept", ContentType)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, contractx.NewTransportError("discover_capabilities", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, contractx.NewTransportError("discover_capabilities", err)
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, contractx.NewTransportError("discover_capabilities", fmt.Errorf("status=%d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, contractx.NewProtocolError("discover_capabilities", strings.TrimSpace(string(raw)))
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, contractx.NewProtocolError("discover_capabilities", fmt.Sprintf("decode manifest: %v", err))
	}

	out := make([]contractx.AudienceCapability, 0, len(m.Capabilities))
	for _, item := range m.Capabilities {
		var capability contractx.AudienceCapability
		if err := json.Unmarshal(item, &capability); err != nil {
			log.Warn().Err(err).Str("seller", c.endpoint).Msg("skip undecodable audience capability")
			continue
		}
		if err := c.accept(capability); err != nil {
			log.Warn().Err(err).Str("seller", c.endpoint).Str("capability_id", capability.ID).Msg("skip audience capability")
			continue
		}
		if capability.Embedding.Model.Metric == "" {
			capability.Embedding.Model.Metric = contractx.MetricCosine
		}
		out = append(out, capability)
	}
	return out, nil
}

func (c *Client) accept(capability contractx.AudienceCapability) error {
	if strings.TrimSpace(capability.ID) == "" {
		return fmt.Errorf("%w: capability id is missing", contractx.ErrValidation)
	}
	if err := ValidateEmbedding(capability.Embedding); err != nil {
		return err
	}
	ok, err := CompatibleModel(c.model, capability.Embedding.Model)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: model %s@%s is not compatible with %s@%s", contractx.ErrValidation,
			capability.Embedding.Model.ID, capability.Embedding.Model.Version, c.model.ID, c.model.Version)
	}
	return nil
}
