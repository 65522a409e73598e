package qstash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

const maxResponseSizeBytes = 1 << 20

type Config struct {
	URL         string        `split_words:"true" default:"https://qstash.upstash.io"`
	Token       string        `split_words:"true"`
	Destination string        `split_words:"true"`
	Retries     int           `split_words:"true" default:"3"`
	Timeout     time.Duration `split_words:"true" default:"10s"`
}

// Enabled reports whether events should be published at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Token) != "" && strings.TrimSpace(c.Destination) != ""
}

var _ contractx.EventPublisher = (*Client)(nil)

type Client struct {
	baseURL     string
	token       string
	destination string
	retries     int
	httpClient  *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("qstash url is required")
	}

	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("qstash token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       strings.TrimSpace(cfg.Token),
		destination: strings.TrimSpace(cfg.Destination),
		retries:     cfg.Retries,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

func MustNew(cfg Config, opts ...ClientOption) *Client {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return client
}

// Message is one publish request.
type Message struct {
	Destination     string
	Body            []byte
	DeduplicationID string
	Headers         map[string]string
}

type publishResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// Publish hands msg to QStash and returns the message id it assigned.
func (c *Client) Publish(ctx context.Context, msg Message) (string, error) {
	destination := strings.TrimSpace(msg.Destination)
	if destination == "" {
		destination = c.destination
	}
	if destination == "" {
		return "", fmt.Errorf("%w: qstash destination is required", contractx.ErrValidation)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v2/publish/"+destination, bytes.NewReader(msg.Body))
	if err != nil {
		return "", fmt.Errorf("build qstash request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	if c.retries > 0 {
		req.Header.Set("Upstash-Retries", strconv.Itoa(c.retries))
	}
	if msg.DeduplicationID != "" {
		req.Header.Set("Upstash-Deduplication-Id", msg.DeduplicationID)
	}
	for k, v := range msg.Headers {
		req.Header.Set("Upstash-Forward-"+k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", contractx.NewTransportError("qstash_publish", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return "", contractx.NewTransportError("qstash_publish", err)
	}

	var out publishResponse
	_ = json.Unmarshal(raw, &out)
	switch {
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return "", contractx.NewTransportError("qstash_publish", fmt.Errorf("status=%d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", contractx.NewProtocolError("qstash_publish", msg)
	}
	return out.MessageID, nil
}

type dealIssuedEvent struct {
	Type string         `json:"type"`
	Deal contractx.Deal `json:"deal"`
}

// PublishDealIssued emits a deal.issued event deduplicated by deal id.
func (c *Client) PublishDealIssued(ctx context.Context, deal contractx.Deal) error {
	body, err := json.Marshal(dealIssuedEvent{Type: "deal.issued", Deal: deal})
	if err != nil {
		return fmt.Errorf("marshal deal event: %w", err)
	}
	id, err := c.Publish(ctx, Message{
		Body:            body,
		DeduplicationID: deal.ID,
		Headers:         map[string]string{"Event-Type": "deal.issued"},
	})
	if err != nil {
		return err
	}
	log.Debug().Str("deal_id", deal.ID).Str("message_id", id).Msg("deal event published")
	return nil
}
