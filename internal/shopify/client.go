package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrUnavailable marks transport-level failures: connection errors, 5xx
// responses, rate limiting and an open circuit breaker. Callers treat
// these as recoverable.
var ErrUnavailable = errors.New("storefront api unavailable")

const defaultAPIVersion = "2024-07"

type Config struct {
	// ShopDomain is the myshopify domain, e.g. "acme.myshopify.com".
	ShopDomain string
	// AccessToken is the public Storefront API access token.
	AccessToken string
	// APIVersion defaults to defaultAPIVersion when empty.
	APIVersion string
	// Timeout bounds a single request. Defaults to 10s.
	Timeout time.Duration
}

// Client is a minimal Storefront GraphQL client shared by the cart
// gateway and the product catalog source.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[[]byte]
	log      logrus.FieldLogger
}

func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	version := cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:     "storefront-api",
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Only transport failures count against the breaker;
			// application-level userErrors come back as nil here.
			return !errors.Is(err, ErrUnavailable)
		},
	})

	return &Client{
		endpoint: fmt.Sprintf("https://%s/api/%s/graphql.json", strings.TrimSuffix(cfg.ShopDomain, "/"), version),
		token:    cfg.AccessToken,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: breaker,
		log:     log,
	}
}

// NewClientWithEndpoint is used by tests to point the client at a local
// HTTP server instead of a real shop.
func NewClientWithEndpoint(endpoint, token string, log logrus.FieldLogger) *Client {
	c := NewClient(Config{ShopDomain: "placeholder"}, log)
	c.endpoint = endpoint
	c.token = token
	return c
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// Query posts a GraphQL document and decodes the "data" payload into out.
// Top-level GraphQL errors are returned as a plain error; transport and
// server failures are wrapped with ErrUnavailable.
func (c *Client) Query(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	data, err := c.breaker.Execute(func() ([]byte, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return err
	}

	var envelope graphqlEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("storefront api error: %s", envelope.Errors[0].Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("%w: decode data: %v", ErrUnavailable, err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Storefront-Access-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storefront api status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}
