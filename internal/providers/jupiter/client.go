// Package jupiter is a quote client for the Jupiter swap aggregator.
package jupiter

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
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/tradecore/internal/net/ratelimit"
	"github.com/sawpanic/tradecore/internal/sellability"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("jupiter circuit open")

// error codes Jupiter uses when a pair simply has no route
var noRouteCodes = []string{"COULD_NOT_FIND_ANY_ROUTE", "TOKEN_NOT_TRADABLE", "NO_ROUTES_FOUND"}

// Config configures the quote client
type Config struct {
	BaseURL         string        `yaml:"base_url"`         // Default: https://quote-api.jup.ag
	APIKey          string        `yaml:"api_key"`          // optional x-api-key header
	Timeout         time.Duration `yaml:"timeout"`          // Default: 8s
	RPS             float64       `yaml:"rps"`              // Default: 5
	Burst           int           `yaml:"burst"`            // Default: 5
	BreakerFailures uint32        `yaml:"breaker_failures"` // Default: 5
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"` // Default: 30s
}

// DefaultConfig returns settings for the public endpoint
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://quote-api.jup.ag",
		Timeout:         8 * time.Second,
		RPS:             5,
		Burst:           5,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// StatusError is a non-200 response that is not a missing route
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jupiter quote status %d: %s", e.Code, e.Body)
}

// Client implements sellability.QuoteProvider
type Client struct {
	base    string
	apiKey  string
	http    *http.Client
	limiter *ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewClient builds a client with its own rate limiter and circuit breaker
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}

	c := &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: ratelimit.NewLimiter(cfg.RPS, cfg.Burst),
		logger:  logger.With().Str("component", "jupiter").Logger(),
	}

	failures := cfg.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "jupiter-quote",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return c
}

// WithHTTPClient swaps the transport, mainly for tests
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// BreakerState reports the breaker state as closed, half-open or open
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// Quote fetches a quote. A pair with no route yields an empty OutAmount and no error.
func (c *Client) Quote(ctx context.Context, req sellability.QuoteRequest) (*sellability.Quote, error) {
	if err := c.limiter.Wait(ctx, "quote"); err != nil {
		return nil, fmt.Errorf("failed to acquire quote slot: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, err
	}
	return out.(*sellability.Quote), nil
}

func (c *Client) fetch(ctx context.Context, req sellability.QuoteRequest) (*sellability.Quote, error) {
	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", req.Amount.Truncate(0).String())
	q.Set("slippageBps", fmt.Sprintf("%d", req.SlippageBps))
	q.Set("onlyDirectRoutes", "false")
	u := c.base + "/v6/quote?" + q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to request quote: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read quote response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if isNoRoute(body) {
			c.logger.Debug().Str("input", req.InputMint).Str("output", req.OutputMint).Msg("no route")
			return &sellability.Quote{}, nil
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	var raw quoteResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}

	return &sellability.Quote{
		OutAmount:      string(raw.OutAmount),
		PriceImpactPct: string(raw.PriceImpactPct),
	}, nil
}

type quoteResponse struct {
	InputMint      string     `json:"inputMint"`
	OutputMint     string     `json:"outputMint"`
	InAmount       flexString `json:"inAmount"`
	OutAmount      flexString `json:"outAmount"`
	SlippageBps    int        `json:"slippageBps"`
	PriceImpactPct flexString `json:"priceImpactPct"`
}

// flexString accepts a JSON string, number or null
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func isNoRoute(body []byte) bool {
	var e struct {
		Error     string `json:"error"`
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return false
	}
	for _, code := range noRouteCodes {
		if e.ErrorCode == code || strings.Contains(e.Error, code) {
			return true
		}
	}
	return false
}

// countsAsSuccess keeps caller cancellations and 4xx rejections from tripping the breaker
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests
	}
	return false
}
