// Package sellability vets a token with a simulated buy-then-sell quote round trip before any new buy.
package sellability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// QuoteRequest asks for a swap quote. Amount is in the input token's smallest units.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      decimal.Decimal
	SlippageBps int
}

// Quote is the provider response. An empty or zero OutAmount means no route, not an error.
type Quote struct {
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
}

// QuoteProvider is the black-box quote oracle
type QuoteProvider interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
}

// FailReason names why a token failed the check
type FailReason string

const (
	FailNone              FailReason = ""
	FailBuyQuoteZero      FailReason = "BUY_QUOTE_ZERO"
	FailSellQuoteFailed   FailReason = "SELL_QUOTE_FAILED"
	FailSellQuoteZero     FailReason = "SELL_QUOTE_ZERO"
	FailRoundTripRatioLow FailReason = "ROUNDTRIP_RATIO_LOW"
	FailSellImpactHigh    FailReason = "SELL_IMPACT_HIGH"
	FailCheckError        FailReason = "CHECK_ERROR"
)

// Config holds the round-trip bounds and the two sell-leg policy constants
type Config struct {
	NativeMint             string  `yaml:"native_mint"`
	MinRoundTripRatio      float64 `yaml:"min_round_trip_ratio"`     // Default: 0.85
	MaxSellImpactPct       float64 `yaml:"max_sell_impact_pct"`      // Default: 5 (provider units)
	SellAmountFraction     float64 `yaml:"sell_amount_fraction"`     // Default: 0.90
	SellSlippageMultiplier float64 `yaml:"sell_slippage_multiplier"` // Default: 2
}

// WrappedSOL is the native asset mint on Solana
const WrappedSOL = "So11111111111111111111111111111111111111112"

// DefaultConfig returns the bounds used when nothing is configured
func DefaultConfig() Config {
	return Config{
		NativeMint:             WrappedSOL,
		MinRoundTripRatio:      0.85,
		MaxSellImpactPct:       5,
		SellAmountFraction:     0.90,
		SellSlippageMultiplier: 2,
	}
}

// Result is the outcome of one check. It is a value in every case, including provider faults.
type Result struct {
	Mint               string     `json:"mint"`
	Pass               bool       `json:"pass"`
	FailReason         FailReason `json:"fail_reason,omitempty"`
	BuyQuoteOutAmount  string     `json:"buy_quote_out_amount,omitempty"`
	SellQuoteOutAmount string     `json:"sell_quote_out_amount,omitempty"`
	RoundTripRatio     *float64   `json:"round_trip_ratio,omitempty"`
	SellPriceImpactPct float64    `json:"sell_price_impact_pct"`
	BuyPriceImpactPct  float64    `json:"buy_price_impact_pct"`
	Err                string     `json:"error,omitempty"`
}

// Checker runs sellability checks against a quote provider
type Checker struct {
	quotes QuoteProvider
	config Config
	logger zerolog.Logger
}

// NewChecker creates a checker; zero policy constants fall back to defaults
func NewChecker(quotes QuoteProvider, config Config, logger zerolog.Logger) *Checker {
	def := DefaultConfig()
	if config.NativeMint == "" {
		config.NativeMint = def.NativeMint
	}
	if config.SellAmountFraction <= 0 || config.SellAmountFraction > 1 {
		config.SellAmountFraction = def.SellAmountFraction
	}
	if config.SellSlippageMultiplier <= 0 {
		config.SellSlippageMultiplier = def.SellSlippageMultiplier
	}
	return &Checker{quotes: quotes, config: config, logger: logger}
}

// Config returns the effective configuration
func (c *Checker) Config() Config {
	return c.config
}

// Check quotes native->mint for buyAmount, then mint->native for a fraction of the output,
// and rejects tokens whose round trip or sell-side impact is out of bounds.
func (c *Checker) Check(ctx context.Context, mint string, buyAmount decimal.Decimal, slippageBps int) (res Result) {
	res.Mint = mint
	defer func() {
		if r := recover(); r != nil {
			res = failed(res, FailCheckError, fmt.Errorf("panic: %v", r))
		}
		c.logResult(res)
	}()

	if !buyAmount.IsPositive() {
		return failed(res, FailCheckError, errors.New("buy amount must be positive"))
	}

	buy, err := c.quotes.Quote(ctx, QuoteRequest{
		InputMint:   c.config.NativeMint,
		OutputMint:  mint,
		Amount:      buyAmount,
		SlippageBps: slippageBps,
	})
	if err != nil {
		return failed(res, FailCheckError, fmt.Errorf("buy quote: %w", err))
	}
	if buy == nil {
		return failed(res, FailBuyQuoteZero, nil)
	}
	res.BuyQuoteOutAmount = buy.OutAmount
	buyOut, err := parseAmount(buy.OutAmount)
	if err != nil {
		return failed(res, FailCheckError, fmt.Errorf("buy out amount: %w", err))
	}
	if !buyOut.IsPositive() {
		return failed(res, FailBuyQuoteZero, nil)
	}
	if res.BuyPriceImpactPct, err = parseImpact(buy.PriceImpactPct); err != nil {
		return failed(res, FailCheckError, fmt.Errorf("buy price impact: %w", err))
	}

	fraction := decimal.NewFromFloat(c.config.SellAmountFraction)
	sellAmount := buyOut.Mul(fraction).Floor()
	if !sellAmount.IsPositive() {
		return failed(res, FailCheckError, fmt.Errorf("sell amount rounds to zero (buy out %s x %s)", buyOut, fraction))
	}

	sell, err := c.quotes.Quote(ctx, QuoteRequest{
		InputMint:   mint,
		OutputMint:  c.config.NativeMint,
		Amount:      sellAmount,
		SlippageBps: int(float64(slippageBps) * c.config.SellSlippageMultiplier),
	})
	if err != nil {
		// no sell-side route is itself evidence of a honeypot
		res.Err = err.Error()
		res.FailReason = FailSellQuoteFailed
		return res
	}
	if sell == nil {
		return failed(res, FailSellQuoteZero, nil)
	}
	res.SellQuoteOutAmount = sell.OutAmount
	sellOut, err := parseAmount(sell.OutAmount)
	if err != nil {
		return failed(res, FailCheckError, fmt.Errorf("sell out amount: %w", err))
	}
	if !sellOut.IsPositive() {
		return failed(res, FailSellQuoteZero, nil)
	}
	if res.SellPriceImpactPct, err = parseImpact(sell.PriceImpactPct); err != nil {
		return failed(res, FailCheckError, fmt.Errorf("sell price impact: %w", err))
	}

	ratio, _ := sellOut.Div(fraction).Div(buyAmount).Float64()
	res.RoundTripRatio = &ratio
	if ratio < c.config.MinRoundTripRatio {
		return failed(res, FailRoundTripRatioLow, nil)
	}
	if res.SellPriceImpactPct > c.config.MaxSellImpactPct {
		return failed(res, FailSellImpactHigh, nil)
	}

	res.Pass = true
	return res
}

func (c *Checker) logResult(res Result) {
	ev := c.logger.Info()
	if !res.Pass {
		ev = c.logger.Warn()
	}
	ev = ev.Str("mint", res.Mint).
		Bool("pass", res.Pass).
		Str("fail_reason", string(res.FailReason)).
		Float64("sell_impact_pct", res.SellPriceImpactPct).
		Float64("buy_impact_pct", res.BuyPriceImpactPct)
	if res.RoundTripRatio != nil {
		ev = ev.Float64("round_trip_ratio", *res.RoundTripRatio)
	}
	if res.Err != "" {
		ev = ev.Str("error", res.Err)
	}
	ev.Msg("sellability check")
}

func failed(res Result, reason FailReason, err error) Result {
	res.Pass = false
	res.FailReason = reason
	if err != nil {
		res.Err = err.Error()
	}
	return res
}

// parseAmount reads an integer-as-string amount; empty means zero
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// parseImpact reads a string-encoded float; empty means no impact reported
func parseImpact(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}
