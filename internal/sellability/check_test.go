package sellability

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testMint = "BONKxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"

type mockQuotes struct {
	mock.Mock
}

func (m *mockQuotes) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	args := m.Called(ctx, req)
	q, _ := args.Get(0).(*Quote)
	return q, args.Error(1)
}

func buyLeg() interface{} {
	return mock.MatchedBy(func(req QuoteRequest) bool { return req.InputMint == WrappedSOL })
}

func sellLeg() interface{} {
	return mock.MatchedBy(func(req QuoteRequest) bool { return req.OutputMint == WrappedSOL })
}

var oneSOL = decimal.NewFromInt(1_000_000_000)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinRoundTripRatio = 0.85
	cfg.MaxSellImpactPct = 5
	return cfg
}

func TestCheck_Pass(t *testing.T) {
	quotes := &mockQuotes{}
	quotes.On("Quote", mock.Anything, mock.MatchedBy(func(req QuoteRequest) bool {
		return req.InputMint == WrappedSOL && req.OutputMint == testMint &&
			req.Amount.Equal(oneSOL) && req.SlippageBps == 100
	})).Return(&Quote{OutAmount: "5000000", PriceImpactPct: "0.1"}, nil).Once()
	quotes.On("Quote", mock.Anything, mock.MatchedBy(func(req QuoteRequest) bool {
		return req.InputMint == testMint && req.OutputMint == WrappedSOL &&
			req.Amount.Equal(decimal.NewFromInt(4_500_000)) && req.SlippageBps == 200
	})).Return(&Quote{OutAmount: "900000000", PriceImpactPct: "0.5"}, nil).Once()

	res := NewChecker(quotes, testConfig(), zerolog.Nop()).Check(context.Background(), testMint, oneSOL, 100)

	assert.True(t, res.Pass)
	assert.Equal(t, FailNone, res.FailReason)
	require.NotNil(t, res.RoundTripRatio)
	assert.InDelta(t, 1.0, *res.RoundTripRatio, 1e-9)
	assert.Equal(t, 0.5, res.SellPriceImpactPct)
	assert.Equal(t, 0.1, res.BuyPriceImpactPct)
	assert.Equal(t, "5000000", res.BuyQuoteOutAmount)
	assert.Equal(t, "900000000", res.SellQuoteOutAmount)
	quotes.AssertExpectations(t)
}

func TestCheck_BuyQuoteZeroSkipsSellLeg(t *testing.T) {
	for _, out := range []string{"0", ""} {
		quotes := &mockQuotes{}
		quotes.On("Quote", mock.Anything, buyLeg()).Return(&Quote{OutAmount: out}, nil).Once()

		res := NewChecker(quotes, testConfig(), zerolog.Nop()).Check(context.Background(), testMint, oneSOL, 100)

		assert.False(t, res.Pass)
		assert.Equal(t, FailBuyQuoteZero, res.FailReason)
		quotes.AssertNumberOfCalls(t, "Quote", 1)
		quotes.AssertNotCalled(t, "Quote", mock.Anything, sellLeg())
	}
}

func TestCheck_DustBuyOutputIsCheckError(t *testing.T) {
	quotes := &mockQuotes{}
	quotes.On("Quote", mock.Anything, buyLeg()).Return(&Quote{OutAmount: "1", PriceImpactPct: "0"}, nil).Once()

	res := NewChecker(quotes, testConfig(), zerolog.Nop()).Check(context.Background(), testMint, oneSOL, 100)

	assert.False(t, res.Pass)
	assert.Equal(t, FailCheckError, res.FailReason)
	assert.Equal(t, "1", res.BuyQuoteOutAmount)
	assert.Contains(t, res.Err, "sell amount rounds to zero")
	quotes.AssertNotCalled(t, "Quote", mock.Anything, sellLeg())
}

func TestCheck_SellQuoteFailure(t *testing.T) {
	quotes := &mockQuotes{}
	quotes.On("Quote", mock.Anything, buyLeg()).Return(&Quote{OutAmount: "5000000"}, nil)
	quotes.On("Quote", mock.Anything, sellLeg()).Return(nil, errors.New("no route found"))

	res := NewChecker(quotes, testConfig(), zerolog.Nop()).Check(context.Background(), testMint, oneSOL, 100)

	assert.False(t, res.Pass)
	assert.Equal(t, FailSellQuoteFailed, res.FailReason)
	assert.Contains(t, res.Err, "no route")
}

func TestCheck_SellQuoteZero(t *testing.T) {
	quotes := &mockQuotes{}
	quotes.On("Quote", mock.Anything, buyLeg()).Return(&Quote{OutAmount: "5000000"}, nil)
	quotes.On("Quote", mock.Anything, sellLeg()).Return(&Quote{OutAmount: "0", PriceImpactPct: "0"}, nil)

	res := NewChecker(quotes, testConfig(), zerolog.Nop()).Check(context.Background(), testMint, oneSOL, 100)

	assert.Equal(t, FailSellQuoteZero, res.FailReason)
	assert.Nil(t, res.RoundTripRatio)
}

func TestCheck_RoundTripRatioLowWithAcceptableImpact(t *testing.T) {
	quotes := &mockQuotes{}
	quotes.On("Quote", mock.Anything, buyLeg()).Return(&Quote{OutAmount: "5000000", PriceImpactPct: "0.1"}, nil)
	quotes.On("Quote", mock.Anything, sellLeg()).Return(&Quote{OutAmount: "450000000", PriceImpactPct: "0.1"}, nil)

	res := NewChecker(quotes, testConfig(), zerolog.Nop()).Check(context.Background(), testMint, oneSOL, 100)

	assert.False(t, res.Pass)
	assert.Equal(t, FailRoundTripRatioLow, res.FailReason)
	require.NotNil(t, res.RoundTripRatio)
	assert.InDelta(t, 0.5, *res.RoundTripRatio, 1e-9)
}

func TestCheck_SellImpactHigh(t *testing.T) {
	quotes := &mockQuotes{}
	quotes.On("Quote", mock.Anything, buyLeg()).Return(&Quote{OutAmount: "5000000"}, nil)
	quotes.On("Quote", mock.Anything, sellLeg()).Return(&Quote{OutAmount: "890000000", PriceImpactPct: "12.5"}, nil)

	res := NewChecker(quotes, testConfig(), zerolog.Nop()).Check(context.Background(), testMint, oneSOL, 100)

	assert.Equal(t, FailSellImpactHigh, res.FailReason)
	assert.Equal(t, 12.5, res.SellPriceImpactPct)
}

func TestCheck_BuyQuoteErrorIsCheckError(t *testing.T) {
	quotes := &mockQuotes{}
	quotes.On("Quote", mock.Anything, buyLeg()).Return(nil, errors.New("connection refused"))

	res := NewChecker(quotes, testConfig(), zerolog.Nop()).Check(context.Background(), testMint, oneSOL, 100)

	assert.Equal(t, FailCheckError, res.FailReason)
	assert.Contains(t, res.Err, "connection refused")
}

type panickingQuotes struct{}

func (panickingQuotes) Quote(context.Context, QuoteRequest) (*Quote, error) {
	panic("provider exploded")
}

func TestCheck_PanicBecomesCheckError(t *testing.T) {
	var res Result
	assert.NotPanics(t, func() {
		res = NewChecker(panickingQuotes{}, testConfig(), zerolog.Nop()).Check(context.Background(), testMint, oneSOL, 100)
	})
	assert.False(t, res.Pass)
	assert.Equal(t, FailCheckError, res.FailReason)
	assert.Contains(t, res.Err, "provider exploded")
}

func TestCheck_MalformedAmountIsCheckError(t *testing.T) {
	quotes := &mockQuotes{}
	quotes.On("Quote", mock.Anything, buyLeg()).Return(&Quote{OutAmount: "lots"}, nil)

	res := NewChecker(quotes, testConfig(), zerolog.Nop()).Check(context.Background(), testMint, oneSOL, 100)

	assert.Equal(t, FailCheckError, res.FailReason)
}

func TestCheck_NonPositiveBuyAmount(t *testing.T) {
	quotes := &mockQuotes{}

	res := NewChecker(quotes, testConfig(), zerolog.Nop()).Check(context.Background(), testMint, decimal.Zero, 100)

	assert.Equal(t, FailCheckError, res.FailReason)
	quotes.AssertNotCalled(t, "Quote", mock.Anything, mock.Anything)
}

func TestCheck_ConfigurableSellLeg(t *testing.T) {
	cfg := testConfig()
	cfg.SellAmountFraction = 0.5
	cfg.SellSlippageMultiplier = 3

	quotes := &mockQuotes{}
	quotes.On("Quote", mock.Anything, buyLeg()).Return(&Quote{OutAmount: "5000000"}, nil)
	quotes.On("Quote", mock.Anything, mock.MatchedBy(func(req QuoteRequest) bool {
		return req.OutputMint == WrappedSOL && req.Amount.Equal(decimal.NewFromInt(2_500_000)) && req.SlippageBps == 300
	})).Return(&Quote{OutAmount: "480000000"}, nil)

	res := NewChecker(quotes, cfg, zerolog.Nop()).Check(context.Background(), testMint, oneSOL, 100)

	assert.True(t, res.Pass)
	require.NotNil(t, res.RoundTripRatio)
	assert.InDelta(t, 0.96, *res.RoundTripRatio, 1e-9)
	quotes.AssertExpectations(t)
}

func TestNewChecker_FillsPolicyDefaults(t *testing.T) {
	c := NewChecker(&mockQuotes{}, Config{MinRoundTripRatio: 0.9}, zerolog.Nop())
	assert.Equal(t, 0.90, c.Config().SellAmountFraction)
	assert.Equal(t, 2.0, c.Config().SellSlippageMultiplier)
	assert.Equal(t, WrappedSOL, c.Config().NativeMint)
	assert.Equal(t, 0.9, c.Config().MinRoundTripRatio)
}
