package application

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundlerelay/internal/domain"
)

var (
	testNative = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")
	testToken  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

type stubGas struct {
	price *big.Int
	err   error
	calls int32
}

func (s *stubGas) CurrentGasPrice(context.Context) (*big.Int, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return new(big.Int).Set(s.price), nil
}

type stubPrices struct {
	prices map[common.Address]decimal.Decimal
	err    error
	calls  int32
}

func (s *stubPrices) TokenPriceInUSD(_ context.Context, token common.Address) (decimal.Decimal, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return decimal.Decimal{}, s.err
	}
	price, ok := s.prices[token]
	if !ok {
		return decimal.Decimal{}, domain.ErrUnsupportedToken
	}
	return price, nil
}

func newTestEstimator(t *testing.T, gas *stubGas, prices *stubPrices) *FeeEstimator {
	t.Helper()
	estimator, err := NewFeeEstimator(gas, prices, testNative, nil)
	require.NoError(t, err)
	return estimator
}

func defaultPrices() *stubPrices {
	return &stubPrices{prices: map[common.Address]decimal.Decimal{
		testToken:  decimal.NewFromInt(1),
		testNative: decimal.NewFromInt(2000),
	}}
}

func TestEstimateFeePremiumScenario(t *testing.T) {
	estimator := newTestEstimator(t, &stubGas{price: big.NewInt(20_000_000_000)}, defaultPrices())

	estimate, err := estimator.EstimateFee(context.Background(), domain.FeeParams{
		Token:             testToken,
		TokenDecimals:     18,
		BundleGasLimit:    300000,
		PremiumMultiplier: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "12000000000000000", estimate.BribeInEth.String())
	assert.Equal(t, "24000000000000000000", estimate.BribeInTokens.String())
}

func TestEstimateFeeIsDeterministic(t *testing.T) {
	estimator := newTestEstimator(t, &stubGas{price: big.NewInt(37_123_456_789)}, &stubPrices{prices: map[common.Address]decimal.Decimal{
		testToken:  decimal.RequireFromString("0.9987"),
		testNative: decimal.RequireFromString("3123.45"),
	}})
	params := domain.FeeParams{Token: testToken, TokenDecimals: 6, BundleGasLimit: 315000, PremiumMultiplier: 1.337}

	first, err := estimator.EstimateFee(context.Background(), params)
	require.NoError(t, err)
	second, err := estimator.EstimateFee(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 0, first.BribeInEth.Cmp(second.BribeInEth))
}

func TestEstimateFeeRoundsToTokenDecimals(t *testing.T) {
	// 21000 gas * 1 gwei * 1.0 = 2.1e13 wei = 0.000021 ETH = $0.042 at $2000, 6 decimals
	estimator := newTestEstimator(t, &stubGas{price: big.NewInt(1_000_000_000)}, defaultPrices())
	estimate, err := estimator.EstimateFee(context.Background(), domain.FeeParams{
		Token: testToken, TokenDecimals: 6, BundleGasLimit: 21000, PremiumMultiplier: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "21000000000000", estimate.BribeInEth.String())
	assert.Equal(t, "42000", estimate.BribeInTokens.String())
}

func TestEstimateFeeRejectsMultiplierBeforeIO(t *testing.T) {
	for _, multiplier := range []float64{0, -1, 0.0004} {
		gas := &stubGas{price: big.NewInt(1)}
		prices := defaultPrices()
		estimator := newTestEstimator(t, gas, prices)

		_, err := estimator.EstimateFee(context.Background(), domain.FeeParams{
			Token: testToken, TokenDecimals: 18, BundleGasLimit: 1, PremiumMultiplier: multiplier,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidMultiplier, "multiplier %v", multiplier)
		assert.Zero(t, atomic.LoadInt32(&gas.calls))
		assert.Zero(t, atomic.LoadInt32(&prices.calls))
	}
}

func TestEstimateFeeRejectsZeroPrices(t *testing.T) {
	prices := defaultPrices()
	prices.prices[testToken] = decimal.Zero
	estimator := newTestEstimator(t, &stubGas{price: big.NewInt(1)}, prices)

	_, err := estimator.EstimateFee(context.Background(), domain.FeeParams{
		Token: testToken, TokenDecimals: 18, BundleGasLimit: 1, PremiumMultiplier: 1,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	prices = defaultPrices()
	prices.prices[testNative] = decimal.NewFromInt(-1)
	estimator = newTestEstimator(t, &stubGas{price: big.NewInt(1)}, prices)
	_, err = estimator.EstimateFee(context.Background(), domain.FeeParams{
		Token: testToken, TokenDecimals: 18, BundleGasLimit: 1, PremiumMultiplier: 1,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
}

func TestEstimateFeeRejectsOutOfRangeDecimals(t *testing.T) {
	gas := &stubGas{price: big.NewInt(1)}
	estimator := newTestEstimator(t, gas, defaultPrices())

	for _, decimals := range []int32{-1, 78, 100} {
		_, err := estimator.EstimateFee(context.Background(), domain.FeeParams{
			Token: testToken, TokenDecimals: decimals, BundleGasLimit: 1, PremiumMultiplier: 1,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidDecimals, "decimals %d", decimals)
	}
	assert.Zero(t, atomic.LoadInt32(&gas.calls))
}

func TestEstimateFeePropagatesOracleErrors(t *testing.T) {
	oracleErr := errors.Wrap(domain.ErrOracleUnavailable, "gas oracle down")
	estimator := newTestEstimator(t, &stubGas{err: oracleErr}, defaultPrices())

	_, err := estimator.EstimateFee(context.Background(), domain.FeeParams{
		Token: testToken, TokenDecimals: 18, BundleGasLimit: 1, PremiumMultiplier: 1,
	})
	assert.Equal(t, oracleErr, err)

	estimator = newTestEstimator(t, &stubGas{price: big.NewInt(1)}, defaultPrices())
	_, err = estimator.EstimateFee(context.Background(), domain.FeeParams{
		Token: common.HexToAddress("0x1234"), TokenDecimals: 18, BundleGasLimit: 1, PremiumMultiplier: 1,
	})
	assert.ErrorIs(t, err, domain.ErrUnsupportedToken)
}
