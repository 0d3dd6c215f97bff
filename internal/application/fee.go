package application

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bundlerelay/internal/domain"
)

type GasPriceSource interface {
	CurrentGasPrice(ctx context.Context) (*big.Int, error)
}

type TokenPriceSource interface {
	TokenPriceInUSD(ctx context.Context, token common.Address) (decimal.Decimal, error)
}

const etherDecimals = 18

// FeeEstimator quotes the miner compensation for a bundle in ETH and in the
// fee token.
type FeeEstimator struct {
	gas    GasPriceSource
	prices TokenPriceSource
	native common.Address
	logger *zap.Logger
}

func NewFeeEstimator(gas GasPriceSource, prices TokenPriceSource, native common.Address, logger *zap.Logger) (*FeeEstimator, error) {
	if gas == nil || prices == nil {
		return nil, errors.New("fee estimator dependencies must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeeEstimator{gas: gas, prices: prices, native: native, logger: logger}, nil
}

func (e *FeeEstimator) EstimateFee(ctx context.Context, params domain.FeeParams) (domain.FeeEstimate, error) {
	milli, err := premiumMilli(params.PremiumMultiplier)
	if err != nil {
		return domain.FeeEstimate{}, err
	}
	if params.TokenDecimals < 0 || params.TokenDecimals > 77 {
		return domain.FeeEstimate{}, errors.Wrapf(domain.ErrInvalidDecimals, "%d", params.TokenDecimals)
	}

	var (
		gasPrice   *big.Int
		tokenPrice decimal.Decimal
		ethPrice   decimal.Decimal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		price, err := e.gas.CurrentGasPrice(gctx)
		gasPrice = price
		return err
	})
	g.Go(func() error {
		price, err := e.prices.TokenPriceInUSD(gctx, params.Token)
		tokenPrice = price
		return err
	})
	g.Go(func() error {
		price, err := e.prices.TokenPriceInUSD(gctx, e.native)
		ethPrice = price
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.FeeEstimate{}, err
	}

	estimate, err := ComputeFee(params.BundleGasLimit, gasPrice, tokenPrice, ethPrice, milli, params.TokenDecimals)
	if err != nil {
		return domain.FeeEstimate{}, err
	}

	e.logger.Sugar().Debugw("fee estimated",
		"token", params.Token.Hex(),
		"gas_limit", params.BundleGasLimit,
		"gas_price", gasPrice.String(),
		"token_usd", tokenPrice.String(),
		"eth_usd", ethPrice.String(),
		"bribe_wei", estimate.BribeInEth.String(),
		"bribe_tokens", estimate.BribeInTokens.String(),
	)
	return estimate, nil
}

// premiumMilli converts a multiplier to integer thousandths.
func premiumMilli(multiplier float64) (int64, error) {
	if math.IsNaN(multiplier) || math.IsInf(multiplier, 0) || multiplier <= 0 || multiplier > 1e9 {
		return 0, domain.ErrInvalidMultiplier
	}
	milli := int64(math.Round(multiplier * 1000))
	if milli <= 0 {
		return 0, domain.ErrInvalidMultiplier
	}
	return milli, nil
}

// ComputeFee applies the fixed point fee formula to already fetched inputs.
func ComputeFee(gasLimit uint64, gasPrice *big.Int, tokenPrice, ethPrice decimal.Decimal, premiumMilli int64, tokenDecimals int32) (domain.FeeEstimate, error) {
	if gasPrice == nil || gasPrice.Sign() < 0 {
		return domain.FeeEstimate{}, errors.Wrap(domain.ErrInvalidPrice, "gas price")
	}
	if !tokenPrice.IsPositive() {
		return domain.FeeEstimate{}, errors.Wrapf(domain.ErrInvalidPrice, "token price %s", tokenPrice)
	}
	if !ethPrice.IsPositive() {
		return domain.FeeEstimate{}, errors.Wrapf(domain.ErrInvalidPrice, "eth price %s", ethPrice)
	}

	weiCost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
	bribeInEth := new(big.Int).Mul(weiCost, big.NewInt(premiumMilli))
	bribeInEth.Quo(bribeInEth, big.NewInt(1000))

	usdCost := decimal.NewFromBigInt(bribeInEth, -etherDecimals).Mul(ethPrice)
	tokens := usdCost.DivRound(tokenPrice, tokenDecimals).Shift(tokenDecimals)

	return domain.FeeEstimate{
		BribeInEth:    bribeInEth,
		BribeInTokens: tokens.BigInt(),
	}, nil
}
