package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FeeParams describes the bundle a compensation quote is requested for.
type FeeParams struct {
	Token             common.Address
	TokenDecimals     int32
	BundleGasLimit    uint64
	PremiumMultiplier float64
}

// FeeEstimate is the compensation owed for a bundle, in wei and in token base units.
type FeeEstimate struct {
	BribeInEth    *big.Int
	BribeInTokens *big.Int
}
