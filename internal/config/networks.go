package config

import (
	"bundlerelay/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const (
	DefaultGasOracleURL   = "https://www.gasnow.org/api/v3"
	DefaultPriceOracleURL = "https://api.coingecko.com/api/v3"
)

// Network holds the relay endpoint and contract addresses for a supported chain.
type Network struct {
	ChainID       uint64
	Name          string
	RelayURL      string
	SwapBriber    common.Address
	UniswapRouter common.Address
	WETH          common.Address
}

var networks = map[uint64]Network{
	1: {
		ChainID:       1,
		Name:          "mainnet",
		RelayURL:      "https://relay.flashbots.net",
		SwapBriber:    common.HexToAddress("0x956F963f8e05d000675627cA002667BaA13C7D28"),
		UniswapRouter: common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
		WETH:          common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
	},
	5: {
		ChainID:       5,
		Name:          "goerli",
		RelayURL:      "https://relay-goerli.flashbots.net",
		SwapBriber:    common.HexToAddress("0x956F963f8e05d000675627cA002667BaA13C7D28"),
		UniswapRouter: common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
		WETH:          common.HexToAddress("0xB4FBF271143F4FBf7B91A5ded31805e42b2208d6"),
	},
}

func LookupNetwork(chainID uint64) (Network, error) {
	network, ok := networks[chainID]
	if !ok {
		return Network{}, errors.Wrapf(domain.ErrUnsupportedNetwork, "chain id %d", chainID)
	}
	return network, nil
}
