package config

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeCurrency is the sentinel address used to price the chain's native coin.
var NativeCurrency = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// GasEstimates are the per call gas limits used when building a transfer bundle.
type GasEstimates struct {
	Transfer     uint64
	Approve      uint64
	SwapAndBribe uint64
}

// Token describes an ERC20 known to the relay.
type Token struct {
	Address      common.Address
	Symbol       string
	Decimals     int32
	PriceID      string
	Stablecoin   bool
	GasEstimates GasEstimates
}

var defaultGasEstimates = GasEstimates{
	Transfer:     65000,
	Approve:      50000,
	SwapAndBribe: 200000,
}

var defaultTokens = []Token{
	{Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Symbol: "DAI", Decimals: 18, Stablecoin: true, GasEstimates: defaultGasEstimates},
	{Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Symbol: "USDC", Decimals: 6, Stablecoin: true, GasEstimates: defaultGasEstimates},
	{Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Symbol: "USDT", Decimals: 6, Stablecoin: true, GasEstimates: defaultGasEstimates},
	{Address: common.HexToAddress("0xCdC50DB037373deaeBc004e7548FA233B3ABBa57"), Symbol: "DAI", Decimals: 18, Stablecoin: true, GasEstimates: defaultGasEstimates},
	{Address: common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"), Symbol: "WBTC", Decimals: 8, PriceID: "wrapped-bitcoin", GasEstimates: defaultGasEstimates},
	{Address: common.HexToAddress("0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"), Symbol: "UNI", Decimals: 18, PriceID: "uniswap", GasEstimates: defaultGasEstimates},
	{Address: common.HexToAddress("0x514910771AF9Ca656af840dff83E8264EcF986CA"), Symbol: "LINK", Decimals: 18, PriceID: "chainlink", GasEstimates: defaultGasEstimates},
	{Address: NativeCurrency, Symbol: "ETH", Decimals: 18, PriceID: "ethereum"},
}

// TokenRegistry resolves price ids and gas estimates by token address.
type TokenRegistry struct {
	tokens map[common.Address]Token
}

// NewTokenRegistry returns the built-in token list extended by extra price ids.
func NewTokenRegistry(extraPriceIDs map[common.Address]string) *TokenRegistry {
	registry := &TokenRegistry{tokens: make(map[common.Address]Token, len(defaultTokens)+len(extraPriceIDs))}
	for _, token := range defaultTokens {
		registry.tokens[token.Address] = token
	}
	for address, id := range extraPriceIDs {
		token, ok := registry.tokens[address]
		if !ok {
			token = Token{Address: address, Decimals: 18, GasEstimates: defaultGasEstimates}
		}
		token.PriceID = strings.TrimSpace(id)
		token.Stablecoin = false
		registry.tokens[address] = token
	}
	return registry
}

func (r *TokenRegistry) Lookup(address common.Address) (Token, bool) {
	token, ok := r.tokens[address]
	return token, ok
}

func (r *TokenRegistry) IsStablecoin(address common.Address) bool {
	token, ok := r.tokens[address]
	return ok && token.Stablecoin
}

func (r *TokenRegistry) PriceID(address common.Address) (string, bool) {
	token, ok := r.tokens[address]
	if !ok || token.PriceID == "" {
		return "", false
	}
	return token.PriceID, true
}
