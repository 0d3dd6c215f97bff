package application

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/pkg/errors"

	"bundlerelay/internal/config"
	"bundlerelay/internal/domain"
)

const erc20ABI = `[
	{"name":"transfer","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

const swapBriberABI = `[
	{"name":"swapAndBribe","type":"function","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"token","type":"address"},
		{"name":"tokenAmount","type":"uint256"},
		{"name":"bribeAmount","type":"uint256"},
		{"name":"router","type":"address"},
		{"name":"path","type":"address[]"},
		{"name":"deadline","type":"uint256"}
	 ],
	 "outputs":[]}
]`

var (
	erc20      = mustParseABI(erc20ABI)
	swapBriber = mustParseABI(swapBriberABI)
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}

// TransferRequest describes a gasless ERC20 transfer paid for by swapping
// part of the sender's tokens into an ETH bribe.
type TransferRequest struct {
	Recipient common.Address
	Amount    *big.Int
	// FeeTokens is the token amount swapped to fund the bribe.
	FeeTokens *big.Int
	// BribeWei is the ETH amount the swap must yield for the block builder.
	BribeWei *big.Int
	// Deadline is the swap deadline as a unix timestamp. Zero means one hour from now.
	Deadline uint64
	// SkipApprove omits the approve call when the briber already has an allowance.
	SkipApprove bool
}

// BuildTransferBundle returns the transfer, approve and swapAndBribe
// fragments for token on network, in that order.
func BuildTransferBundle(network config.Network, token config.Token, req TransferRequest) ([]domain.TransactionFragment, error) {
	switch {
	case req.Recipient == (common.Address{}):
		return nil, &domain.MissingFieldError{Field: "recipient"}
	case req.Amount == nil || req.Amount.Sign() <= 0:
		return nil, errors.New("transfer amount must be positive")
	case req.FeeTokens == nil || req.FeeTokens.Sign() < 0:
		return nil, errors.New("fee token amount must not be negative")
	case req.BribeWei == nil || req.BribeWei.Sign() < 0:
		return nil, errors.New("bribe amount must not be negative")
	case network.SwapBriber == (common.Address{}):
		return nil, errors.Wrapf(domain.ErrUnsupportedNetwork, "no swap briber on %s", network.Name)
	}

	deadline := req.Deadline
	if deadline == 0 {
		deadline = uint64(time.Now().Add(time.Hour).Unix())
	}

	transfer, err := erc20.Pack("transfer", req.Recipient, req.Amount)
	if err != nil {
		return nil, errors.Wrap(err, "encode transfer")
	}
	fragments := []domain.TransactionFragment{{
		To:       token.Address,
		Data:     hexutil.Bytes(transfer),
		GasLimit: hexutil.Uint64(token.GasEstimates.Transfer),
	}}

	if !req.SkipApprove {
		approve, err := erc20.Pack("approve", network.SwapBriber, math.MaxBig256)
		if err != nil {
			return nil, errors.Wrap(err, "encode approve")
		}
		fragments = append(fragments, domain.TransactionFragment{
			To:       token.Address,
			Data:     hexutil.Bytes(approve),
			GasLimit: hexutil.Uint64(token.GasEstimates.Approve),
		})
	}

	swap, err := swapBriber.Pack("swapAndBribe",
		token.Address,
		req.FeeTokens,
		req.BribeWei,
		network.UniswapRouter,
		[]common.Address{token.Address, network.WETH},
		new(big.Int).SetUint64(deadline),
	)
	if err != nil {
		return nil, errors.Wrap(err, "encode swapAndBribe")
	}
	fragments = append(fragments, domain.TransactionFragment{
		To:       network.SwapBriber,
		Data:     hexutil.Bytes(swap),
		GasLimit: hexutil.Uint64(token.GasEstimates.SwapAndBribe),
	})
	return fragments, nil
}
