package application

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundlerelay/internal/config"
	"bundlerelay/internal/domain"
)

func mainnetDAI(t *testing.T) (config.Network, config.Token) {
	t.Helper()
	network, err := config.LookupNetwork(1)
	require.NoError(t, err)
	registry := config.NewTokenRegistry(nil)
	token, ok := registry.Lookup(common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"))
	require.True(t, ok)
	return network, token
}

func TestBuildTransferBundle(t *testing.T) {
	network, token := mainnetDAI(t)
	recipient := common.HexToAddress("0x000000000000000000000000000000000000bEEF")
	req := TransferRequest{
		Recipient: recipient,
		Amount:    big.NewInt(1_000),
		FeeTokens: big.NewInt(25),
		BribeWei:  big.NewInt(7),
		Deadline:  2_000_000_000,
	}

	fragments, err := BuildTransferBundle(network, token, req)
	require.NoError(t, err)
	require.Len(t, fragments, 3)

	assert.Equal(t, token.Address, fragments[0].To)
	assert.Equal(t, token.Address, fragments[1].To)
	assert.Equal(t, network.SwapBriber, fragments[2].To)
	assert.Equal(t, token.GasEstimates.Transfer+token.GasEstimates.Approve+token.GasEstimates.SwapAndBribe,
		domain.TotalGasLimit(fragments))

	args, err := erc20.Methods["transfer"].Inputs.Unpack(fragments[0].Data[4:])
	require.NoError(t, err)
	assert.Equal(t, recipient, args[0])
	assert.Equal(t, big.NewInt(1_000), args[1])

	args, err = erc20.Methods["approve"].Inputs.Unpack(fragments[1].Data[4:])
	require.NoError(t, err)
	assert.Equal(t, network.SwapBriber, args[0])
	assert.Equal(t, math.MaxBig256, args[1])

	method := swapBriber.Methods["swapAndBribe"]
	assert.Equal(t, method.ID, []byte(fragments[2].Data[:4]))
	args, err = method.Inputs.Unpack(fragments[2].Data[4:])
	require.NoError(t, err)
	assert.Equal(t, token.Address, args[0])
	assert.Equal(t, big.NewInt(25), args[1])
	assert.Equal(t, big.NewInt(7), args[2])
	assert.Equal(t, network.UniswapRouter, args[3])
	assert.Equal(t, []common.Address{token.Address, network.WETH}, args[4])
	assert.Equal(t, big.NewInt(2_000_000_000), args[5])
}

func TestBuildTransferBundleSkipApprove(t *testing.T) {
	network, token := mainnetDAI(t)
	fragments, err := BuildTransferBundle(network, token, TransferRequest{
		Recipient:   common.HexToAddress("0x01"),
		Amount:      big.NewInt(1),
		FeeTokens:   big.NewInt(0),
		BribeWei:    big.NewInt(0),
		SkipApprove: true,
	})
	require.NoError(t, err)
	require.Len(t, fragments, 2)
	assert.Equal(t, network.SwapBriber, fragments[1].To)
}

func TestBuildTransferBundleValidates(t *testing.T) {
	network, token := mainnetDAI(t)
	valid := TransferRequest{
		Recipient: common.HexToAddress("0x01"),
		Amount:    big.NewInt(1),
		FeeTokens: big.NewInt(1),
		BribeWei:  big.NewInt(1),
	}

	missingRecipient := valid
	missingRecipient.Recipient = common.Address{}
	_, err := BuildTransferBundle(network, token, missingRecipient)
	require.ErrorIs(t, err, domain.ErrMissingField)

	zeroAmount := valid
	zeroAmount.Amount = big.NewInt(0)
	_, err = BuildTransferBundle(network, token, zeroAmount)
	require.Error(t, err)

	noBribe := valid
	noBribe.BribeWei = nil
	_, err = BuildTransferBundle(network, token, noBribe)
	require.Error(t, err)

	_, err = BuildTransferBundle(config.Network{Name: "devnet"}, token, valid)
	require.ErrorIs(t, err, domain.ErrUnsupportedNetwork)
}
