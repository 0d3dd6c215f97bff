package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// PartialTransaction is a caller supplied request that still needs population.
type PartialTransaction struct {
	From     *common.Address
	To       *common.Address
	Nonce    *uint64
	GasLimit uint64
	Value    *big.Int
	Data     []byte
}

// PopulatedTransaction is a fully specified, zero gas price transaction request.
type PopulatedTransaction struct {
	ChainID  *big.Int       `json:"chainId"`
	From     common.Address `json:"from,omitempty"`
	To       common.Address `json:"to"`
	Nonce    uint64         `json:"nonce"`
	GasLimit uint64         `json:"gasLimit"`
	GasPrice *big.Int       `json:"gasPrice"`
	Value    *big.Int       `json:"value"`
	Data     hexutil.Bytes  `json:"data"`
}

// Unsigned builds the legacy transaction the user signs.
func (p PopulatedTransaction) Unsigned() *types.Transaction {
	to := p.To
	return types.NewTx(&types.LegacyTx{
		Nonce:    p.Nonce,
		GasPrice: new(big.Int).Set(p.GasPrice),
		Gas:      p.GasLimit,
		To:       &to,
		Value:    new(big.Int).Set(p.Value),
		Data:     common.CopyBytes(p.Data),
	})
}

// SignedTransaction is a serialized signed transaction blob.
type SignedTransaction = hexutil.Bytes
