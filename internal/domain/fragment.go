package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TransactionFragment is one call of a bundle before nonce and chain assignment.
type TransactionFragment struct {
	To       common.Address `json:"to"`
	Data     hexutil.Bytes  `json:"data"`
	Value    *hexutil.Big   `json:"value,omitempty"`
	GasLimit hexutil.Uint64 `json:"gasLimit"`
}

// ValueOrZero returns a copy of the fragment value, zero when unset.
func (f TransactionFragment) ValueOrZero() *big.Int {
	if f.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(f.Value.ToInt())
}

// TotalGasLimit sums the gas limits of all fragments.
func TotalGasLimit(fragments []TransactionFragment) uint64 {
	var total uint64
	for _, fragment := range fragments {
		total += uint64(fragment.GasLimit)
	}
	return total
}
