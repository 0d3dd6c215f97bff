package application

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bundlerelay/internal/domain"
)

// SigningProvider is a wallet able to sign raw 32 byte digests.
type SigningProvider interface {
	// SuppressPrefixRewrite takes exclusive use of the provider and disables
	// any eth_sign to personal_sign substitution until restore is called.
	SuppressPrefixRewrite(ctx context.Context) (restore func(), err error)
	SignDigest(ctx context.Context, from common.Address, digest common.Hash) ([]byte, error)
}

type TransactionPopulator interface {
	ChainID() *big.Int
	PopulateTransactions(ctx context.Context, from common.Address, fragments []domain.TransactionFragment) ([]domain.PopulatedTransaction, error)
}

type BundleSigner struct {
	populator TransactionPopulator
	logger    *zap.Logger
}

func NewBundleSigner(populator TransactionPopulator, logger *zap.Logger) (*BundleSigner, error) {
	if populator == nil {
		return nil, errors.New("populator must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BundleSigner{populator: populator, logger: logger}, nil
}

// SigningDigest is the EIP-155 hash the wallet signs for a populated transaction.
func SigningDigest(tx domain.PopulatedTransaction) common.Hash {
	return types.NewEIP155Signer(tx.ChainID).Hash(tx.Unsigned())
}

// SignBundle populates the fragments and collects one raw signature per
// transaction, in order. Any failure discards the whole bundle.
func (s *BundleSigner) SignBundle(ctx context.Context, from common.Address, fragments []domain.TransactionFragment, provider SigningProvider) ([]domain.SignedTransaction, error) {
	if provider == nil {
		return nil, errors.New("signing provider must not be nil")
	}
	populated, err := s.populator.PopulateTransactions(ctx, from, fragments)
	if err != nil {
		return nil, err
	}

	restore, err := provider.SuppressPrefixRewrite(ctx)
	if err != nil {
		return nil, err
	}
	defer restore()

	signer := types.NewEIP155Signer(s.populator.ChainID())
	signed := make([]domain.SignedTransaction, 0, len(populated))
	for i, tx := range populated {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := signOne(ctx, signer, from, tx, provider)
		if err != nil {
			return nil, errors.WithMessagef(err, "sign transaction %d", i)
		}
		signed = append(signed, raw)
	}

	s.logger.Sugar().Infow("bundle signed", "from", from.Hex(), "transactions", len(signed))
	return signed, nil
}

func signOne(ctx context.Context, signer types.Signer, from common.Address, populated domain.PopulatedTransaction, provider SigningProvider) (domain.SignedTransaction, error) {
	unsigned := populated.Unsigned()
	digest := signer.Hash(unsigned)

	signature, err := provider.SignDigest(ctx, from, digest)
	if err != nil {
		return nil, err
	}
	normalized, err := normalizeSignature(signature)
	if err != nil {
		return nil, err
	}

	signedTx, err := unsigned.WithSignature(signer, normalized)
	if err != nil {
		return nil, errors.Wrap(err, "attach signature")
	}
	sender, err := types.Sender(signer, signedTx)
	if err != nil {
		return nil, errors.Wrap(domain.ErrSignatureMismatch, err.Error())
	}
	if sender != from {
		return nil, errors.Wrapf(domain.ErrSignatureMismatch, "recovered %s, expected %s", sender.Hex(), from.Hex())
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "encode signed transaction")
	}
	return raw, nil
}

// normalizeSignature maps a 65 byte [R || S || V] signature to V in {0, 1}.
func normalizeSignature(signature []byte) ([]byte, error) {
	if len(signature) != 65 {
		return nil, errors.Errorf("signature must be 65 bytes, got %d", len(signature))
	}
	normalized := common.CopyBytes(signature)
	switch normalized[64] {
	case 0, 1:
	case 27, 28:
		normalized[64] -= 27
	default:
		return nil, errors.Errorf("unexpected signature recovery id %d", signature[64])
	}
	return normalized, nil
}
