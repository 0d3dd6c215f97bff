package walletsigner

import (
	"context"
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// KeyProvider signs raw digests with an in-process private key.
type KeyProvider struct {
	key     *ecdsa.PrivateKey
	address common.Address
	lock    exclusive
}

func NewKeyProvider(key *ecdsa.PrivateKey) *KeyProvider {
	return &KeyProvider{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		lock:    newExclusive(),
	}
}

func NewKeyProviderFromHex(hexKey string) (*KeyProvider, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse signing key")
	}
	return NewKeyProvider(key), nil
}

func (p *KeyProvider) Address() common.Address {
	return p.address
}

func (p *KeyProvider) SuppressPrefixRewrite(ctx context.Context) (func(), error) {
	if err := p.lock.acquire(ctx); err != nil {
		return nil, err
	}
	return p.lock.session(func() {}), nil
}

func (p *KeyProvider) SignDigest(ctx context.Context, from common.Address, digest common.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if from != p.address {
		return nil, errors.Errorf("key provider cannot sign for %s", from.Hex())
	}
	signature, err := crypto.Sign(digest[:], p.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign digest")
	}
	return signature, nil
}
