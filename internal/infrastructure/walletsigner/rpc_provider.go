package walletsigner

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// RPCProvider signs through a wallet's JSON-RPC endpoint. Like browser wallet
// bridges, it may rewrite eth_sign into personal_sign, which prefixes the
// message; SuppressPrefixRewrite turns that off for one signing session.
type RPCProvider struct {
	client  *rpc.Client
	logger  *zap.Logger
	rewrite atomic.Bool
	lock    exclusive
}

type RPCConfig struct {
	URL string
	// RewriteToPersonalSign mirrors wallets that substitute personal_sign for eth_sign.
	RewriteToPersonalSign bool
}

func DialRPCProvider(ctx context.Context, cfg RPCConfig, logger *zap.Logger) (*RPCProvider, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("wallet rpc url is required")
	}
	client, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "dial wallet")
	}
	return NewRPCProvider(client, cfg.RewriteToPersonalSign, logger), nil
}

func NewRPCProvider(client *rpc.Client, rewriteToPersonalSign bool, logger *zap.Logger) *RPCProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &RPCProvider{
		client: client,
		logger: logger,
		lock:   newExclusive(),
	}
	p.rewrite.Store(rewriteToPersonalSign)
	return p
}

// RewritesToPersonalSign reports the current message signing substitution.
func (p *RPCProvider) RewritesToPersonalSign() bool {
	return p.rewrite.Load()
}

func (p *RPCProvider) SuppressPrefixRewrite(ctx context.Context) (func(), error) {
	if err := p.lock.acquire(ctx); err != nil {
		return nil, err
	}
	previous := p.rewrite.Swap(false)
	return p.lock.session(func() { p.rewrite.Store(previous) }), nil
}

func (p *RPCProvider) SignDigest(ctx context.Context, from common.Address, digest common.Hash) ([]byte, error) {
	var signature hexutil.Bytes
	var err error
	if p.rewrite.Load() {
		p.logger.Sugar().Debugw("signing with personal_sign", "from", from.Hex())
		err = p.client.CallContext(ctx, &signature, "personal_sign", hexutil.Encode(digest[:]), from)
	} else {
		p.logger.Sugar().Debugw("signing with eth_sign", "from", from.Hex())
		err = p.client.CallContext(ctx, &signature, "eth_sign", from, hexutil.Encode(digest[:]))
	}
	if err != nil {
		return nil, errors.Wrap(err, "wallet signature request")
	}
	if len(signature) != 65 {
		return nil, errors.Errorf("wallet returned %d byte signature", len(signature))
	}
	return signature, nil
}

func (p *RPCProvider) Close() {
	p.client.Close()
}
