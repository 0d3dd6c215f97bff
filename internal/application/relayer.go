package application

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bundlerelay/internal/config"
	"bundlerelay/internal/domain"
)

// ChainReader is the node surface the relayer needs.
type ChainReader interface {
	ChainID(ctx context.Context) (uint64, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	TransactionCount(ctx context.Context, account common.Address) (uint64, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, bool, error)
}

// RelayTransport simulates and submits bundles on a private relay.
type RelayTransport interface {
	Simulate(ctx context.Context, bundle domain.SignedBundle, targetBlock uint64) (domain.SimulationResult, error)
	SendBundle(ctx context.Context, bundle domain.SignedBundle, targetBlock uint64, opts domain.BundleOptions) (common.Hash, error)
	AuthAddress() common.Address
	Close()
}

type RelayDialer func(ctx context.Context, url string, authKey *ecdsa.PrivateKey) (RelayTransport, error)

type RelayerOptions struct {
	RelayURL     string
	DialRelay    RelayDialer
	PollInterval time.Duration
	Logger       *zap.Logger
}

type SendOptions struct {
	Blocks int
	domain.BundleOptions
}

// RelayerBuilder holds a validated network selection. It performs no I/O.
type RelayerBuilder struct {
	network  config.Network
	relayURL string
	opts     RelayerOptions
}

func NewRelayerBuilder(chainID uint64, opts RelayerOptions) (*RelayerBuilder, error) {
	network, err := config.LookupNetwork(chainID)
	if err != nil {
		return nil, err
	}
	relayURL := network.RelayURL
	if strings.TrimSpace(opts.RelayURL) != "" {
		relayURL = strings.TrimSpace(opts.RelayURL)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &RelayerBuilder{network: network, relayURL: relayURL, opts: opts}, nil
}

func (b *RelayerBuilder) Network() config.Network {
	return b.network
}

func (b *RelayerBuilder) RelayURL() string {
	return b.relayURL
}

// Open parses the relay auth key, checks the node serves the configured chain
// and connects to the relay.
func (b *RelayerBuilder) Open(ctx context.Context, node ChainReader, authKeyHex string) (*Relayer, error) {
	if node == nil {
		return nil, errors.New("node client must not be nil")
	}
	if b.opts.DialRelay == nil {
		return nil, errors.New("relay dialer must not be nil")
	}
	authKey, err := parseAuthKey(authKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := node.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if chainID != b.network.ChainID {
		return nil, errors.Wrapf(domain.ErrUnsupportedNetwork, "node serves chain %d, relayer configured for %d", chainID, b.network.ChainID)
	}

	relay, err := b.opts.DialRelay(ctx, b.relayURL, authKey)
	if err != nil {
		return nil, err
	}

	b.opts.Logger.Sugar().Infow("relayer opened",
		"network", b.network.Name,
		"relay_url", b.relayURL,
		"auth_address", relay.AuthAddress().Hex(),
	)
	return &Relayer{
		network:      b.network,
		chainID:      new(big.Int).SetUint64(b.network.ChainID),
		node:         node,
		relay:        relay,
		pollInterval: b.opts.PollInterval,
		logger:       b.opts.Logger,
	}, nil
}

// parseAuthKey accepts a hex key; an empty value generates an ephemeral identity.
func parseAuthKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, errors.Wrap(err, "generate relay auth key")
		}
		return key, nil
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse relay auth key")
	}
	return key, nil
}

type Relayer struct {
	network      config.Network
	chainID      *big.Int
	node         ChainReader
	relay        RelayTransport
	pollInterval time.Duration
	logger       *zap.Logger
}

func (r *Relayer) ChainID() *big.Int {
	return new(big.Int).Set(r.chainID)
}

func (r *Relayer) Network() config.Network {
	return r.network
}

func (r *Relayer) Close() {
	r.relay.Close()
}

func (r *Relayer) PopulateTransaction(ctx context.Context, partial domain.PartialTransaction) (domain.PopulatedTransaction, error) {
	if partial.Nonce == nil && partial.From == nil {
		return domain.PopulatedTransaction{}, &domain.MissingFieldError{Field: "nonce or from"}
	}
	if partial.To == nil {
		return domain.PopulatedTransaction{}, &domain.MissingFieldError{Field: "to"}
	}
	if partial.GasLimit == 0 {
		return domain.PopulatedTransaction{}, &domain.MissingFieldError{Field: "gasLimit"}
	}

	var nonce uint64
	if partial.Nonce != nil {
		nonce = *partial.Nonce
	} else {
		count, err := r.node.TransactionCount(ctx, *partial.From)
		if err != nil {
			return domain.PopulatedTransaction{}, err
		}
		nonce = count
	}

	populated := domain.PopulatedTransaction{
		ChainID:  r.ChainID(),
		To:       *partial.To,
		Nonce:    nonce,
		GasLimit: partial.GasLimit,
		GasPrice: new(big.Int),
		Value:    new(big.Int),
		Data:     common.CopyBytes(partial.Data),
	}
	if partial.From != nil {
		populated.From = *partial.From
	}
	if partial.Value != nil {
		populated.Value.Set(partial.Value)
	}
	if populated.Data == nil {
		populated.Data = []byte{}
	}
	return populated, nil
}

// PopulateTransactions reads the sender nonce once and assigns consecutive
// nonces in fragment order.
func (r *Relayer) PopulateTransactions(ctx context.Context, from common.Address, fragments []domain.TransactionFragment) ([]domain.PopulatedTransaction, error) {
	if len(fragments) == 0 {
		return nil, domain.ErrEmptyBundle
	}
	for _, fragment := range fragments {
		if fragment.To == (common.Address{}) {
			return nil, &domain.MissingFieldError{Field: "to"}
		}
		if fragment.GasLimit == 0 {
			return nil, &domain.MissingFieldError{Field: "gasLimit"}
		}
	}

	initial, err := r.node.TransactionCount(ctx, from)
	if err != nil {
		return nil, err
	}

	populated := make([]domain.PopulatedTransaction, 0, len(fragments))
	for i, fragment := range fragments {
		nonce := initial + uint64(i)
		to := fragment.To
		tx, err := r.PopulateTransaction(ctx, domain.PartialTransaction{
			From:     &from,
			To:       &to,
			Nonce:    &nonce,
			GasLimit: uint64(fragment.GasLimit),
			Value:    fragment.ValueOrZero(),
			Data:     fragment.Data,
		})
		if err != nil {
			return nil, err
		}
		populated = append(populated, tx)
	}
	return populated, nil
}

// AuthSign wraps signed transactions as relay bundle entries. The relay auth
// signature itself is attached per request by the transport.
func (r *Relayer) AuthSign(txs []domain.SignedTransaction) domain.SignedBundle {
	entries := make([]domain.BundleEntry, 0, len(txs))
	for _, tx := range txs {
		entries = append(entries, domain.BundleEntry{SignedTransaction: common.CopyBytes(tx)})
	}
	return domain.SignedBundle{Entries: entries}
}

// SendBundle simulates the bundle for targetBlock and, when clean, submits it
// once per block in [targetBlock, targetBlock+Blocks-1].
func (r *Relayer) SendBundle(ctx context.Context, txs []domain.SignedTransaction, targetBlock uint64, opts SendOptions) ([]*PendingBundle, error) {
	if len(txs) == 0 {
		return nil, domain.ErrEmptyBundle
	}
	decoded, err := decodeBundle(txs, r.chainID)
	if err != nil {
		return nil, err
	}
	bundle := r.AuthSign(txs)

	simulation, err := r.relay.Simulate(ctx, bundle, targetBlock)
	if err != nil {
		return nil, err
	}
	if !simulation.OK() {
		r.logger.Sugar().Warnw("bundle simulation failed",
			"target_block", targetBlock,
			"kind", simulation.Kind,
			"revert_index", simulation.RevertIndex,
			"message", simulation.Message,
		)
		return nil, &domain.SimulationError{Result: simulation}
	}

	blocks := opts.Blocks
	if blocks < 1 {
		blocks = 1
	}
	pending := make([]*PendingBundle, 0, blocks)
	for i := 0; i < blocks; i++ {
		block := targetBlock + uint64(i)
		hash, err := r.relay.SendBundle(ctx, bundle, block, opts.BundleOptions)
		if err != nil {
			return nil, err
		}
		pending = append(pending, &PendingBundle{
			hash:         hash,
			targetBlock:  block,
			transactions: decoded,
			node:         r.node,
			pollInterval: r.pollInterval,
		})
	}
	return pending, nil
}

// SubmitBundle sends the bundle for a single target block.
func (r *Relayer) SubmitBundle(ctx context.Context, txs []domain.SignedTransaction, targetBlock uint64) (BundleWaiter, error) {
	pending, err := r.SendBundle(ctx, txs, targetBlock, SendOptions{Blocks: 1})
	if err != nil {
		return nil, err
	}
	return pending[0], nil
}

type decodedTransaction struct {
	tx     *types.Transaction
	sender common.Address
}

func decodeBundle(txs []domain.SignedTransaction, chainID *big.Int) ([]decodedTransaction, error) {
	signer := types.LatestSignerForChainID(chainID)
	decoded := make([]decodedTransaction, 0, len(txs))
	for i, raw := range txs {
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return nil, errors.Wrapf(err, "decode bundle transaction %d", i)
		}
		sender, err := types.Sender(signer, tx)
		if err != nil {
			return nil, errors.Wrapf(err, "recover sender of bundle transaction %d", i)
		}
		decoded = append(decoded, decodedTransaction{tx: tx, sender: sender})
	}
	return decoded, nil
}
