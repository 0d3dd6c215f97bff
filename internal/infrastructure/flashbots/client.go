package flashbots

import (
	"context"
	"crypto/ecdsa"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"bundlerelay/internal/domain"
	"bundlerelay/internal/infrastructure/telemetry"
)

const tracerName = "bundlerelay/flashbots"

// Client talks to a Flashbots style private relay.
type Client struct {
	rpc    *rpc.Client
	signer *AuthSigner
	url    string
	logger *zap.Logger
}

type Config struct {
	URL       string
	AuthKey   *ecdsa.PrivateKey
	Transport http.RoundTripper
	Timeout   time.Duration
}

func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("relay url is required")
	}
	if cfg.AuthKey == nil {
		return nil, errors.New("relay auth key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	signer := NewAuthSigner(cfg.AuthKey)
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: &authTransport{signer: signer, base: base},
	}
	rpcClient, err := rpc.DialOptions(ctx, cfg.URL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, errors.Wrap(err, "dial relay")
	}
	return &Client{rpc: rpcClient, signer: signer, url: cfg.URL, logger: logger}, nil
}

func (c *Client) AuthAddress() common.Address {
	return c.signer.Address()
}

func (c *Client) Close() {
	c.rpc.Close()
}

type callBundleArgs struct {
	Txs              []string       `json:"txs"`
	BlockNumber      hexutil.Uint64 `json:"blockNumber"`
	StateBlockNumber string         `json:"stateBlockNumber"`
	Timestamp        *uint64        `json:"timestamp,omitempty"`
}

type callBundleResponse struct {
	BundleGasPrice    string                      `json:"bundleGasPrice"`
	BundleHash        common.Hash                 `json:"bundleHash"`
	CoinbaseDiff      string                      `json:"coinbaseDiff"`
	EthSentToCoinbase string                      `json:"ethSentToCoinbase"`
	GasFees           string                      `json:"gasFees"`
	Results           []domain.SimulationTxResult `json:"results"`
	StateBlockNumber  uint64                      `json:"stateBlockNumber"`
	TotalGasUsed      uint64                      `json:"totalGasUsed"`
}

// Simulate runs eth_callBundle against latest state for targetBlock. Relay
// side failures come back as a non-ok result; only transport failures are errors.
func (c *Client) Simulate(ctx context.Context, bundle domain.SignedBundle, targetBlock uint64) (result domain.SimulationResult, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "relay.call_bundle",
		attribute.Int64("bundle.target_block", int64(targetBlock)),
		attribute.Int("bundle.size", len(bundle.Entries)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	var resp callBundleResponse
	callErr := c.rpc.CallContext(ctx, &resp, "eth_callBundle", callBundleArgs{
		Txs:              bundle.RawTransactions(),
		BlockNumber:      hexutil.Uint64(targetBlock),
		StateBlockNumber: "latest",
	})
	if callErr != nil {
		var rpcErr rpc.Error
		if errors.As(callErr, &rpcErr) {
			return domain.SimulationResult{Kind: domain.SimulationErrored, RevertIndex: -1, Message: rpcErr.Error()}, nil
		}
		return domain.SimulationResult{}, errors.Wrap(callErr, "eth_callBundle")
	}

	result = classify(resp)
	span.SetAttributes(attribute.String("bundle.simulation", string(result.Kind)))
	c.logger.Sugar().Debugw("bundle simulated",
		"target_block", targetBlock,
		"result", result.Kind,
		"bundle_hash", resp.BundleHash.Hex(),
		"total_gas_used", resp.TotalGasUsed,
	)
	return result, nil
}

func classify(resp callBundleResponse) domain.SimulationResult {
	trace := domain.SimulationTrace{
		BundleHash:        resp.BundleHash,
		BundleGasPrice:    resp.BundleGasPrice,
		CoinbaseDiff:      resp.CoinbaseDiff,
		EthSentToCoinbase: resp.EthSentToCoinbase,
		GasFees:           resp.GasFees,
		StateBlockNumber:  resp.StateBlockNumber,
		TotalGasUsed:      resp.TotalGasUsed,
		Results:           resp.Results,
	}
	for i, tx := range resp.Results {
		if tx.Error == "" && tx.Revert == "" {
			continue
		}
		message := tx.Revert
		if message == "" {
			message = tx.Error
		}
		return domain.SimulationResult{Kind: domain.SimulationReverted, RevertIndex: i, Message: message, Trace: trace}
	}
	return domain.SimulationResult{Kind: domain.SimulationOK, RevertIndex: -1, Trace: trace}
}

type sendBundleArgs struct {
	Txs               []string       `json:"txs"`
	BlockNumber       hexutil.Uint64 `json:"blockNumber"`
	MinTimestamp      *uint64        `json:"minTimestamp,omitempty"`
	MaxTimestamp      *uint64        `json:"maxTimestamp,omitempty"`
	RevertingTxHashes []common.Hash  `json:"revertingTxHashes,omitempty"`
}

type sendBundleResponse struct {
	BundleHash common.Hash `json:"bundleHash"`
}

// SendBundle submits the bundle for exactly one target block. A relay
// JSON-RPC error is returned as *domain.RelayError.
func (c *Client) SendBundle(ctx context.Context, bundle domain.SignedBundle, targetBlock uint64, opts domain.BundleOptions) (hash common.Hash, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "relay.send_bundle",
		attribute.Int64("bundle.target_block", int64(targetBlock)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	args := sendBundleArgs{
		Txs:               bundle.RawTransactions(),
		BlockNumber:       hexutil.Uint64(targetBlock),
		RevertingTxHashes: opts.RevertingTxHashes,
	}
	if opts.MinTimestamp > 0 {
		args.MinTimestamp = &opts.MinTimestamp
	}
	if opts.MaxTimestamp > 0 {
		args.MaxTimestamp = &opts.MaxTimestamp
	}

	var resp sendBundleResponse
	if err := c.rpc.CallContext(ctx, &resp, "eth_sendBundle", args); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return common.Hash{}, &domain.RelayError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
		}
		return common.Hash{}, errors.Wrap(err, "eth_sendBundle")
	}

	c.logger.Sugar().Infow("bundle submitted", "target_block", targetBlock, "bundle_hash", resp.BundleHash.Hex())
	return resp.BundleHash, nil
}
