package ethrpc

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// Client is the node JSON-RPC surface used by the relay: chain id, block
// height, account nonces and receipts.
type Client struct {
	rpc *rpc.Client
	eth *ethclient.Client
}

type Config struct {
	URL        string
	HTTPClient *http.Client
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rpc url is required")
	}
	var opts []rpc.ClientOption
	if cfg.HTTPClient != nil {
		opts = append(opts, rpc.WithHTTPClient(cfg.HTTPClient))
	} else {
		opts = append(opts, rpc.WithHTTPClient(&http.Client{Timeout: 15 * time.Second}))
	}
	rpcClient, err := rpc.DialOptions(ctx, cfg.URL, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "dial node")
	}
	return NewClient(rpcClient), nil
}

func NewClient(rpcClient *rpc.Client) *Client {
	return &Client{
		rpc: rpcClient,
		eth: ethclient.NewClient(rpcClient),
	}
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "eth_chainId")
	}
	if !id.IsUint64() {
		return 0, errors.Errorf("chain id %s out of range", id)
	}
	return id.Uint64(), nil
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	number, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "eth_blockNumber")
	}
	return number, nil
}

// TransactionCount returns the account nonce at the latest block.
func (c *Client) TransactionCount(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := c.eth.NonceAt(ctx, account, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "eth_getTransactionCount %s", account.Hex())
	}
	return nonce, nil
}

// TransactionReceipt returns the receipt, or ok=false when the node does not know it.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, bool, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "eth_getTransactionReceipt %s", hash.Hex())
	}
	return receipt, true, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}
