package application

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"bundlerelay/internal/domain"
)

type fakeNode struct {
	mu         sync.Mutex
	chainID    uint64
	block      uint64
	nonces     map[common.Address]uint64
	receipts   map[common.Hash]*types.Receipt
	nonceCalls int
	calls      int
}

func newFakeNode(chainID uint64) *fakeNode {
	return &fakeNode{
		chainID:  chainID,
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (n *fakeNode) ChainID(context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return n.chainID, nil
}

func (n *fakeNode) LatestBlockNumber(context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return n.block, nil
}

func (n *fakeNode) TransactionCount(_ context.Context, account common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	n.nonceCalls++
	return n.nonces[account], nil
}

func (n *fakeNode) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	receipt, ok := n.receipts[hash]
	return receipt, ok, nil
}

func (n *fakeNode) setBlock(block uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.block = block
}

func (n *fakeNode) setNonce(account common.Address, nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nonces[account] = nonce
}

func (n *fakeNode) include(hash common.Hash) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts[hash] = &types.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful}
}

type fakeRelay struct {
	mu          sync.Mutex
	simulations []uint64
	submissions []uint64
	simulate    func(targetBlock uint64) (domain.SimulationResult, error)
	send        func(targetBlock uint64) (common.Hash, error)
	auth        common.Address
	closed      bool
}

func (r *fakeRelay) Simulate(_ context.Context, _ domain.SignedBundle, targetBlock uint64) (domain.SimulationResult, error) {
	r.mu.Lock()
	r.simulations = append(r.simulations, targetBlock)
	r.mu.Unlock()
	if r.simulate != nil {
		return r.simulate(targetBlock)
	}
	return domain.SimulationResult{Kind: domain.SimulationOK, RevertIndex: -1}, nil
}

func (r *fakeRelay) SendBundle(_ context.Context, _ domain.SignedBundle, targetBlock uint64, _ domain.BundleOptions) (common.Hash, error) {
	r.mu.Lock()
	r.submissions = append(r.submissions, targetBlock)
	r.mu.Unlock()
	if r.send != nil {
		return r.send(targetBlock)
	}
	return common.BigToHash(new(big.Int).SetUint64(targetBlock)), nil
}

func (r *fakeRelay) AuthAddress() common.Address { return r.auth }

func (r *fakeRelay) Close() { r.closed = true }

func (r *fakeRelay) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.simulations), len(r.submissions)
}

// fakeWallet signs digests with a local key, optionally prefixing them the way
// personal_sign does when its rewrite is active.
type fakeWallet struct {
	key        *ecdsa.PrivateKey
	rewrite    bool
	failAt     int
	mu         sync.Mutex
	prompts    int
	suppressed bool
	restored   int
}

func (w *fakeWallet) address() common.Address {
	return crypto.PubkeyToAddress(w.key.PublicKey)
}

func (w *fakeWallet) SuppressPrefixRewrite(context.Context) (func(), error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	previous := w.rewrite
	w.rewrite = false
	w.suppressed = true
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.rewrite = previous
		w.suppressed = false
		w.restored++
	}, nil
}

func (w *fakeWallet) SignDigest(_ context.Context, _ common.Address, digest common.Hash) ([]byte, error) {
	w.mu.Lock()
	w.prompts++
	prompt := w.prompts
	rewrite := w.rewrite
	w.mu.Unlock()
	if w.failAt > 0 && prompt == w.failAt {
		return nil, errUserRejected
	}
	payload := digest[:]
	if rewrite {
		payload = accounts.TextHash(digest[:])
	}
	signature, err := crypto.Sign(payload, w.key)
	if err != nil {
		return nil, err
	}
	signature[64] += 27
	return signature, nil
}

var errUserRejected = errorString("user rejected the request")

type errorString string

func (e errorString) Error() string { return string(e) }

func newWallet(t *testing.T) *fakeWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeWallet{key: key}
}

func signLegacy(t *testing.T, key *ecdsa.PrivateKey, chainID uint64, nonce uint64) domain.SignedTransaction {
	t.Helper()
	to := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	tx := types.NewTx(&types.LegacyTx{Nonce: nonce, GasPrice: new(big.Int), Gas: 21000, To: &to, Value: new(big.Int)})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(new(big.Int).SetUint64(chainID)), key)
	require.NoError(t, err)
	raw, err := signed.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func txHash(t *testing.T, raw domain.SignedTransaction) common.Hash {
	t.Helper()
	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(raw))
	return tx.Hash()
}
