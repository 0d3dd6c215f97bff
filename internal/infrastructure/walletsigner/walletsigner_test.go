package walletsigner

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeWallet struct {
	key *ecdsa.PrivateKey

	mu      sync.Mutex
	methods []string
}

func (w *fakeWallet) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var msg struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params []string        `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	w.mu.Lock()
	w.methods = append(w.methods, msg.Method)
	w.mu.Unlock()

	var payload []byte
	switch msg.Method {
	case "eth_sign":
		payload = hexutil.MustDecode(msg.Params[1])
	case "personal_sign":
		payload = accounts.TextHash(hexutil.MustDecode(msg.Params[0]))
	}
	signature, _ := crypto.Sign(payload, w.key)
	signature[64] += 27

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      msg.ID,
		"result":  hexutil.Encode(signature),
	})
}

func (w *fakeWallet) calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.methods...)
}

func newRPCProvider(t *testing.T, rewrite bool) (*RPCProvider, *fakeWallet, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := &fakeWallet{key: key}
	server := httptest.NewServer(wallet)
	t.Cleanup(server.Close)

	provider, err := DialRPCProvider(context.Background(), RPCConfig{URL: server.URL, RewriteToPersonalSign: rewrite}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(provider.Close)
	return provider, wallet, crypto.PubkeyToAddress(key.PublicKey)
}

func recoverSigner(t *testing.T, digest common.Hash, signature []byte) common.Address {
	t.Helper()
	sig := append([]byte(nil), signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(*pub)
}

func TestRPCProviderSuppressesRewrite(t *testing.T) {
	provider, wallet, from := newRPCProvider(t, true)
	digest := crypto.Keccak256Hash([]byte("bundle"))

	prefixed, err := provider.SignDigest(context.Background(), from, digest)
	require.NoError(t, err)
	assert.NotEqual(t, from, recoverSigner(t, digest, prefixed))

	restore, err := provider.SuppressPrefixRewrite(context.Background())
	require.NoError(t, err)
	assert.False(t, provider.RewritesToPersonalSign())

	raw, err := provider.SignDigest(context.Background(), from, digest)
	require.NoError(t, err)
	assert.Equal(t, from, recoverSigner(t, digest, raw))

	restore()
	restore()
	assert.True(t, provider.RewritesToPersonalSign())
	assert.Equal(t, []string{"personal_sign", "eth_sign"}, wallet.calls())
}

func TestRPCProviderSessionsAreExclusive(t *testing.T) {
	provider, _, _ := newRPCProvider(t, true)

	restore, err := provider.SuppressPrefixRewrite(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = provider.SuppressPrefixRewrite(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, provider.RewritesToPersonalSign())

	restore()
	second, err := provider.SuppressPrefixRewrite(context.Background())
	require.NoError(t, err)
	second()
	assert.True(t, provider.RewritesToPersonalSign())
}

func TestKeyProvider(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	provider := NewKeyProvider(key)
	digest := crypto.Keccak256Hash([]byte("digest"))

	restore, err := provider.SuppressPrefixRewrite(context.Background())
	require.NoError(t, err)
	defer restore()

	signature, err := provider.SignDigest(context.Background(), provider.Address(), digest)
	require.NoError(t, err)
	assert.Equal(t, provider.Address(), recoverSigner(t, digest, signature))

	_, err = provider.SignDigest(context.Background(), common.HexToAddress("0x01"), digest)
	assert.Error(t, err)
}

func TestNewKeyProviderFromHex(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	provider, err := NewKeyProviderFromHex("0x" + common.Bytes2Hex(crypto.FromECDSA(key)))
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), provider.Address())

	_, err = NewKeyProviderFromHex("not-a-key")
	assert.Error(t, err)
}
