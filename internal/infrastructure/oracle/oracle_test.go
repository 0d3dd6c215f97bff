package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundlerelay/internal/domain"
)

type staticTokens struct {
	stable map[common.Address]bool
	ids    map[common.Address]string
}

func (s staticTokens) IsStablecoin(token common.Address) bool { return s.stable[token] }

func (s staticTokens) PriceID(token common.Address) (string, bool) {
	id, ok := s.ids[token]
	return id, ok
}

var (
	daiAddress  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	uniAddress  = common.HexToAddress("0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984")
	testTokens  = staticTokens{stable: map[common.Address]bool{daiAddress: true}, ids: map[common.Address]string{uniAddress: "uniswap"}}
	unknownAddr = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

func TestGasPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gas/price", r.URL.Path)
		fmt.Fprint(w, `{"code":200,"data":{"rapid":20000000000,"fast":15000000000,"standard":10000000000,"slow":5000000000,"timestamp":1620000000000}}`)
	}))
	defer server.Close()

	client, err := NewGasClient(server.URL, SpeedRapid, server.Client(), nil)
	require.NoError(t, err)

	price, err := client.GasPrice(context.Background(), SpeedRapid)
	require.NoError(t, err)
	assert.Equal(t, "20000000000", price.String())

	price, err = client.GasPrice(context.Background(), SpeedSlow)
	require.NoError(t, err)
	assert.Equal(t, "5000000000", price.String())

	price, err = client.CurrentGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "20000000000", price.String())
}

func TestNewGasClientRejectsUnknownSpeed(t *testing.T) {
	_, err := NewGasClient("http://oracle", Speed("warp"), nil, nil)
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
}

func TestGasPriceFailures(t *testing.T) {
	cases := map[string]func(w http.ResponseWriter){
		"status":    func(w http.ResponseWriter) { w.WriteHeader(http.StatusBadGateway) },
		"code":      func(w http.ResponseWriter) { fmt.Fprint(w, `{"code":500,"data":{}}`) },
		"malformed": func(w http.ResponseWriter) { fmt.Fprint(w, `{"code":200,"data":`) },
		"missing":   func(w http.ResponseWriter) { fmt.Fprint(w, `{"code":200,"data":{"fast":1}}`) },
		"zero":      func(w http.ResponseWriter) { fmt.Fprint(w, `{"code":200,"data":{"rapid":0}}`) },
	}
	for name, respond := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { respond(w) }))
			defer server.Close()

			client, err := NewGasClient(server.URL, SpeedRapid, server.Client(), nil)
			require.NoError(t, err)
			_, err = client.GasPrice(context.Background(), SpeedRapid)
			assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
		})
	}
}

func TestGasPriceUnknownSpeed(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	client, err := NewGasClient(server.URL, SpeedRapid, server.Client(), nil)
	require.NoError(t, err)
	_, err = client.GasPrice(context.Background(), Speed("ludicrous"))
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestTokenPriceStablecoinSkipsNetwork(t *testing.T) {
	client, err := NewPriceClient("http://127.0.0.1:1", testTokens, nil, nil)
	require.NoError(t, err)

	price, err := client.TokenPriceInUSD(context.Background(), daiAddress)
	require.NoError(t, err)
	assert.Equal(t, "1", price.String())
}

func TestTokenPriceLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "uniswap", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		fmt.Fprint(w, `{"uniswap":{"usd":12.345}}`)
	}))
	defer server.Close()

	client, err := NewPriceClient(server.URL, testTokens, server.Client(), nil)
	require.NoError(t, err)

	price, err := client.TokenPriceInUSD(context.Background(), uniAddress)
	require.NoError(t, err)
	assert.Equal(t, "12.345", price.String())
}

func TestTokenPriceErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client, err := NewPriceClient(server.URL, testTokens, server.Client(), nil)
	require.NoError(t, err)

	_, err = client.TokenPriceInUSD(context.Background(), unknownAddr)
	assert.ErrorIs(t, err, domain.ErrUnsupportedToken)

	_, err = client.TokenPriceInUSD(context.Background(), uniAddress)
	assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
}
