package httpapi

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundlerelay/internal/config"
	"bundlerelay/internal/domain"
)

var daiAddress = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

type fakeFees struct {
	params domain.FeeParams
	calls  int
	err    error
}

func (f *fakeFees) EstimateFee(_ context.Context, params domain.FeeParams) (domain.FeeEstimate, error) {
	f.calls++
	f.params = params
	if f.err != nil {
		return domain.FeeEstimate{}, f.err
	}
	return domain.FeeEstimate{
		BribeInEth:    big.NewInt(12_000_000_000_000_000),
		BribeInTokens: new(big.Int).Mul(big.NewInt(24), big.NewInt(1_000_000_000_000_000_000)),
	}, nil
}

type fakePopulator struct {
	err error
}

func (f *fakePopulator) PopulateTransactions(_ context.Context, from common.Address, fragments []domain.TransactionFragment) ([]domain.PopulatedTransaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.PopulatedTransaction, 0, len(fragments))
	for i, fragment := range fragments {
		out = append(out, domain.PopulatedTransaction{
			ChainID:  big.NewInt(1),
			From:     from,
			To:       fragment.To,
			Nonce:    uint64(7 + i),
			GasLimit: uint64(fragment.GasLimit),
			GasPrice: big.NewInt(0),
			Value:    fragment.ValueOrZero(),
			Data:     fragment.Data,
		})
	}
	return out, nil
}

type fakeBundles struct {
	attempts  map[string]domain.BundleAttempt
	submitted [][]domain.SignedTransaction
	cancelled []string
}

func newFakeBundles() *fakeBundles {
	return &fakeBundles{attempts: make(map[string]domain.BundleAttempt)}
}

func (f *fakeBundles) Submit(_ context.Context, key string, txs []domain.SignedTransaction) (domain.BundleAttempt, error) {
	f.submitted = append(f.submitted, txs)
	attempt := domain.BundleAttempt{ID: "a1", Key: key, ChainID: 1, Transactions: txs, Status: domain.StatusIdle}
	f.attempts[attempt.ID] = attempt
	return attempt, nil
}

func (f *fakeBundles) Get(_ context.Context, id string) (domain.BundleAttempt, bool, error) {
	attempt, ok := f.attempts[id]
	return attempt, ok, nil
}

func (f *fakeBundles) List(_ context.Context, key string, _ int) ([]domain.BundleAttempt, error) {
	var out []domain.BundleAttempt
	for _, attempt := range f.attempts {
		if key == "" || attempt.Key == key {
			out = append(out, attempt)
		}
	}
	return out, nil
}

func (f *fakeBundles) Cancel(id string) bool {
	attempt, ok := f.attempts[id]
	if !ok || attempt.Status.Terminal() {
		return false
	}
	f.cancelled = append(f.cancelled, id)
	return true
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeRPC struct{ err error }

func (f fakeRPC) LatestBlockNumber(context.Context) (uint64, error) { return 100, f.err }

type testServer struct {
	server  *Server
	fees    *fakeFees
	bundles *fakeBundles
}

func newTestServer(t *testing.T, mutate func(*Dependencies)) testServer {
	t.Helper()
	network, err := config.LookupNetwork(1)
	require.NoError(t, err)
	fees := &fakeFees{}
	bundles := newFakeBundles()
	deps := Dependencies{
		Fees:              fees,
		Populator:         &fakePopulator{},
		Bundles:           bundles,
		Store:             fakePinger{},
		RPC:               fakeRPC{},
		Network:           network,
		PremiumMultiplier: 2,
	}
	if mutate != nil {
		mutate(&deps)
	}
	server, err := NewServer(deps, BuildInfo{Version: "test", Commit: "abc"})
	require.NoError(t, err)
	return testServer{server: server, fees: fees, bundles: bundles}
}

func do(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewServerRequiresDependencies(t *testing.T) {
	_, err := NewServer(Dependencies{}, BuildInfo{})
	require.Error(t, err)
}

func TestHealthVersionAndReady(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := do(t, ts.server, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, ts.server, http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", decode[BuildInfo](t, rec).Version)

	rec = do(t, ts.server, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	notReady := newTestServer(t, func(d *Dependencies) { d.Store = fakePinger{err: errors.New("down")} })
	rec = do(t, notReady.server, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "db not ready", decode[errorResponse](t, rec).Error)

	rpcDown := newTestServer(t, func(d *Dependencies) { d.RPC = fakeRPC{err: errors.New("down")} })
	rec = do(t, rpcDown.server, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.server.MetricsObserver().OnLatestBlock(321)
	ts.server.MetricsObserver().Notify(context.Background(), domain.BundleEvent{Type: domain.EventSubmitted, Attempt: 1})

	do(t, ts.server, http.MethodGet, "/healthz", "")
	rec := do(t, ts.server, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "bundlerelay_latest_block 321")
	assert.Contains(t, body, `bundlerelay_bundle_events_total{type="submitted"} 1`)
	assert.Contains(t, body, "bundlerelay_bundles_pending 1")
	assert.Contains(t, body, `bundlerelay_http_requests_total{code="200",method="GET",route="/healthz"} 1`)
}

func TestEstimateFee(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := do(t, ts.server, http.MethodPost, "/fees/estimate", `{"token":"`+daiAddress.Hex()+`","gas_limit":200000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[feeResponse](t, rec)
	assert.Equal(t, "12000000000000000", resp.BribeInEth)
	assert.Equal(t, "24000000000000000000", resp.BribeInTokens)

	assert.Equal(t, int32(18), ts.fees.params.TokenDecimals)
	assert.Equal(t, 2.0, ts.fees.params.PremiumMultiplier)
	assert.Equal(t, uint64(200000), ts.fees.params.BundleGasLimit)
}

func TestEstimateFeeValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := do(t, ts.server, http.MethodPost, "/fees/estimate", `{"gas_limit":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "must include 'token' field", decode[errorResponse](t, rec).Error)

	unknown := common.HexToAddress("0x1234").Hex()
	rec = do(t, ts.server, http.MethodPost, "/fees/estimate", `{"token":"`+unknown+`","gas_limit":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "must include 'token_decimals' field", decode[errorResponse](t, rec).Error)

	rec = do(t, ts.server, http.MethodPost, "/fees/estimate", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, ts.fees.calls)
}

func TestEstimateFeeMapsOracleErrors(t *testing.T) {
	cases := map[error]int{
		domain.ErrOracleUnavailable: http.StatusBadGateway,
		domain.ErrInvalidPrice:      http.StatusBadGateway,
		domain.ErrUnsupportedToken:  http.StatusBadRequest,
		domain.ErrInvalidMultiplier: http.StatusBadRequest,
		domain.ErrInvalidDecimals:   http.StatusBadRequest,
		errors.New("boom"):          http.StatusInternalServerError,
	}
	for cause, status := range cases {
		ts := newTestServer(t, func(d *Dependencies) { d.Fees = &fakeFees{err: errors.Wrap(cause, "estimate")} })
		rec := do(t, ts.server, http.MethodPost, "/fees/estimate", `{"token":"`+daiAddress.Hex()+`","token_decimals":18,"gas_limit":1}`)
		assert.Equal(t, status, rec.Code, cause.Error())
	}
}

func TestStatusForDomainErrors(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(errors.Wrap(domain.ErrSignatureMismatch, "tx 0")))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(&domain.SimulationError{}))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(errors.Wrapf(domain.ErrRetryDeadline, "after %s", time.Minute)))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusBadRequest, statusFor(errors.Wrapf(domain.ErrInvalidDecimals, "%d", 100)))
}

func TestBuildBundle(t *testing.T) {
	ts := newTestServer(t, nil)
	body := `{"token":"` + daiAddress.Hex() + `","recipient":"0x000000000000000000000000000000000000bEEF",` +
		`"amount":"1000000000000000000","fee_tokens":"24000000000000000000","bribe_wei":"12000000000000000","deadline":2000000000}`

	rec := do(t, ts.server, http.MethodPost, "/bundles/build", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[buildResponse](t, rec)
	require.Len(t, resp.Fragments, 3)
	assert.Equal(t, uint64(65000+50000+200000), resp.TotalGasLimit)

	rec = do(t, ts.server, http.MethodPost, "/bundles/build", strings.Replace(body, `"1000000000000000000"`, `"1.5"`, 1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, ts.server, http.MethodPost, "/bundles/build", strings.Replace(body, daiAddress.Hex(), common.HexToAddress("0x99").Hex(), 1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPopulate(t *testing.T) {
	ts := newTestServer(t, nil)
	from := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	body := `{"from":"` + from.Hex() + `","fragments":[{"to":"` + daiAddress.Hex() + `","data":"0x01","gasLimit":"0x5208"}]}`

	rec := do(t, ts.server, http.MethodPost, "/bundles/populate", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entries := decode[[]populatedEntry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(7), entries[0].Transaction.Nonce)
	assert.Equal(t, uint64(21000), entries[0].Transaction.GasLimit)
	assert.NotEqual(t, common.Hash{}, entries[0].SigningDigest)

	rec = do(t, ts.server, http.MethodPost, "/bundles/populate", `{"fragments":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	failing := newTestServer(t, func(d *Dependencies) {
		d.Populator = &fakePopulator{err: &domain.MissingFieldError{Field: "gasLimit"}}
	})
	rec = do(t, failing.server, http.MethodPost, "/bundles/populate", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func signedTx(t *testing.T) hexutil.Bytes {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress("0x01")
	tx, err := types.SignNewTx(key, types.NewEIP155Signer(big.NewInt(1)), &types.LegacyTx{
		Nonce: 1, GasPrice: big.NewInt(0), Gas: 21000, To: &to, Value: big.NewInt(0),
	})
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func TestSubmitGetAndCancelBundle(t *testing.T) {
	ts := newTestServer(t, nil)
	raw := signedTx(t)

	rec := do(t, ts.server, http.MethodPost, "/bundles", `{"key":"order-1","signed_transactions":["`+raw.String()+`"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	created := decode[attemptResponse](t, rec)
	assert.Equal(t, "a1", created.ID)
	assert.Equal(t, "order-1", created.Key)
	require.Len(t, ts.bundles.submitted, 1)
	assert.Equal(t, []byte(raw), []byte(ts.bundles.submitted[0][0]))

	rec = do(t, ts.server, http.MethodGet, "/bundles/a1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decode[attemptResponse](t, rec).Status)

	rec = do(t, ts.server, http.MethodGet, "/bundles?key=order-1&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]attemptResponse](t, rec), 1)

	rec = do(t, ts.server, http.MethodGet, "/bundles?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, ts.server, http.MethodDelete, "/bundles/a1", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"a1"}, ts.bundles.cancelled)

	ts.bundles.attempts["a1"] = domain.BundleAttempt{ID: "a1", Status: domain.StatusSuccess, UpdatedAt: time.Now()}
	rec = do(t, ts.server, http.MethodDelete, "/bundles/a1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, ts.server, http.MethodGet, "/bundles/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, ts.server, http.MethodDelete, "/bundles/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitBundleValidates(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := do(t, ts.server, http.MethodPost, "/bundles", `{"key":"k","signed_transactions":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, ts.server, http.MethodPost, "/bundles", `{"key":"k","signed_transactions":["0xdeadbeef"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "signed_transactions[0] is not a signed transaction", decode[errorResponse](t, rec).Error)
	assert.Empty(t, ts.bundles.submitted)
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := do(t, ts.server, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
}
