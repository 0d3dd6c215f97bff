package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"bundlerelay/internal/domain"
	"bundlerelay/internal/infrastructure/telemetry"
)

// PriceIDResolver maps token addresses to price oracle ids.
type PriceIDResolver interface {
	IsStablecoin(token common.Address) bool
	PriceID(token common.Address) (string, bool)
}

// PriceClient reads USD prices from a CoinGecko compatible endpoint.
type PriceClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     PriceIDResolver
	logger     *zap.Logger
}

func NewPriceClient(baseURL string, tokens PriceIDResolver, httpClient *http.Client, logger *zap.Logger) (*PriceClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("price oracle url is required")
	}
	if tokens == nil {
		return nil, errors.New("token registry must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(httpClient),
		tokens:     tokens,
		logger:     logger,
	}, nil
}

func (c *PriceClient) TokenPriceInUSD(ctx context.Context, token common.Address) (price decimal.Decimal, err error) {
	if c.tokens.IsStablecoin(token) {
		return decimal.NewFromInt(1), nil
	}
	id, ok := c.tokens.PriceID(token)
	if !ok {
		return decimal.Decimal{}, errors.Wrapf(domain.ErrUnsupportedToken, "no price id for %s", token.Hex())
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "oracle.token_price", attribute.String("price.id", id))
	defer func() { telemetry.EndSpan(span, err) }()

	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", "usd")

	var resp map[string]map[string]json.Number
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/simple/price?"+query.Encode(), &resp); err != nil {
		return decimal.Decimal{}, err
	}
	quote, ok := resp[id]["usd"]
	if !ok {
		return decimal.Decimal{}, errors.Wrapf(domain.ErrOracleUnavailable, "price oracle has no usd price for %s", id)
	}
	value, err := decimal.NewFromString(quote.String())
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(domain.ErrOracleUnavailable, "price for %s %q: %v", id, quote, err)
	}

	c.logger.Sugar().Debugw("token price fetched", "token", token.Hex(), "id", id, "usd", value.String())
	return value, nil
}
