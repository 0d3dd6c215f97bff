package oracle

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"bundlerelay/internal/domain"
	"bundlerelay/internal/infrastructure/telemetry"
)

const tracerName = "bundlerelay/oracle"

type Speed string

const (
	SpeedRapid    Speed = "rapid"
	SpeedFast     Speed = "fast"
	SpeedStandard Speed = "standard"
	SpeedSlow     Speed = "slow"
)

func ParseSpeed(raw string) (Speed, error) {
	speed := Speed(strings.ToLower(strings.TrimSpace(raw)))
	switch speed {
	case SpeedRapid, SpeedFast, SpeedStandard, SpeedSlow:
		return speed, nil
	default:
		return "", errors.Wrapf(domain.ErrOracleUnavailable, "unknown gas speed %q", raw)
	}
}

type gasResponse struct {
	Code int `json:"code"`
	Data struct {
		Rapid     json.Number `json:"rapid"`
		Fast      json.Number `json:"fast"`
		Standard  json.Number `json:"standard"`
		Slow      json.Number `json:"slow"`
		Timestamp json.Number `json:"timestamp"`
	} `json:"data"`
}

func (r gasResponse) value(speed Speed) json.Number {
	switch speed {
	case SpeedRapid:
		return r.Data.Rapid
	case SpeedFast:
		return r.Data.Fast
	case SpeedStandard:
		return r.Data.Standard
	default:
		return r.Data.Slow
	}
}

// GasClient reads wei gas prices from a GasNow compatible endpoint.
type GasClient struct {
	baseURL    string
	speed      Speed
	httpClient *http.Client
	logger     *zap.Logger
}

func NewGasClient(baseURL string, speed Speed, httpClient *http.Client, logger *zap.Logger) (*GasClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("gas oracle url is required")
	}
	if speed == "" {
		speed = SpeedRapid
	}
	if _, err := ParseSpeed(string(speed)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GasClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		speed:      speed,
		httpClient: newHTTPClient(httpClient),
		logger:     logger,
	}, nil
}

// CurrentGasPrice returns the price for the configured speed.
func (c *GasClient) CurrentGasPrice(ctx context.Context) (*big.Int, error) {
	return c.GasPrice(ctx, c.speed)
}

func (c *GasClient) GasPrice(ctx context.Context, speed Speed) (price *big.Int, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "oracle.gas_price", attribute.String("gas.speed", string(speed)))
	defer func() { telemetry.EndSpan(span, err) }()

	if _, err := ParseSpeed(string(speed)); err != nil {
		return nil, err
	}

	var resp gasResponse
	if err := getJSON(ctx, c.httpClient, c.baseURL+"/gas/price", &resp); err != nil {
		return nil, err
	}
	if resp.Code != http.StatusOK {
		return nil, errors.Wrapf(domain.ErrOracleUnavailable, "gas oracle returned code %d", resp.Code)
	}

	raw := resp.value(speed)
	if raw == "" {
		return nil, errors.Wrapf(domain.ErrOracleUnavailable, "gas oracle has no %s price", speed)
	}
	value, err := decimal.NewFromString(raw.String())
	if err != nil {
		return nil, errors.Wrapf(domain.ErrOracleUnavailable, "gas oracle %s price %q: %v", speed, raw, err)
	}
	if !value.IsPositive() || !value.Equal(value.Truncate(0)) {
		return nil, errors.Wrapf(domain.ErrOracleUnavailable, "gas oracle %s price %s is not a positive integer", speed, value)
	}

	c.logger.Sugar().Debugw("gas price fetched", "speed", speed, "wei", value.String())
	return value.BigInt(), nil
}
