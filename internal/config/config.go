package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

type Config struct {
	RPCURL            string
	ChainID           uint64
	RelayURL          string
	RelayAuthKey      string
	GasOracleURL      string
	PriceOracleURL    string
	GasSpeed          string
	PriceTokenIDs     map[common.Address]string
	PremiumMultiplier float64
	PollInterval      time.Duration
	MaxWait           time.Duration
	HTTPAddr          string
	StoreDriver       string
	DBPath            string
	DBDSN             string
	RedisAddr         string
	KafkaBrokers      []string
	KafkaTopic        string
	OtelEndpoint      string
	LogLevel          string
	LogFile           string
	LogMaxSizeMB      int
	LogMaxBackups     int
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	rpcURL, ok := source.Lookup("RPC_URL")
	if !ok || strings.TrimSpace(rpcURL) == "" {
		return Config{}, errors.New("RPC_URL is required")
	}

	chainID, err := parseUintEnv(source, "CHAIN_ID", 1)
	if err != nil {
		return Config{}, err
	}

	relayURL := lookupTrimmed(source, "RELAY_URL", "")
	relayAuthKey := lookupTrimmed(source, "RELAY_AUTH_KEY", "")

	gasOracleURL := lookupTrimmed(source, "GAS_ORACLE_URL", DefaultGasOracleURL)
	priceOracleURL := lookupTrimmed(source, "PRICE_ORACLE_URL", DefaultPriceOracleURL)
	gasSpeed := strings.ToLower(lookupTrimmed(source, "GAS_SPEED", "rapid"))

	priceTokenIDs, err := parsePriceIDs(source, "PRICE_TOKEN_IDS")
	if err != nil {
		return Config{}, err
	}

	premiumMultiplier := 1.0
	if raw := lookupTrimmed(source, "PREMIUM_MULTIPLIER", ""); raw != "" {
		premiumMultiplier, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, errors.Wrap(err, "invalid PREMIUM_MULTIPLIER")
		}
		if premiumMultiplier <= 0 {
			return Config{}, errors.New("PREMIUM_MULTIPLIER must be greater than zero")
		}
	}

	pollInterval, err := parseDurationEnv(source, "POLL_INTERVAL", 4*time.Second)
	if err != nil {
		return Config{}, err
	}
	maxWait, err := parseDurationEnv(source, "MAX_WAIT", 0)
	if err != nil {
		return Config{}, err
	}

	httpAddr := lookupTrimmed(source, "HTTP_ADDR", ":8080")

	storeDriver := strings.ToLower(lookupTrimmed(source, "STORE_DRIVER", "sqlite"))
	switch storeDriver {
	case "sqlite", "mysql", "memory":
	default:
		return Config{}, fmt.Errorf("invalid STORE_DRIVER %q", storeDriver)
	}
	dbPath := lookupTrimmed(source, "DB_PATH", "bundlerelay.db")
	dbDSN := lookupTrimmed(source, "DB_DSN", "root:@tcp(127.0.0.1:3306)/bundlerelay?parseTime=true&multiStatements=true")

	redisAddr := ""
	if raw, ok := source.Lookup("REDIS_ADDR"); ok {
		redisAddr = strings.TrimSpace(raw)
	}

	kafkaBrokers, err := parseList(source, "KAFKA_BROKERS", "")
	if err != nil {
		return Config{}, err
	}
	kafkaTopic := lookupTrimmed(source, "KAFKA_TOPIC", "bundlerelay-events")

	otelEndpoint := lookupTrimmed(source, "OTEL_EXPORTER_OTLP_ENDPOINT", "")

	logLevel := lookupTrimmed(source, "LOG_LEVEL", "info")
	logFile := lookupTrimmed(source, "LOG_FILE", "")
	logMaxSize, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 3)
	if err != nil {
		return Config{}, err
	}

	return Config{
		RPCURL:            strings.TrimSpace(rpcURL),
		ChainID:           chainID,
		RelayURL:          relayURL,
		RelayAuthKey:      relayAuthKey,
		GasOracleURL:      gasOracleURL,
		PriceOracleURL:    priceOracleURL,
		GasSpeed:          gasSpeed,
		PriceTokenIDs:     priceTokenIDs,
		PremiumMultiplier: premiumMultiplier,
		PollInterval:      pollInterval,
		MaxWait:           maxWait,
		HTTPAddr:          httpAddr,
		StoreDriver:       storeDriver,
		DBPath:            dbPath,
		DBDSN:             dbDSN,
		RedisAddr:         redisAddr,
		KafkaBrokers:      kafkaBrokers,
		KafkaTopic:        kafkaTopic,
		OtelEndpoint:      otelEndpoint,
		LogLevel:          logLevel,
		LogFile:           logFile,
		LogMaxSizeMB:      int(logMaxSize),
		LogMaxBackups:     int(logMaxBackups),
	}, nil
}

func lookupTrimmed(source EnvSource, key, defaultValue string) string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue
	}
	return strings.TrimSpace(raw)
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	if duration < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return duration, nil
}

func parseList(source EnvSource, key string, defaultValue string) ([]string, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = defaultValue
	}
	var values []string
	for _, item := range strings.Split(raw, ",") {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	return values, nil
}

// parsePriceIDs reads "address=id" pairs separated by commas.
func parsePriceIDs(source EnvSource, key string) (map[common.Address]string, error) {
	items, err := parseList(source, key, "")
	if err != nil {
		return nil, err
	}
	ids := make(map[common.Address]string, len(items))
	for _, item := range items {
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid %s entry %q", key, item)
		}
		address := strings.TrimSpace(parts[0])
		if !common.IsHexAddress(address) {
			return nil, fmt.Errorf("invalid %s address %q", key, address)
		}
		ids[common.HexToAddress(address)] = strings.TrimSpace(parts[1])
	}
	return ids, nil
}
