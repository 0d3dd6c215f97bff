package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bundlerelay/internal/application"
	"bundlerelay/internal/config"
	"bundlerelay/internal/infrastructure/ethrpc"
	"bundlerelay/internal/infrastructure/flashbots"
	"bundlerelay/internal/infrastructure/kafka"
	"bundlerelay/internal/infrastructure/logging"
	"bundlerelay/internal/infrastructure/oracle"
	"bundlerelay/internal/infrastructure/storage"
	"bundlerelay/internal/infrastructure/telemetry"
	"bundlerelay/internal/interfaces/httpapi"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "relayd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/relayd.log"
	}
	logger, logWriter, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		File:       logFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
		if logWriter != nil {
			_ = logWriter.Close()
		}
	}()
	sugar := logger.Sugar()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName:    "bundlerelay-relayd",
		ServiceVersion: version,
		Endpoint:       cfg.OtelEndpoint,
	})
	if err != nil {
		sugar.Warnw("tracing init error", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			sugar.Warnw("tracing shutdown error", "error", err)
		}
	}()

	store, err := storage.Open(storage.Config{
		Driver:    cfg.StoreDriver,
		SQLite:    cfg.DBPath,
		MySQLDSN:  cfg.DBDSN,
		RedisAddr: cfg.RedisAddr,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	node, err := ethrpc.Dial(ctx, ethrpc.Config{URL: cfg.RPCURL})
	if err != nil {
		return err
	}
	defer node.Close()

	builder, err := application.NewRelayerBuilder(cfg.ChainID, application.RelayerOptions{
		RelayURL:     cfg.RelayURL,
		DialRelay:    relayDialer(logger),
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	relayer, err := builder.Open(ctx, node, cfg.RelayAuthKey)
	if err != nil {
		return err
	}
	defer relayer.Close()

	fees, err := newFeeEstimator(cfg, logger)
	if err != nil {
		return err
	}

	metrics := httpapi.NewMetrics()
	notifiers := application.Notifiers{application.NewLogNotifier(logger), metrics}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, logger)
		if err != nil {
			return err
		}
		defer producer.Close()
		notifiers = append(notifiers, producer)
	}

	poller := ethrpc.NewBlockPoller(node, cfg.PollInterval, logger)
	go poller.Run(ctx)
	go trackLatestBlock(ctx, poller, metrics)

	manager, err := application.NewManager(ctx, relayer, poller, notifiers, store, logger, application.ManagerConfig{
		ChainID:          cfg.ChainID,
		ControllerConfig: application.ControllerConfig{MaxWait: cfg.MaxWait},
	})
	if err != nil {
		return err
	}

	server, err := httpapi.NewServer(httpapi.Dependencies{
		Fees:              fees,
		Populator:         relayer,
		Bundles:           manager,
		Store:             store,
		RPC:               node,
		Tokens:            config.NewTokenRegistry(cfg.PriceTokenIDs),
		Network:           relayer.Network(),
		PremiumMultiplier: cfg.PremiumMultiplier,
		Metrics:           metrics,
		Logger:            logger,
	}, httpapi.BuildInfo{Version: version, Commit: commit, BuildTime: buildTime})
	if err != nil {
		return err
	}

	sugar.Infow("relayd started",
		"chain_id", cfg.ChainID,
		"network", relayer.Network().Name,
		"relay", builder.RelayURL(),
		"addr", cfg.HTTPAddr,
		"store", cfg.StoreDriver,
	)
	serveErr := server.ListenAndServe(ctx, cfg.HTTPAddr)
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		sugar.Errorw("http server error", "error", serveErr)
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("bundle manager shutdown error", "error", err)
	}
	sugar.Info("relayd stopped")
	return serveErr
}

func relayDialer(logger *zap.Logger) application.RelayDialer {
	return func(ctx context.Context, url string, authKey *ecdsa.PrivateKey) (application.RelayTransport, error) {
		return flashbots.Dial(ctx, flashbots.Config{URL: url, AuthKey: authKey}, logger)
	}
}

func newFeeEstimator(cfg config.Config, logger *zap.Logger) (*application.FeeEstimator, error) {
	speed, err := oracle.ParseSpeed(cfg.GasSpeed)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: 10 * time.Second}
	gas, err := oracle.NewGasClient(cfg.GasOracleURL, speed, httpClient, logger)
	if err != nil {
		return nil, err
	}
	prices, err := oracle.NewPriceClient(cfg.PriceOracleURL, config.NewTokenRegistry(cfg.PriceTokenIDs), httpClient, logger)
	if err != nil {
		return nil, err
	}
	return application.NewFeeEstimator(gas, prices, config.NativeCurrency, logger)
}

func trackLatestBlock(ctx context.Context, poller *ethrpc.BlockPoller, metrics *httpapi.Metrics) {
	blocks, unsubscribe := poller.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case block := <-blocks:
			metrics.OnLatestBlock(block)
		}
	}
}
