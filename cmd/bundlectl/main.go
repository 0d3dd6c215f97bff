package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"bundlerelay/internal/config"
	"bundlerelay/internal/infrastructure/logging"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           "bundlectl",
		Short:         "Estimate fees for, build, sign and relay gasless transfer bundles",
		Version:       version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(cmd, v)
		},
	}

	flags := root.PersistentFlags()
	flags.String("rpc-url", "", "node JSON-RPC endpoint")
	flags.Uint64("chain-id", 1, "chain id (1 mainnet, 5 goerli)")
	flags.String("relay-url", "", "private relay endpoint override")
	flags.String("relay-auth-key", "", "hex private key used to sign relay requests")
	flags.String("gas-oracle-url", config.DefaultGasOracleURL, "gas price oracle base url")
	flags.String("price-oracle-url", config.DefaultPriceOracleURL, "USD price oracle base url")
	flags.String("gas-speed", "rapid", "gas oracle speed: rapid, fast, standard or slow")
	flags.Float64("premium-multiplier", 1, "fee premium multiplier")
	flags.String("log-level", "info", "log level")
	flags.String("kafka-brokers", "", "comma separated kafka brokers")
	flags.String("kafka-topic", "bundlerelay-events", "kafka topic for bundle events")

	root.AddCommand(
		newEstimateFeeCmd(v),
		newBuildCmd(v),
		newPopulateCmd(v),
		newSendCmd(v),
		newWatchCmd(v),
	)
	return root
}

// bindFlags exposes every flag to viper under its environment name, so
// --rpc-url and RPC_URL are interchangeable.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	v.AutomaticEnv()
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		if err := v.BindPFlag(envName(f.Name), f); err != nil {
			bindErr = fmt.Errorf("bind flag %q: %w", f.Name, err)
		}
	})
	return bindErr
}

func envName(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// loadConfig resolves configuration from flags and environment. Commands
// that never touch the node still need RPC_URL to satisfy config.Load.
func loadConfig(v *viper.Viper) (config.Config, error) {
	return config.Load(config.NewViperSource(v))
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, _, err := logging.Init(logging.Config{Level: cfg.LogLevel})
	return logger, err
}
