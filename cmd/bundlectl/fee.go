package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"bundlerelay/internal/application"
	"bundlerelay/internal/config"
	"bundlerelay/internal/domain"
	"bundlerelay/internal/infrastructure/oracle"
)

func newEstimateFeeCmd(v *viper.Viper) *cobra.Command {
	var (
		token         string
		gasLimit      uint64
		tokenDecimals int32
	)
	cmd := &cobra.Command{
		Use:   "estimate-fee",
		Short: "Quote the bribe for a bundle in ETH and in the fee token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			if !common.IsHexAddress(token) {
				return &domain.MissingFieldError{Field: "token"}
			}
			tokenAddress := common.HexToAddress(token)
			registry := config.NewTokenRegistry(cfg.PriceTokenIDs)
			if tokenDecimals < 0 {
				known, ok := registry.Lookup(tokenAddress)
				if !ok {
					return errors.Wrap(domain.ErrUnsupportedToken, "pass --token-decimals for unknown tokens")
				}
				tokenDecimals = known.Decimals
			}

			estimator, err := newFeeEstimator(cfg, registry, logger)
			if err != nil {
				return err
			}
			estimate, err := estimator.EstimateFee(cmd.Context(), domain.FeeParams{
				Token:             tokenAddress,
				TokenDecimals:     tokenDecimals,
				BundleGasLimit:    gasLimit,
				PremiumMultiplier: cfg.PremiumMultiplier,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{
				"bribe_in_eth":    estimate.BribeInEth.String(),
				"bribe_in_tokens": estimate.BribeInTokens.String(),
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "fee token address")
	cmd.Flags().Uint64Var(&gasLimit, "gas-limit", 0, "total gas limit of the bundle")
	cmd.Flags().Int32Var(&tokenDecimals, "token-decimals", -1, "fee token decimals (defaults to the token list)")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("gas-limit")
	return cmd
}

func newFeeEstimator(cfg config.Config, registry *config.TokenRegistry, logger *zap.Logger) (*application.FeeEstimator, error) {
	speed, err := oracle.ParseSpeed(cfg.GasSpeed)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: 10 * time.Second}
	gas, err := oracle.NewGasClient(cfg.GasOracleURL, speed, httpClient, logger)
	if err != nil {
		return nil, err
	}
	prices, err := oracle.NewPriceClient(cfg.PriceOracleURL, registry, httpClient, logger)
	if err != nil {
		return nil, err
	}
	return application.NewFeeEstimator(gas, prices, config.NativeCurrency, logger)
}

func printJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
