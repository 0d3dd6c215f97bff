package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"bundlerelay/internal/application"
	"bundlerelay/internal/config"
	"bundlerelay/internal/domain"
	"bundlerelay/internal/infrastructure/ethrpc"
	"bundlerelay/internal/infrastructure/flashbots"
)

func newBuildCmd(v *viper.Viper) *cobra.Command {
	var (
		token, recipient            string
		amount, feeTokens, bribeWei string
		deadline                    uint64
		skipApprove                 bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the transfer, approve and swapAndBribe fragments of a gasless transfer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			chainID := v.GetUint64("CHAIN_ID")
			network, err := config.LookupNetwork(chainID)
			if err != nil {
				return err
			}
			known, ok := config.NewTokenRegistry(nil).Lookup(common.HexToAddress(token))
			if !ok {
				return errors.Wrapf(domain.ErrUnsupportedToken, "token %s", token)
			}
			req := application.TransferRequest{
				Recipient:   common.HexToAddress(recipient),
				Deadline:    deadline,
				SkipApprove: skipApprove,
			}
			if req.Amount, err = parseAmount("amount", amount); err != nil {
				return err
			}
			if req.FeeTokens, err = parseAmount("fee-tokens", feeTokens); err != nil {
				return err
			}
			if req.BribeWei, err = parseAmount("bribe-wei", bribeWei); err != nil {
				return err
			}
			fragments, err := application.BuildTransferBundle(network, known, req)
			if err != nil {
				return err
			}
			return printJSON(cmd, fragments)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&token, "token", "", "ERC20 token address")
	flags.StringVar(&recipient, "recipient", "", "transfer recipient")
	flags.StringVar(&amount, "amount", "", "transfer amount in token base units")
	flags.StringVar(&feeTokens, "fee-tokens", "0", "token amount swapped to fund the bribe")
	flags.StringVar(&bribeWei, "bribe-wei", "0", "bribe paid to the block builder, in wei")
	flags.Uint64Var(&deadline, "deadline", 0, "swap deadline as a unix timestamp (default one hour from now)")
	flags.BoolVar(&skipApprove, "skip-approve", false, "omit the approve call")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("recipient")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func parseAmount(field, raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, errors.Errorf("--%s must be a non-negative integer, got %q", field, raw)
	}
	return value, nil
}

func newPopulateCmd(v *viper.Viper) *cobra.Command {
	var from, fragmentsPath string
	cmd := &cobra.Command{
		Use:   "populate",
		Short: "Assign nonces and zero gas prices to fragments and print their signing digests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fragments, err := readFragments(cmd, fragmentsPath)
			if err != nil {
				return err
			}
			session, err := openSession(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer session.Close()

			populated, err := session.relayer.PopulateTransactions(cmd.Context(), common.HexToAddress(from), fragments)
			if err != nil {
				return err
			}
			type entry struct {
				Transaction   domain.PopulatedTransaction `json:"transaction"`
				SigningDigest common.Hash                 `json:"signing_digest"`
			}
			out := make([]entry, 0, len(populated))
			for _, tx := range populated {
				out = append(out, entry{Transaction: tx, SigningDigest: application.SigningDigest(tx)})
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sender address")
	cmd.Flags().StringVar(&fragmentsPath, "fragments", "-", "JSON file of fragments, - for stdin")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func readFragments(cmd *cobra.Command, path string) ([]domain.TransactionFragment, error) {
	var reader io.Reader = cmd.InOrStdin()
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		reader = file
	}
	var fragments []domain.TransactionFragment
	if err := json.NewDecoder(reader).Decode(&fragments); err != nil {
		return nil, errors.Wrap(err, "decode fragments")
	}
	if len(fragments) == 0 {
		return nil, domain.ErrEmptyBundle
	}
	return fragments, nil
}

// session bundles the connections a node-facing command needs.
type session struct {
	cfg     config.Config
	logger  *zap.Logger
	node    *ethrpc.Client
	relayer *application.Relayer
}

func openSession(ctx context.Context, v *viper.Viper) (*session, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	node, err := ethrpc.Dial(ctx, ethrpc.Config{URL: cfg.RPCURL})
	if err != nil {
		return nil, err
	}
	builder, err := application.NewRelayerBuilder(cfg.ChainID, application.RelayerOptions{
		RelayURL: cfg.RelayURL,
		DialRelay: func(ctx context.Context, url string, authKey *ecdsa.PrivateKey) (application.RelayTransport, error) {
			return flashbots.Dial(ctx, flashbots.Config{URL: url, AuthKey: authKey}, logger)
		},
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		node.Close()
		return nil, err
	}
	relayer, err := builder.Open(ctx, node, cfg.RelayAuthKey)
	if err != nil {
		node.Close()
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, node: node, relayer: relayer}, nil
}

func (s *session) Close() {
	s.relayer.Close()
	s.node.Close()
	_ = s.logger.Sync()
}
