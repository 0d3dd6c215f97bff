package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bundlerelay/internal/application"
	"bundlerelay/internal/domain"
	"bundlerelay/internal/infrastructure/ethrpc"
	"bundlerelay/internal/infrastructure/kafka"
	"bundlerelay/internal/infrastructure/storage"
	"bundlerelay/internal/infrastructure/walletsigner"
)

type sendFlags struct {
	from          string
	fragmentsPath string
	privateKey    string
	walletURL     string
	personalSign  bool
	key           string
	retry         bool
	blocks        int
}

func newSendCmd(v *viper.Viper) *cobra.Command {
	var flags sendFlags
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Sign fragments and relay the bundle until it is included",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fragments, err := readFragments(cmd, flags.fragmentsPath)
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer s.Close()

			provider, from, closeProvider, err := openProvider(cmd.Context(), s, flags)
			if err != nil {
				return err
			}
			defer closeProvider()

			signer, err := application.NewBundleSigner(s.relayer, s.logger)
			if err != nil {
				return err
			}
			signed, err := signer.SignBundle(cmd.Context(), from, fragments, provider)
			if err != nil {
				return err
			}

			if flags.retry {
				return relayUntilDone(cmd, s, flags.key, signed)
			}
			return sendOnce(cmd, s, signed, flags.blocks)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.from, "from", "", "sender address (defaults to the private key's address)")
	f.StringVar(&flags.fragmentsPath, "fragments", "-", "JSON file of fragments, - for stdin")
	f.StringVar(&flags.privateKey, "private-key", "", "hex private key that signs the bundle")
	f.StringVar(&flags.walletURL, "wallet-url", "", "JSON-RPC wallet that signs the bundle with eth_sign")
	f.BoolVar(&flags.personalSign, "personal-sign", false, "wallet rewrites eth_sign to personal_sign")
	f.StringVar(&flags.key, "key", "", "logical transfer key; resubmitting under the same key supersedes")
	f.BoolVar(&flags.retry, "retry", true, "resubmit on every block until included")
	f.IntVar(&flags.blocks, "blocks", 1, "consecutive target blocks when --retry=false")
	return cmd
}

func openProvider(ctx context.Context, s *session, flags sendFlags) (application.SigningProvider, common.Address, func(), error) {
	switch {
	case flags.privateKey != "":
		provider, err := walletsigner.NewKeyProviderFromHex(flags.privateKey)
		if err != nil {
			return nil, common.Address{}, nil, err
		}
		from := provider.Address()
		if flags.from != "" && common.HexToAddress(flags.from) != from {
			return nil, common.Address{}, nil, errors.New("--from does not match --private-key")
		}
		return provider, from, func() {}, nil
	case flags.walletURL != "":
		if !common.IsHexAddress(flags.from) {
			return nil, common.Address{}, nil, &domain.MissingFieldError{Field: "from"}
		}
		provider, err := walletsigner.DialRPCProvider(ctx, walletsigner.RPCConfig{
			URL:                   flags.walletURL,
			RewriteToPersonalSign: flags.personalSign,
		}, s.logger)
		if err != nil {
			return nil, common.Address{}, nil, err
		}
		return provider, common.HexToAddress(flags.from), provider.Close, nil
	default:
		return nil, common.Address{}, nil, errors.New("one of --private-key or --wallet-url is required")
	}
}

func sendOnce(cmd *cobra.Command, s *session, signed []domain.SignedTransaction, blocks int) error {
	ctx := cmd.Context()
	latest, err := s.node.LatestBlockNumber(ctx)
	if err != nil {
		return err
	}
	pending, err := s.relayer.SendBundle(ctx, signed, latest+2, application.SendOptions{Blocks: blocks})
	if err != nil {
		return err
	}
	for _, p := range pending {
		resolution, err := p.Wait(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "block %d bundle %s: %s\n", p.TargetBlock(), p.Hash().Hex(), resolution)
		if resolution == domain.ResolutionIncluded {
			return nil
		}
	}
	return errors.New("bundle was not included")
}

func relayUntilDone(cmd *cobra.Command, s *session, key string, signed []domain.SignedTransaction) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	poller := ethrpc.NewBlockPoller(s.node, s.cfg.PollInterval, s.logger)
	go poller.Run(ctx)

	done := make(chan domain.BundleEvent, 1)
	notifiers := application.Notifiers{
		application.NewLogNotifier(s.logger),
		application.NotifierFunc(func(_ context.Context, event domain.BundleEvent) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s attempt=%d target=%d %s\n", event.Type, event.Attempt, event.TargetBlock, event.Message)
			switch event.Type {
			case domain.EventSuccess, domain.EventError, domain.EventCancelled:
				select {
				case done <- event:
				default:
				}
			}
		}),
	}
	if len(s.cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: s.cfg.KafkaBrokers, Topic: s.cfg.KafkaTopic}, s.logger)
		if err != nil {
			return err
		}
		defer producer.Close()
		notifiers = append(notifiers, producer)
	}

	manager, err := application.NewManager(ctx, s.relayer, poller, notifiers, storage.NewMemoryRepository(), s.logger,
		application.ManagerConfig{
			ChainID:          s.cfg.ChainID,
			ControllerConfig: application.ControllerConfig{MaxWait: s.cfg.MaxWait},
		})
	if err != nil {
		return err
	}
	defer func() { _ = manager.Shutdown(context.Background()) }()

	attempt, err := manager.Submit(ctx, key, signed)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "relaying bundle %s\n", attempt.ID)

	select {
	case event := <-done:
		if event.Type == domain.EventError {
			return errors.New(strings.TrimSpace(event.Message))
		}
		if event.Type == domain.EventCancelled {
			return context.Canceled
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
