package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bundlerelay/internal/domain"
	"bundlerelay/internal/infrastructure/kafka"
	"bundlerelay/internal/infrastructure/telemetry"
)

func newWatchCmd(v *viper.Viper) *cobra.Command {
	var group, key string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow bundle lifecycle events published to kafka",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if len(cfg.KafkaBrokers) == 0 {
				return errors.New("--kafka-brokers is required")
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
				Brokers: cfg.KafkaBrokers,
				Topic:   cfg.KafkaTopic,
				GroupID: group,
			}, logger)
			if err != nil {
				return err
			}
			defer consumer.Close()

			return consumer.Run(cmd.Context(), func(ctx context.Context, event domain.BundleEvent) error {
				if key != "" && event.Key != key {
					return nil
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s key=%s attempt=%d target=%d status=%s trace=%s %s\n",
					event.OccurredAt.Format("15:04:05"), event.AttemptID, event.Key, event.Attempt,
					event.TargetBlock, event.Status, telemetry.TraceID(ctx), event.Message)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&group, "group", "bundlectl-watch", "kafka consumer group")
	cmd.Flags().StringVar(&key, "key", "", "only print events for this transfer key")
	return cmd
}
