package kafka

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"bundlerelay/internal/domain"
	"bundlerelay/internal/infrastructure/telemetry"
	"bundlerelay/internal/streaming"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// EventHandler receives decoded bundle events. Returning an error leaves the
// message uncommitted.
type EventHandler func(ctx context.Context, event domain.BundleEvent) error

type Consumer struct {
	reader messageReader
	logger *zap.Logger
}

func NewConsumer(cfg ConsumerConfig, logger *zap.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "bundlerelay-events"
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(reader, logger), nil
}

func newConsumer(reader messageReader, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{reader: reader, logger: logger}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Run fetches events until ctx ends. Undecodable messages are committed and
// skipped.
func (c *Consumer) Run(ctx context.Context, handle EventHandler) error {
	sugar := c.logger.Sugar()
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			sugar.Errorw("kafka fetch error", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		decoded, err := streaming.Decode(message.Value)
		if err != nil {
			sugar.Warnw("message decode error", "error", err, "offset", message.Offset)
			if err := c.reader.CommitMessages(ctx, message); err != nil {
				sugar.Warnw("kafka commit error", "error", err)
			}
			continue
		}

		messageCtx := telemetry.ExtractKafkaHeaders(ctx, message.Headers)
		messageCtx, span := otel.Tracer(tracerName).Start(messageCtx, "bundle.consume_event",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("bundle.attempt_id", decoded.AttemptID),
				attribute.String("bundle.event", string(decoded.Event)),
			),
		)
		err = handle(messageCtx, decoded.ToEvent())
		telemetry.EndSpan(span, err)
		if err != nil {
			sugar.Warnw("bundle event handler error", "error", err, "attempt_id", decoded.AttemptID)
			continue
		}
		if err := c.reader.CommitMessages(ctx, message); err != nil && ctx.Err() == nil {
			sugar.Warnw("kafka commit error", "error", err)
		}
	}
}
