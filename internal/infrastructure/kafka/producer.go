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

const tracerName = "bundlerelay/kafka"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes bundle events to a Kafka topic keyed by bundle key, so
// events for one key stay ordered within a partition.
type Producer struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

type ProducerConfig struct {
	Brokers []string
	Topic   string
}

func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "bundlerelay-events"
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return newProducer(writer, cfg.Topic, logger), nil
}

func newProducer(writer messageWriter, topic string, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{writer: writer, topic: topic, logger: logger}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Notify publishes the event and logs failures. Event delivery is best
// effort and never fails the attempt that produced it.
func (p *Producer) Notify(ctx context.Context, event domain.BundleEvent) {
	if err := p.Publish(ctx, event); err != nil {
		p.logger.Sugar().Warnw("publish bundle event failed",
			"attempt_id", event.AttemptID,
			"event", event.Type,
			"error", err,
		)
	}
}

func (p *Producer) Publish(ctx context.Context, event domain.BundleEvent) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "bundle.publish_event",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.Int64("chain.id", int64(event.ChainID)),
			attribute.String("bundle.attempt_id", event.AttemptID),
			attribute.String("bundle.event", string(event.Type)),
			attribute.Int64("bundle.target_block", int64(event.TargetBlock)),
		),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	payload, err := streaming.Encode(streaming.FromEvent(event, telemetry.TraceID(ctx)))
	if err != nil {
		return err
	}
	headers := make([]kafka.Header, 0, 2)
	telemetry.InjectKafkaHeaders(ctx, &headers)

	key := event.Key
	if key == "" {
		key = event.AttemptID
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topic,
		Key:     []byte(key),
		Value:   payload,
		Headers: headers,
	})
}
