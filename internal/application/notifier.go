package application

import (
	"context"

	"go.uber.org/zap"

	"bundlerelay/internal/domain"
)

// Notifier observes bundle lifecycle events. Implementations must not block
// for long; they run on the controller goroutine.
type Notifier interface {
	Notify(ctx context.Context, event domain.BundleEvent)
}

type NotifierFunc func(ctx context.Context, event domain.BundleEvent)

func (f NotifierFunc) Notify(ctx context.Context, event domain.BundleEvent) {
	f(ctx, event)
}

// Notifiers fans an event out to every member in order.
type Notifiers []Notifier

func (n Notifiers) Notify(ctx context.Context, event domain.BundleEvent) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.Notify(ctx, event)
		}
	}
}

type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return LogNotifier{logger: logger}
}

func (n LogNotifier) Notify(_ context.Context, event domain.BundleEvent) {
	fields := []any{
		"attempt_id", event.AttemptID,
		"key", event.Key,
		"status", event.Status,
		"target_block", event.TargetBlock,
		"attempt", event.Attempt,
	}
	if event.BundleHash != "" {
		fields = append(fields, "bundle_hash", event.BundleHash)
	}
	sugar := n.logger.Sugar()
	switch event.Type {
	case domain.EventError:
		sugar.Errorw("bundle failed", append(fields, "error", event.Message)...)
	case domain.EventRetrying:
		sugar.Infow("bundle not included, retrying", fields...)
	case domain.EventSuccess:
		sugar.Infow("bundle included", fields...)
	case domain.EventCancelled:
		sugar.Infow("bundle cancelled", fields...)
	default:
		sugar.Debugw("bundle submitted", fields...)
	}
}

type AttemptRepository interface {
	SaveAttempt(ctx context.Context, attempt domain.BundleAttempt) error
	GetAttempt(ctx context.Context, id string) (domain.BundleAttempt, bool, error)
	ListAttempts(ctx context.Context, key string, limit int) ([]domain.BundleAttempt, error)
}
