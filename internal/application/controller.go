package application

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bundlerelay/internal/domain"
)

// BundleSubmitter simulates and submits a bundle for one target block.
type BundleSubmitter interface {
	SubmitBundle(ctx context.Context, txs []domain.SignedTransaction, targetBlock uint64) (BundleWaiter, error)
}

type ControllerConfig struct {
	// TargetOffset is added to the current block to pick the target block.
	TargetOffset uint64
	// MaxWait bounds the whole retry loop; zero means no limit.
	MaxWait time.Duration
}

const notifyTimeout = 5 * time.Second

type attemptOutcome struct {
	resolution domain.Resolution
	err        error
}

// Controller resubmits one signed bundle on every new block until it is
// included, fails, or is cancelled.
type Controller struct {
	submitter BundleSubmitter
	notifier  Notifier
	attempts  AttemptRepository
	logger    *zap.Logger
	cfg       ControllerConfig

	mu    sync.Mutex
	state domain.BundleAttempt

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewController(attempt domain.BundleAttempt, submitter BundleSubmitter, notifier Notifier, attempts AttemptRepository, logger *zap.Logger, cfg ControllerConfig) (*Controller, error) {
	if submitter == nil {
		return nil, errors.New("bundle submitter must not be nil")
	}
	if len(attempt.Transactions) == 0 {
		return nil, domain.ErrEmptyBundle
	}
	if notifier == nil {
		notifier = Notifiers(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TargetOffset == 0 {
		cfg.TargetOffset = 2
	}
	now := time.Now().UTC()
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = now
	}
	attempt.UpdatedAt = now
	attempt.Status = domain.StatusIdle
	return &Controller{
		submitter: submitter,
		notifier:  notifier,
		attempts:  attempts,
		logger:    logger,
		cfg:       cfg,
		state:     attempt,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

func (c *Controller) ID() string {
	return c.state.ID
}

// Snapshot returns a copy of the current attempt state.
func (c *Controller) Snapshot() domain.BundleAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := c.state
	snapshot.Transactions = append([]hexutil.Bytes(nil), c.state.Transactions...)
	return snapshot
}

// Cancel stops the loop. The attempt ends as cancelled, never as an error.
func (c *Controller) Cancel() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Run drives the attempt to a terminal status. blocks delivers new block
// numbers; currentBlock seeds the first submission.
func (c *Controller) Run(ctx context.Context, blocks <-chan uint64, currentBlock uint64) domain.BundleStatus {
	defer close(c.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	var deadline <-chan time.Time
	if c.cfg.MaxWait > 0 {
		timer := time.NewTimer(c.cfg.MaxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	c.update(func(a *domain.BundleAttempt) { a.Status = domain.StatusPending })

	results := make(chan attemptOutcome, 1)
	var (
		inFlight      bool
		awaitingBlock bool
		queued        uint64
		hasQueued     bool
		lastLaunched  uint64
	)
	launch := func(block uint64) {
		target := block + c.cfg.TargetOffset
		inFlight, awaitingBlock, hasQueued = true, false, false
		lastLaunched = block
		c.update(func(a *domain.BundleAttempt) {
			a.Attempts++
			a.TargetBlock = target
			a.BundleHash = ""
		})
		c.emit(ctx, domain.EventSubmitted, "")
		go func() {
			results <- c.attempt(runCtx, target)
		}()
	}
	// settle waits out an in-flight attempt so nothing outlives Done. runCtx is
	// already cancelled when it is called, which bounds the wait.
	settle := func() {
		if inFlight {
			<-results
			inFlight = false
		}
	}

	// A stop requested before Run starts must not submit anything.
	select {
	case <-c.stop:
		return c.finish(ctx, domain.StatusCancelled, nil)
	default:
	}
	launch(currentBlock)

	for {
		select {
		case <-runCtx.Done():
			settle()
			return c.finish(ctx, domain.StatusCancelled, nil)

		case <-deadline:
			cancel()
			settle()
			return c.finish(ctx, domain.StatusError, errors.Wrapf(domain.ErrRetryDeadline, "after %s", c.cfg.MaxWait))

		case block, ok := <-blocks:
			if !ok {
				blocks = nil
				continue
			}
			// The seed block can also be waiting in the subscription.
			if block <= lastLaunched {
				continue
			}
			if inFlight {
				queued, hasQueued = block, true
				continue
			}
			if awaitingBlock {
				launch(block)
			}

		case outcome := <-results:
			inFlight = false
			if runCtx.Err() != nil {
				return c.finish(ctx, domain.StatusCancelled, nil)
			}
			if outcome.err != nil {
				return c.finish(ctx, domain.StatusError, outcome.err)
			}
			switch outcome.resolution {
			case domain.ResolutionIncluded:
				return c.finish(ctx, domain.StatusSuccess, nil)
			case domain.ResolutionNonceTooHigh:
				return c.finish(ctx, domain.StatusError, domain.ErrNonceTooHigh)
			default:
				c.emit(ctx, domain.EventRetrying, "bundle not included, resubmitting on next block")
				awaitingBlock = true
				if hasQueued {
					launch(queued)
				}
			}
		}
	}
}

func (c *Controller) attempt(ctx context.Context, target uint64) attemptOutcome {
	waiter, err := c.submitter.SubmitBundle(ctx, c.state.Transactions, target)
	if err != nil {
		return attemptOutcome{err: err}
	}
	c.update(func(a *domain.BundleAttempt) { a.BundleHash = waiter.Hash().Hex() })
	resolution, err := waiter.Wait(ctx)
	return attemptOutcome{resolution: resolution, err: err}
}

func (c *Controller) finish(ctx context.Context, status domain.BundleStatus, err error) domain.BundleStatus {
	message := ""
	if err != nil {
		message = err.Error()
	}
	c.update(func(a *domain.BundleAttempt) {
		a.Status = status
		a.LastError = message
	})

	switch status {
	case domain.StatusSuccess:
		c.emit(ctx, domain.EventSuccess, "")
	case domain.StatusError:
		c.emit(ctx, domain.EventError, message)
	default:
		c.emit(ctx, domain.EventCancelled, "")
	}
	return status
}

func (c *Controller) update(mutate func(a *domain.BundleAttempt)) {
	c.mu.Lock()
	mutate(&c.state)
	c.state.UpdatedAt = time.Now().UTC()
	c.mu.Unlock()
}

// emit persists the current state and notifies observers. It outlives
// cancellation of ctx so terminal events are always delivered.
func (c *Controller) emit(ctx context.Context, eventType domain.EventType, message string) {
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	snapshot := c.Snapshot()
	if c.attempts != nil {
		if err := c.attempts.SaveAttempt(notifyCtx, snapshot); err != nil {
			c.logger.Sugar().Warnw("save bundle attempt failed", "attempt_id", snapshot.ID, "error", err)
		}
	}
	c.notifier.Notify(notifyCtx, domain.BundleEvent{
		AttemptID:   snapshot.ID,
		Key:         snapshot.Key,
		ChainID:     snapshot.ChainID,
		Type:        eventType,
		Status:      snapshot.Status,
		TargetBlock: snapshot.TargetBlock,
		Attempt:     snapshot.Attempts,
		BundleHash:  snapshot.BundleHash,
		Message:     message,
		OccurredAt:  snapshot.UpdatedAt,
	})
}

type BundleSubmitterFunc func(ctx context.Context, txs []domain.SignedTransaction, targetBlock uint64) (BundleWaiter, error)

func (f BundleSubmitterFunc) SubmitBundle(ctx context.Context, txs []domain.SignedTransaction, targetBlock uint64) (BundleWaiter, error) {
	return f(ctx, txs, targetBlock)
}
