package application

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bundlerelay/internal/domain"
)

// BlockFeed publishes new block numbers to subscribers.
type BlockFeed interface {
	Subscribe() (<-chan uint64, func())
	Latest() uint64
}

type ManagerConfig struct {
	ChainID uint64
	ControllerConfig
}

// Manager runs one Controller per bundle key. Submitting under a key that
// already has a live attempt cancels the older attempt first.
type Manager struct {
	submitter BundleSubmitter
	blocks    BlockFeed
	notifier  Notifier
	attempts  AttemptRepository
	logger    *zap.Logger
	cfg       ManagerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	controllers map[string]*Controller
	byKey       map[string]string
	closed      bool
}

func NewManager(ctx context.Context, submitter BundleSubmitter, blocks BlockFeed, notifier Notifier, attempts AttemptRepository, logger *zap.Logger, cfg ManagerConfig) (*Manager, error) {
	if submitter == nil {
		return nil, errors.New("bundle submitter must not be nil")
	}
	if blocks == nil {
		return nil, errors.New("block feed must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Manager{
		submitter:   submitter,
		blocks:      blocks,
		notifier:    notifier,
		attempts:    attempts,
		logger:      logger,
		cfg:         cfg,
		ctx:         runCtx,
		cancel:      cancel,
		controllers: make(map[string]*Controller),
		byKey:       make(map[string]string),
	}, nil
}

// Submit starts relaying txs under key and returns the initial attempt
// state. An empty key makes the attempt its own key.
func (m *Manager) Submit(ctx context.Context, key string, txs []domain.SignedTransaction) (domain.BundleAttempt, error) {
	if len(txs) == 0 {
		return domain.BundleAttempt{}, domain.ErrEmptyBundle
	}
	id := uuid.NewString()
	if key == "" {
		key = id
	}

	blocks, unsubscribe := m.blocks.Subscribe()
	current := m.blocks.Latest()
	if current == 0 {
		select {
		case block := <-blocks:
			current = block
		case <-ctx.Done():
			unsubscribe()
			return domain.BundleAttempt{}, ctx.Err()
		case <-m.ctx.Done():
			unsubscribe()
			return domain.BundleAttempt{}, errors.New("bundle manager is shut down")
		}
	}

	controller, err := NewController(domain.BundleAttempt{
		ID:           id,
		Key:          key,
		ChainID:      m.cfg.ChainID,
		Transactions: append([]hexutil.Bytes(nil), txs...),
	}, m.submitter, m.notifier, m.attempts, m.logger, m.cfg.ControllerConfig)
	if err != nil {
		unsubscribe()
		return domain.BundleAttempt{}, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		unsubscribe()
		return domain.BundleAttempt{}, errors.New("bundle manager is shut down")
	}
	var prior *Controller
	if priorID, ok := m.byKey[key]; ok {
		prior = m.controllers[priorID]
	}
	m.controllers[id] = controller
	m.byKey[key] = id
	m.wg.Add(1)
	m.mu.Unlock()

	if prior != nil {
		m.logger.Sugar().Infow("superseding bundle attempt", "key", key, "previous", prior.ID(), "next", id)
		prior.Cancel()
		select {
		case <-prior.Done():
		case <-ctx.Done():
		}
	}

	go func() {
		defer m.wg.Done()
		defer unsubscribe()
		controller.Run(m.ctx, blocks, current)
		m.release(controller)
	}()
	return controller.Snapshot(), nil
}

func (m *Manager) release(controller *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := controller.ID()
	if current, ok := m.byKey[controller.Snapshot().Key]; ok && current == id {
		delete(m.byKey, controller.Snapshot().Key)
	}
	// Without a repository the finished controller is the only record.
	if m.attempts != nil {
		delete(m.controllers, id)
	}
}

// Get returns the attempt by id from live controllers first, then from the
// repository.
func (m *Manager) Get(ctx context.Context, id string) (domain.BundleAttempt, bool, error) {
	m.mu.Lock()
	controller, ok := m.controllers[id]
	m.mu.Unlock()
	if ok {
		return controller.Snapshot(), true, nil
	}
	if m.attempts == nil {
		return domain.BundleAttempt{}, false, nil
	}
	return m.attempts.GetAttempt(ctx, id)
}

func (m *Manager) List(ctx context.Context, key string, limit int) ([]domain.BundleAttempt, error) {
	if m.attempts != nil {
		return m.attempts.ListAttempts(ctx, key, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.BundleAttempt, 0, len(m.controllers))
	for _, controller := range m.controllers {
		snapshot := controller.Snapshot()
		if key != "" && snapshot.Key != key {
			continue
		}
		out = append(out, snapshot)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Cancel stops a live attempt. It reports false when id is unknown or the
// attempt already finished.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	controller, ok := m.controllers[id]
	m.mu.Unlock()
	if !ok || controller.Snapshot().Status.Terminal() {
		return false
	}
	controller.Cancel()
	return true
}

// Shutdown cancels every live attempt and waits for them to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for bundle attempts")
	}
}
