package ethrpc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type BlockNumberSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// BlockPoller turns periodic eth_blockNumber reads into new-block events.
// Each subscriber channel holds only the latest unseen block number.
type BlockPoller struct {
	source   BlockNumberSource
	interval time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	latest      uint64
	nextID      int
	subscribers map[int]chan uint64
}

func NewBlockPoller(source BlockNumberSource, interval time.Duration, logger *zap.Logger) *BlockPoller {
	if interval <= 0 {
		interval = 4 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlockPoller{
		source:      source,
		interval:    interval,
		logger:      logger,
		subscribers: make(map[int]chan uint64),
	}
}

// Run polls until ctx is done. Poll errors are logged and retried on the next tick.
func (p *BlockPoller) Run(ctx context.Context) error {
	sugar := p.logger.Sugar()
	sugar.Infow("block poller started", "interval", p.interval)

	p.poll(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sugar.Infow("block poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *BlockPoller) poll(ctx context.Context) {
	number, err := p.source.LatestBlockNumber(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Sugar().Warnw("block number poll failed", "error", err)
		}
		return
	}
	p.Observe(number)
}

// Observe records a block number and notifies subscribers when it is new.
func (p *BlockPoller) Observe(number uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if number <= p.latest {
		return
	}
	p.latest = number
	p.logger.Sugar().Debugw("new block", "number", number)
	for _, ch := range p.subscribers {
		publishLatest(ch, number)
	}
}

func publishLatest(ch chan uint64, number uint64) {
	select {
	case ch <- number:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- number:
	default:
	}
}

// Latest returns the highest observed block number, zero before the first poll.
func (p *BlockPoller) Latest() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// Subscribe returns a channel of new block numbers and a function releasing it.
func (p *BlockPoller) Subscribe() (<-chan uint64, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	ch := make(chan uint64, 1)
	p.subscribers[id] = ch
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subscribers, id)
	}
}
