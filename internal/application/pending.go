package application

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"bundlerelay/internal/domain"
)

// BundleWaiter resolves one submitted bundle.
type BundleWaiter interface {
	Hash() common.Hash
	TargetBlock() uint64
	Wait(ctx context.Context) (domain.Resolution, error)
}

// PendingBundle is the handle for a bundle submitted for one target block.
type PendingBundle struct {
	hash         common.Hash
	targetBlock  uint64
	transactions []decodedTransaction
	node         ChainReader
	pollInterval time.Duration
}

func (p *PendingBundle) Hash() common.Hash {
	return p.hash
}

func (p *PendingBundle) TargetBlock() uint64 {
	return p.targetBlock
}

// Wait blocks until the node reaches the target block, then classifies the outcome.
func (p *PendingBundle) Wait(ctx context.Context) (domain.Resolution, error) {
	if err := p.waitForTarget(ctx); err != nil {
		return domain.ResolutionNotIncluded, err
	}

	receipts, err := p.Receipts(ctx)
	if err != nil {
		return domain.ResolutionNotIncluded, err
	}
	included := true
	for _, receipt := range receipts {
		if receipt == nil {
			included = false
			break
		}
	}
	if included {
		return domain.ResolutionIncluded, nil
	}

	nonces := make(map[common.Address]uint64)
	for _, entry := range p.transactions {
		current, ok := nonces[entry.sender]
		if !ok {
			current, err = p.node.TransactionCount(ctx, entry.sender)
			if err != nil {
				return domain.ResolutionNotIncluded, err
			}
			nonces[entry.sender] = current
		}
		if current > entry.tx.Nonce() {
			return domain.ResolutionNonceTooHigh, nil
		}
	}
	return domain.ResolutionNotIncluded, nil
}

func (p *PendingBundle) waitForTarget(ctx context.Context) error {
	for {
		latest, err := p.node.LatestBlockNumber(ctx)
		if err != nil {
			return err
		}
		if latest >= p.targetBlock {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "wait for target block")
		case <-time.After(p.pollInterval):
		}
	}
}

// Receipts returns one entry per bundle transaction; nil marks a missing receipt.
func (p *PendingBundle) Receipts(ctx context.Context) ([]*types.Receipt, error) {
	receipts := make([]*types.Receipt, len(p.transactions))
	for i, entry := range p.transactions {
		receipt, ok, err := p.node.TransactionReceipt(ctx, entry.tx.Hash())
		if err != nil {
			return nil, err
		}
		if ok {
			receipts[i] = receipt
		}
	}
	return receipts, nil
}
