package walletsigner

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// exclusive serializes signing sessions on one provider instance.
type exclusive struct {
	slot chan struct{}
}

func newExclusive() exclusive {
	return exclusive{slot: make(chan struct{}, 1)}
}

func (e exclusive) acquire(ctx context.Context) error {
	select {
	case e.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for signing provider")
	}
}

func (e exclusive) release() {
	<-e.slot
}

// session returns a restore func that runs undo and releases the provider at most once.
func (e exclusive) session(undo func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			undo()
			e.release()
		})
	}
}
