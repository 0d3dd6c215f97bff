package storage

import (
	"context"
	"sort"
	"sync"

	"bundlerelay/internal/domain"
)

type MemoryRepository struct {
	mu       sync.RWMutex
	attempts map[string]domain.BundleAttempt
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{attempts: make(map[string]domain.BundleAttempt)}
}

func (r *MemoryRepository) SaveAttempt(_ context.Context, attempt domain.BundleAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[attempt.ID] = attempt
	return nil
}

func (r *MemoryRepository) GetAttempt(_ context.Context, id string) (domain.BundleAttempt, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempt, ok := r.attempts[id]
	return attempt, ok, nil
}

func (r *MemoryRepository) ListAttempts(_ context.Context, key string, limit int) ([]domain.BundleAttempt, error) {
	r.mu.RLock()
	out := make([]domain.BundleAttempt, 0, len(r.attempts))
	for _, attempt := range r.attempts {
		if key == "" || attempt.Key == key {
			out = append(out, attempt)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) Close() error { return nil }
