package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"bundlerelay/internal/domain"
)

const (
	attemptKeyPrefix   = "bundlerelay:attempt:"
	listVersionKey     = "bundlerelay:attempts:version"
	listCacheKeyPrefix = "bundlerelay:attempts:v"
	defaultCacheTTL    = time.Hour
)

type CacheConfig struct {
	Addr string
	TTL  time.Duration
}

// CachedRepository fronts a Repository with redis. Single attempts are
// cached by id; list results are invalidated by bumping a version counter.
type CachedRepository struct {
	Repository
	cache *redis.Client
	ttl   time.Duration
}

func NewCachedRepository(base Repository, cfg CacheConfig) (*CachedRepository, error) {
	if base == nil {
		return nil, errors.New("base repository is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &CachedRepository{Repository: base}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newCachedRepository(base, client, cfg.TTL), nil
}

func newCachedRepository(base Repository, client *redis.Client, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedRepository{Repository: base, cache: client, ttl: ttl}
}

func (r *CachedRepository) SaveAttempt(ctx context.Context, attempt domain.BundleAttempt) error {
	if err := r.Repository.SaveAttempt(ctx, attempt); err != nil {
		return err
	}
	if r.cache == nil {
		return nil
	}
	if payload, err := json.Marshal(attempt); err == nil {
		_ = r.cache.Set(ctx, attemptKeyPrefix+attempt.ID, payload, r.ttl).Err()
	}
	_ = r.cache.Incr(ctx, listVersionKey).Err()
	return nil
}

func (r *CachedRepository) GetAttempt(ctx context.Context, id string) (domain.BundleAttempt, bool, error) {
	if r.cache == nil {
		return r.Repository.GetAttempt(ctx, id)
	}
	if cached, err := r.cache.Get(ctx, attemptKeyPrefix+id).Result(); err == nil {
		var attempt domain.BundleAttempt
		if err := json.Unmarshal([]byte(cached), &attempt); err == nil {
			return attempt, true, nil
		}
	}
	attempt, ok, err := r.Repository.GetAttempt(ctx, id)
	if err != nil || !ok {
		return attempt, ok, err
	}
	if payload, err := json.Marshal(attempt); err == nil {
		_ = r.cache.Set(ctx, attemptKeyPrefix+id, payload, r.ttl).Err()
	}
	return attempt, true, nil
}

func (r *CachedRepository) ListAttempts(ctx context.Context, key string, limit int) ([]domain.BundleAttempt, error) {
	if r.cache == nil {
		return r.Repository.ListAttempts(ctx, key, limit)
	}
	version, ok := r.cacheVersion(ctx)
	if !ok {
		return r.Repository.ListAttempts(ctx, key, limit)
	}
	cacheKey := listCacheKey(version, key, limit)
	if cached, err := r.cache.Get(ctx, cacheKey).Result(); err == nil {
		var attempts []domain.BundleAttempt
		if err := json.Unmarshal([]byte(cached), &attempts); err == nil {
			return attempts, nil
		}
	}

	attempts, err := r.Repository.ListAttempts(ctx, key, limit)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(attempts); err == nil {
		_ = r.cache.Set(ctx, cacheKey, payload, r.ttl).Err()
	}
	return attempts, nil
}

func (r *CachedRepository) Close() error {
	var cacheErr error
	if r.cache != nil {
		cacheErr = r.cache.Close()
	}
	return errors.Join(r.Repository.Close(), cacheErr)
}

func (r *CachedRepository) cacheVersion(ctx context.Context) (string, bool) {
	version, err := r.cache.Get(ctx, listVersionKey).Result()
	if err == nil {
		return version, true
	}
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	return "", false
}

func listCacheKey(version, key string, limit int) string {
	var b strings.Builder
	b.Grow(64)
	b.WriteString(listCacheKeyPrefix)
	b.WriteString(version)
	b.WriteString(":key=")
	if key != "" {
		b.WriteString(key)
	} else {
		b.WriteString("any")
	}
	b.WriteString(":limit=")
	b.WriteString(strconv.Itoa(limit))
	return b.String()
}
