package storage

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"bundlerelay/internal/domain"
	"bundlerelay/internal/infrastructure/mysql"
	"bundlerelay/internal/infrastructure/sqlite"
)

// Repository persists bundle attempts.
type Repository interface {
	SaveAttempt(ctx context.Context, attempt domain.BundleAttempt) error
	GetAttempt(ctx context.Context, id string) (domain.BundleAttempt, bool, error)
	ListAttempts(ctx context.Context, key string, limit int) ([]domain.BundleAttempt, error)
	Ping(ctx context.Context) error
	Close() error
}

type Config struct {
	Driver    string
	SQLite    string
	MySQLDSN  string
	RedisAddr string
}

// Open builds the repository for cfg.Driver, fronted by redis when
// cfg.RedisAddr is set.
func Open(cfg Config) (Repository, error) {
	var (
		base Repository
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		base, err = sqlite.NewRepository(cfg.SQLite)
	case "mysql":
		base, err = mysql.NewRepository(cfg.MySQLDSN)
	case "memory":
		base = NewMemoryRepository()
	default:
		return nil, errors.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s store", cfg.Driver)
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return base, nil
	}
	cached, err := NewCachedRepository(base, CacheConfig{Addr: cfg.RedisAddr})
	if err != nil {
		_ = base.Close()
		return nil, errors.Wrap(err, "connect redis cache")
	}
	return cached, nil
}
