package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	_ "modernc.org/sqlite"

	"bundlerelay/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Writers are serialised through a single connection.
	db.SetMaxOpenConns(1)
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS bundle_attempts (
			id TEXT PRIMARY KEY,
			bundle_key TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			target_block INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			bundle_hash TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			transactions TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS bundle_attempts_key_idx ON bundle_attempts (bundle_key, created_at)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) SaveAttempt(ctx context.Context, attempt domain.BundleAttempt) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	txs, err := json.Marshal(attempt.Transactions)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO bundle_attempts
		(id, bundle_key, chain_id, status, target_block, attempts, bundle_hash, last_error, transactions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			target_block = excluded.target_block,
			attempts = excluded.attempts,
			bundle_hash = excluded.bundle_hash,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		attempt.ID, attempt.Key, attempt.ChainID, string(attempt.Status), attempt.TargetBlock,
		attempt.Attempts, attempt.BundleHash, attempt.LastError, string(txs),
		attempt.CreatedAt.UnixNano(), attempt.UpdatedAt.UnixNano(),
	)
	return err
}

func (r *Repository) GetAttempt(ctx context.Context, id string) (domain.BundleAttempt, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM bundle_attempts WHERE id = ?`, id)
	attempt, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BundleAttempt{}, false, nil
	}
	if err != nil {
		return domain.BundleAttempt{}, false, err
	}
	return attempt, true, nil
}

func (r *Repository) ListAttempts(ctx context.Context, key string, limit int) ([]domain.BundleAttempt, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `SELECT ` + attemptColumns + ` FROM bundle_attempts`
	args := make([]any, 0, 2)
	if key != "" {
		query += ` WHERE bundle_key = ?`
		args = append(args, key)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, normalizeLimit(limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]domain.BundleAttempt, 0)
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

const attemptColumns = `id, bundle_key, chain_id, status, target_block, attempts, bundle_hash, last_error, transactions, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (domain.BundleAttempt, error) {
	var (
		attempt   domain.BundleAttempt
		status    string
		txs       string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&attempt.ID, &attempt.Key, &attempt.ChainID, &status, &attempt.TargetBlock,
		&attempt.Attempts, &attempt.BundleHash, &attempt.LastError, &txs, &createdAt, &updatedAt); err != nil {
		return domain.BundleAttempt{}, err
	}
	var decoded []hexutil.Bytes
	if err := json.Unmarshal([]byte(txs), &decoded); err != nil {
		return domain.BundleAttempt{}, err
	}
	attempt.Status = domain.BundleStatus(status)
	attempt.Transactions = decoded
	attempt.CreatedAt = time.Unix(0, createdAt).UTC()
	attempt.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return attempt, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
