package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	driver "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bundlerelay/internal/domain"
	"bundlerelay/internal/infrastructure/telemetry"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	normalized, err := normalizeDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", normalized)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

// normalizeDSN forces UTC time parsing so DATETIME columns scan into time.Time.
func normalizeDSN(dsn string) (string, error) {
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS bundle_attempts (
			id VARCHAR(36) NOT NULL,
			bundle_key VARCHAR(255) NOT NULL,
			chain_id BIGINT UNSIGNED NOT NULL,
			status VARCHAR(16) NOT NULL,
			target_block BIGINT UNSIGNED NOT NULL DEFAULT 0,
			attempts INT UNSIGNED NOT NULL DEFAULT 0,
			bundle_hash VARCHAR(66) NOT NULL DEFAULT '',
			last_error TEXT NOT NULL,
			transactions MEDIUMTEXT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			PRIMARY KEY (id),
			KEY bundle_attempts_key_idx (bundle_key, created_at)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return ensureColumn(db, "bundle_attempts", "bundle_hash", "VARCHAR(66) NOT NULL DEFAULT ''")
}

func ensureColumn(db *sql.DB, table, column, definition string) error {
	var count int
	row := db.QueryRow(
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?`,
		table,
		column,
	)
	if err := row.Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	_, err := db.Exec(stmt)
	return err
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) SaveAttempt(ctx context.Context, attempt domain.BundleAttempt) (err error) {
	ctx, span := startDBSpan(ctx, "mysql.SaveAttempt",
		attribute.String("bundle.attempt_id", attempt.ID),
		attribute.String("bundle.status", string(attempt.Status)),
	)
	defer func() { telemetry.EndSpan(span, err) }()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	txs, err := json.Marshal(attempt.Transactions)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO bundle_attempts
		(id, bundle_key, chain_id, status, target_block, attempts, bundle_hash, last_error, transactions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			target_block = VALUES(target_block),
			attempts = VALUES(attempts),
			bundle_hash = VALUES(bundle_hash),
			last_error = VALUES(last_error),
			updated_at = VALUES(updated_at)`,
		attempt.ID, attempt.Key, attempt.ChainID, string(attempt.Status), attempt.TargetBlock,
		attempt.Attempts, attempt.BundleHash, attempt.LastError, string(txs),
		attempt.CreatedAt.UTC(), attempt.UpdatedAt.UTC(),
	)
	return err
}

func (r *Repository) GetAttempt(ctx context.Context, id string) (_ domain.BundleAttempt, _ bool, err error) {
	ctx, span := startDBSpan(ctx, "mysql.GetAttempt", attribute.String("bundle.attempt_id", id))
	defer func() { telemetry.EndSpan(span, err) }()
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

func (r *Repository) ListAttempts(ctx context.Context, key string, limit int) (_ []domain.BundleAttempt, err error) {
	ctx, span := startDBSpan(ctx, "mysql.ListAttempts", attribute.String("bundle.key", key))
	defer func() { telemetry.EndSpan(span, err) }()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query, args := listQuery(key, limit)
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

func listQuery(key string, limit int) (string, []any) {
	query := `SELECT ` + attemptColumns + ` FROM bundle_attempts`
	args := make([]any, 0, 2)
	if key != "" {
		query += ` WHERE bundle_key = ?`
		args = append(args, key)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, normalizeLimit(limit))
	return query, args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (domain.BundleAttempt, error) {
	var (
		attempt domain.BundleAttempt
		status  string
		txs     string
	)
	if err := row.Scan(&attempt.ID, &attempt.Key, &attempt.ChainID, &status, &attempt.TargetBlock,
		&attempt.Attempts, &attempt.BundleHash, &attempt.LastError, &txs, &attempt.CreatedAt, &attempt.UpdatedAt); err != nil {
		return domain.BundleAttempt{}, err
	}
	var decoded []hexutil.Bytes
	if err := json.Unmarshal([]byte(txs), &decoded); err != nil {
		return domain.BundleAttempt{}, err
	}
	attempt.Status = domain.BundleStatus(status)
	attempt.Transactions = decoded
	return attempt, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("bundlerelay/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}
