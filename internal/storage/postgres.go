package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"price-move-alerts/internal/config"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS monitor_documents (
        namespace  TEXT PRIMARY KEY,
        document   JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS alert_log (
        id             BIGSERIAL PRIMARY KEY,
        alert_id       TEXT NOT NULL UNIQUE,
        owner          TEXT NOT NULL,
        token          TEXT NOT NULL,
        kind           TEXT NOT NULL,
        baseline_price NUMERIC NOT NULL,
        current_price  NUMERIC NOT NULL,
        percent_change NUMERIC NOT NULL,
        channel        TEXT NOT NULL,
        created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS alert_log_created_at_idx ON alert_log (created_at DESC);`

	selectDocumentSQL = `SELECT document::text FROM monitor_documents WHERE namespace = $1;`

	upsertDocumentSQL = `INSERT INTO monitor_documents (namespace, document, updated_at)
    VALUES ($1, $2::jsonb, now())
    ON CONFLICT (namespace) DO UPDATE
    SET document   = EXCLUDED.document,
        updated_at = EXCLUDED.updated_at;`

	insertAlertSQL = `INSERT INTO alert_log (
        alert_id,
        owner,
        token,
        kind,
        baseline_price,
        current_price,
        percent_change,
        channel
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (alert_id) DO NOTHING
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        alert_id,
        owner,
        token,
        kind,
        baseline_price::text,
        current_price::text,
        percent_change::text,
        channel,
        created_at
    FROM alert_log
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID            int64
	AlertID       string
	Owner         string
	Token         string
	Kind          string
	BaselinePrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	PercentChange decimal.Decimal
	Channel       string
	CreatedAt     time.Time
}

// AlertRecorder persists alert emissions.
type AlertRecorder interface {
	RecordAlert(ctx context.Context, rec AlertRecord) (AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// PostgresBackend keeps one document row per namespace and the alert audit log.
type PostgresBackend struct {
	pool      *pgxpool.Pool
	namespace string
}

// NewPostgresBackend wires a pgx pool into a backend.
func NewPostgresBackend(pool *pgxpool.Pool, namespace string) *PostgresBackend {
	return &PostgresBackend{pool: pool, namespace: namespace}
}

func (b *PostgresBackend) getPool() (*pgxpool.Pool, error) {
	if b == nil || b.pool == nil {
		return nil, ErrNotConfigured
	}
	return b.pool, nil
}

// EnsureSchema creates the tables when missing.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	pool, err := b.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Read implements Backend.
func (b *PostgresBackend) Read(ctx context.Context) ([]byte, error) {
	pool, err := b.getPool()
	if err != nil {
		return nil, err
	}

	var doc string
	if err := pool.QueryRow(ctx, selectDocumentSQL, b.namespace).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoDocument
		}
		return nil, fmt.Errorf("select monitor document: %w", err)
	}
	return []byte(doc), nil
}

// Write implements Backend.
func (b *PostgresBackend) Write(ctx context.Context, data []byte) error {
	pool, err := b.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, upsertDocumentSQL, b.namespace, string(data)); err != nil {
		return fmt.Errorf("upsert monitor document: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (b *PostgresBackend) Close() error {
	if b == nil || b.pool == nil {
		return nil
	}
	b.pool.Close()
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (b *PostgresBackend) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := b.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the conn is recycled
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// RecordAlert appends an alert to the audit log. Replays of the same alert id are ignored.
func (b *PostgresBackend) RecordAlert(ctx context.Context, rec AlertRecord) (AlertRecord, error) {
	pool, err := b.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		rec.AlertID,
		rec.Owner,
		rec.Token,
		rec.Kind,
		rec.BaselinePrice.String(),
		rec.CurrentPrice.String(),
		rec.PercentChange.String(),
		rec.Channel,
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, nil
		}
		return AlertRecord{}, fmt.Errorf("insert alert: %w", err)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (b *PostgresBackend) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := b.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	records := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		var baselineStr, currentStr, pctStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.AlertID,
			&rec.Owner,
			&rec.Token,
			&rec.Kind,
			&baselineStr,
			&currentStr,
			&pctStr,
			&rec.Channel,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		if rec.BaselinePrice, convErr = decimal.NewFromString(baselineStr); convErr != nil {
			return nil, fmt.Errorf("parse baseline price: %w", convErr)
		}
		if rec.CurrentPrice, convErr = decimal.NewFromString(currentStr); convErr != nil {
			return nil, fmt.Errorf("parse current price: %w", convErr)
		}
		if rec.PercentChange, convErr = decimal.NewFromString(pctStr); convErr != nil {
			return nil, fmt.Errorf("parse percent change: %w", convErr)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}
