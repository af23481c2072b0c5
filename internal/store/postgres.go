package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"keygate/internal/store/migrations"
)

// dbtx is the query surface shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore is the PostgreSQL-backed Store. WithKeyLock sections run in
// a transaction holding a per-key advisory lock, so the registration quota
// sequence is serialized even before the key row exists.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool for the given DSN and runs the
// embedded schema migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, ".")
}

func (s *PostgresStore) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	return getDevice(ctx, s.db, deviceID)
}

func (s *PostgresStore) SaveDevice(ctx context.Context, d *Device) error {
	return saveDevice(ctx, s.db, d)
}

func (s *PostgresStore) GetKey(ctx context.Context, keyHash string) (*Key, error) {
	return getKey(ctx, s.db, keyHash)
}

func (s *PostgresStore) SaveKey(ctx context.Context, k *Key) error {
	return saveKey(ctx, s.db, k)
}

// WithKeyLock runs fn in a transaction that first takes a transaction-scoped
// advisory lock derived from keyHash. Concurrent sections for the same key
// queue behind the lock; fn returning an error rolls the transaction back.
func (s *PostgresStore) WithKeyLock(ctx context.Context, keyHash string, fn func(ops Accessor) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, keyHash); err != nil {
		return fmt.Errorf("acquire key lock: %w", err)
	}

	if err := fn(&txAccessor{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// txAccessor exposes the record operations bound to one transaction.
type txAccessor struct {
	tx *sql.Tx
}

func (a *txAccessor) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	return getDevice(ctx, a.tx, deviceID)
}

func (a *txAccessor) SaveDevice(ctx context.Context, d *Device) error {
	return saveDevice(ctx, a.tx, d)
}

func (a *txAccessor) GetKey(ctx context.Context, keyHash string) (*Key, error) {
	return getKey(ctx, a.tx, keyHash)
}

func (a *txAccessor) SaveKey(ctx context.Context, k *Key) error {
	return saveKey(ctx, a.tx, k)
}

func getDevice(ctx context.Context, db dbtx, deviceID string) (*Device, error) {
	const query = `
SELECT device_id, trial_started_at, COALESCE(registered_key_hash, ''), COALESCE(key_hint, ''),
       app_version, last_heartbeat_at, heartbeat_count_today, heartbeat_date_bucket, created_at
FROM devices
WHERE device_id = $1`

	d := &Device{}
	err := db.QueryRowContext(ctx, query, deviceID).Scan(
		&d.DeviceID, &d.TrialStartedAt, &d.RegisteredKeyHash, &d.KeyHint,
		&d.AppVersion, &d.LastHeartbeatAt, &d.HeartbeatCountToday, &d.HeartbeatDateBucket, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func saveDevice(ctx context.Context, db dbtx, d *Device) error {
	const query = `
INSERT INTO devices (device_id, trial_started_at, registered_key_hash, key_hint,
                     app_version, last_heartbeat_at, heartbeat_count_today, heartbeat_date_bucket, created_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9)
ON CONFLICT (device_id) DO UPDATE SET
    trial_started_at      = EXCLUDED.trial_started_at,
    registered_key_hash   = EXCLUDED.registered_key_hash,
    key_hint              = EXCLUDED.key_hint,
    app_version           = EXCLUDED.app_version,
    last_heartbeat_at     = EXCLUDED.last_heartbeat_at,
    heartbeat_count_today = EXCLUDED.heartbeat_count_today,
    heartbeat_date_bucket = EXCLUDED.heartbeat_date_bucket`

	_, err := db.ExecContext(ctx, query,
		d.DeviceID, d.TrialStartedAt, d.RegisteredKeyHash, d.KeyHint,
		d.AppVersion, d.LastHeartbeatAt, d.HeartbeatCountToday, d.HeartbeatDateBucket, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func getKey(ctx context.Context, db dbtx, keyHash string) (*Key, error) {
	const query = `
SELECT key_hash, max_devices, valid, created_at, validated_at
FROM keys
WHERE key_hash = $1`

	k := &Key{}
	err := db.QueryRowContext(ctx, query, keyHash).Scan(
		&k.KeyHash, &k.MaxDevices, &k.Valid, &k.CreatedAt, &k.ValidatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT device_id FROM key_devices WHERE key_hash = $1 ORDER BY device_id`, keyHash)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		k.Devices = append(k.Devices, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return k, nil
}

func saveKey(ctx context.Context, db dbtx, k *Key) error {
	const upsert = `
INSERT INTO keys (key_hash, max_devices, valid, created_at, validated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (key_hash) DO UPDATE SET
    max_devices  = EXCLUDED.max_devices,
    valid        = EXCLUDED.valid,
    validated_at = EXCLUDED.validated_at`

	if _, err := db.ExecContext(ctx, upsert, k.KeyHash, k.MaxDevices, k.Valid, k.CreatedAt, k.ValidatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM key_devices WHERE key_hash = $1`, k.KeyHash); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	for _, id := range k.Devices {
		if _, err := db.ExecContext(ctx, `INSERT INTO key_devices (key_hash, device_id) VALUES ($1, $2)`, k.KeyHash, id); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}
