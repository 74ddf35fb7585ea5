package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const alertColumns = `id,
        cycle_id,
        asset_id,
        symbol,
        name,
        timeframe,
        tier,
        change_pct,
        threshold_pct,
        price,
        volume,
        delivered,
        fired_at,
        created_at`

const (
	insertAlertSQL = `INSERT INTO alert_events (
        cycle_id,
        asset_id,
        symbol,
        name,
        timeframe,
        tier,
        change_pct,
        threshold_pct,
        price,
        volume,
        delivered,
        fired_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    RETURNING ` + alertColumns + `;`

	listRecentAlertsSQL = `SELECT ` + alertColumns + `
    FROM alert_events
    ORDER BY fired_at DESC
    LIMIT $1;`

	listAlertsBetweenSQL = `SELECT ` + alertColumns + `
    FROM alert_events
    WHERE fired_at >= $1
      AND fired_at < $2
    ORDER BY fired_at;`

	countAlertsSQL = `SELECT COUNT(*) FROM alert_events;`

	deleteAlertsBeforeSQL = `DELETE FROM alert_events WHERE fired_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	ListAlertsBetween(ctx context.Context, from, to time.Time) ([]AlertRecord, error)
	CountAlerts(ctx context.Context) (int64, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// Lease is a held session-level advisory lock pinned to one connection.
type Lease interface {
	// Alive reports an error once the pinned session is gone; the lock went with it.
	Alive(ctx context.Context) error
	Release()
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (lease Lease, acquired bool, err error)
}

// Store is the PostgreSQL-backed alert audit log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts pg_try_advisory_lock on a dedicated connection.
// The connection stays out of the pool until the lease is released.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (Lease, bool, error) {
	pool, err := s.getPool()
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
	return &advisoryLease{conn: conn, key: key}, true, nil
}

type advisoryLease struct {
	conn *pgxpool.Conn
	key  int64
}

func (l *advisoryLease) Alive(ctx context.Context) error {
	if err := l.conn.Ping(ctx); err != nil {
		return fmt.Errorf("advisory lock session lost: %w", err)
	}
	return nil
}

func (l *advisoryLease) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := l.conn.Exec(ctx, advisoryUnlockSQL, l.key); err != nil {
		// closing the session drops any lock it still holds
		_ = l.conn.Conn().Close(ctx)
	}
	l.conn.Release()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertAlert persists an accepted alert.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.CycleID,
		alert.AssetID,
		alert.Symbol,
		alert.Name,
		alert.Timeframe,
		alert.Tier,
		alert.ChangePct.String(),
		alert.ThresholdPct.String(),
		alert.Price.String(),
		alert.Volume.String(),
		alert.Delivered,
		alert.FiredAt,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists the most recent alerts, newest first.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	return collectAlerts(rows, limit)
}

// ListAlertsBetween lists alerts fired within [from, to).
func (s *Store) ListAlertsBetween(ctx context.Context, from, to time.Time) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAlertsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts between: %w", queryErr)
	}
	return collectAlerts(rows, 0)
}

// CountAlerts counts stored alerts.
func (s *Store) CountAlerts(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countAlertsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count alerts: %w", scanErr)
	}
	return count, nil
}

// DeleteAlertsBefore deletes historical alerts and reports how many rows went.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectAlerts(rows pgx.Rows, capacity int) ([]AlertRecord, error) {
	defer rows.Close()

	alerts := make([]AlertRecord, 0, capacity)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var rec AlertRecord
	var changeStr, thresholdStr, priceStr, volStr string

	if err := row.Scan(
		&rec.ID,
		&rec.CycleID,
		&rec.AssetID,
		&rec.Symbol,
		&rec.Name,
		&rec.Timeframe,
		&rec.Tier,
		&changeStr,
		&thresholdStr,
		&priceStr,
		&volStr,
		&rec.Delivered,
		&rec.FiredAt,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var err error
	if rec.ChangePct, err = decimal.NewFromString(changeStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse change pct: %w", err)
	}
	if rec.ThresholdPct, err = decimal.NewFromString(thresholdStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold pct: %w", err)
	}
	if rec.Price, err = decimal.NewFromString(priceStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse price: %w", err)
	}
	if rec.Volume, err = decimal.NewFromString(volStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse volume: %w", err)
	}
	return rec, nil
}

var (
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
