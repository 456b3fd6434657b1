package archive

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
	// ErrNotConfigured indicates the archive pool was not initialised.
	ErrNotConfigured = errors.New("archive: pool not configured")
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS consensus_points (
        id            BIGSERIAL PRIMARY KEY,
        asset         TEXT        NOT NULL,
        price         NUMERIC     NOT NULL,
        sources       INTEGER     NOT NULL,
        deviation_bps NUMERIC     NOT NULL,
        anomaly       BOOLEAN     NOT NULL,
        observed_at   TIMESTAMPTZ NOT NULL,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS consensus_points_asset_observed_idx
        ON consensus_points (asset, observed_at);
    CREATE TABLE IF NOT EXISTS claim_audit (
        id          BIGSERIAL PRIMARY KEY,
        event_id    TEXT        NOT NULL UNIQUE,
        claim_id    BIGINT      NOT NULL,
        policy_id   BIGINT      NOT NULL,
        claimant    TEXT        NOT NULL,
        amount      NUMERIC     NOT NULL,
        status      TEXT        NOT NULL,
        occurred_at TIMESTAMPTZ NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	insertConsensusPointSQL = `INSERT INTO consensus_points (
        asset, price, sources, deviation_bps, anomaly, observed_at
    ) VALUES ($1,$2,$3,$4,$5,$6);`

	listPointsBetweenSQL = `SELECT
        id, asset, price, sources, deviation_bps, anomaly, observed_at, created_at
    FROM consensus_points
    WHERE asset = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	listRecentPointsSQL = `SELECT
        id, asset, price, sources, deviation_bps, anomaly, observed_at, created_at
    FROM consensus_points
    WHERE asset = $1
    ORDER BY observed_at DESC
    LIMIT $2;`

	insertClaimAuditSQL = `INSERT INTO claim_audit (
        event_id, claim_id, policy_id, claimant, amount, status, occurred_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7)
    ON CONFLICT (event_id) DO NOTHING;`

	listRecentClaimAuditSQL = `SELECT
        id, event_id, claim_id, policy_id, claimant, amount, status, occurred_at, created_at
    FROM claim_audit
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ConsensusPointStore defines operations for consensus archiving.
type ConsensusPointStore interface {
	InsertConsensusPoint(ctx context.Context, point ConsensusPoint) error
	ListPointsBetween(ctx context.Context, asset string, from, to time.Time) ([]ConsensusPoint, error)
	ListRecentPoints(ctx context.Context, asset string, limit int) ([]ConsensusPoint, error)
}

// ClaimAuditStore defines operations for the claim audit trail.
type ClaimAuditStore interface {
	InsertClaimAudit(ctx context.Context, row ClaimAuditRow) error
	ListRecentClaimAudit(ctx context.Context, limit int) ([]ClaimAuditRow, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to consensus points and claim audit rows.
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

// EnsureSchema creates the archive tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, createSchemaSQL); execErr != nil {
		return fmt.Errorf("ensure archive schema: %w", execErr)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
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

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in archive package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertConsensusPoint archives one consensus evaluation.
func (s *Store) InsertConsensusPoint(ctx context.Context, point ConsensusPoint) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertConsensusPointSQL,
		point.Asset,
		point.Price.String(),
		point.Sources,
		point.DeviationBps.String(),
		point.Anomaly,
		point.ObservedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert consensus point: %w", execErr)
	}
	return nil
}

// ListPointsBetween lists archived points within a time window.
func (s *Store) ListPointsBetween(ctx context.Context, asset string, from, to time.Time) ([]ConsensusPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPointsBetweenSQL, asset, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list points between: %w", queryErr)
	}
	defer rows.Close()

	points := make([]ConsensusPoint, 0)
	for rows.Next() {
		point, scanErr := scanConsensusPoint(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// ListRecentPoints lists the most recent points for an asset, newest first.
func (s *Store) ListRecentPoints(ctx context.Context, asset string, limit int) ([]ConsensusPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPointsSQL, asset, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent points: %w", queryErr)
	}
	defer rows.Close()

	points := make([]ConsensusPoint, 0, limit)
	for rows.Next() {
		point, scanErr := scanConsensusPoint(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// InsertClaimAudit records one claim lifecycle event. Idempotent per
// event id, so replayed events do not duplicate rows.
func (s *Store) InsertClaimAudit(ctx context.Context, row ClaimAuditRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertClaimAuditSQL,
		row.EventID,
		row.ClaimID,
		row.PolicyID,
		row.Claimant,
		row.Amount.String(),
		row.Status,
		row.OccurredAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert claim audit: %w", execErr)
	}
	return nil
}

// ListRecentClaimAudit lists most recent claim lifecycle rows.
func (s *Store) ListRecentClaimAudit(ctx context.Context, limit int) ([]ClaimAuditRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentClaimAuditSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent claim audit: %w", queryErr)
	}
	defer rows.Close()

	result := make([]ClaimAuditRow, 0, limit)
	for rows.Next() {
		var row ClaimAuditRow
		var amountStr string
		if err := rows.Scan(
			&row.ID,
			&row.EventID,
			&row.ClaimID,
			&row.PolicyID,
			&row.Claimant,
			&amountStr,
			&row.Status,
			&row.OccurredAt,
			&row.CreatedAt,
		); err != nil {
			return nil, err
		}
		amount, convErr := decimal.NewFromString(amountStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse audit amount: %w", convErr)
		}
		row.Amount = amount
		result = append(result, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return result, nil
}

func scanConsensusPoint(rows pgx.Rows) (ConsensusPoint, error) {
	var (
		point        ConsensusPoint
		priceStr     string
		deviationStr string
	)
	if err := rows.Scan(
		&point.ID,
		&point.Asset,
		&priceStr,
		&point.Sources,
		&deviationStr,
		&point.Anomaly,
		&point.ObservedAt,
		&point.CreatedAt,
	); err != nil {
		return ConsensusPoint{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return ConsensusPoint{}, fmt.Errorf("parse point price: %w", err)
	}
	deviation, err := decimal.NewFromString(deviationStr)
	if err != nil {
		return ConsensusPoint{}, fmt.Errorf("parse point deviation: %w", err)
	}

	point.Price = price
	point.DeviationBps = deviation
	return point, nil
}
