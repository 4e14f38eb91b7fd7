package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS pool_samples (
        pool_address     TEXT        NOT NULL,
        ts_ms            BIGINT      NOT NULL,
        token0_symbol    TEXT        NOT NULL DEFAULT '',
        token1_symbol    TEXT        NOT NULL DEFAULT '',
        price            NUMERIC     NOT NULL,
        price_change     NUMERIC,
        liquidity        NUMERIC     NOT NULL,
        liquidity_change NUMERIC,
        created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    CREATE INDEX IF NOT EXISTS pool_samples_pool_ts_idx ON pool_samples (pool_address, ts_ms);
    CREATE TABLE IF NOT EXISTS pool_alerts (
        id            BIGSERIAL   PRIMARY KEY,
        pool_address  TEXT        NOT NULL,
        metric        TEXT        NOT NULL,
        kind          TEXT        NOT NULL,
        direction     TEXT        NOT NULL DEFAULT '',
        change_pct    NUMERIC     NOT NULL,
        threshold_pct NUMERIC     NOT NULL,
        value         NUMERIC     NOT NULL,
        fired_at      TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS pool_alerts_fired_idx ON pool_alerts (fired_at DESC);`

	insertSampleSQL = `INSERT INTO pool_samples (
        pool_address,
        ts_ms,
        token0_symbol,
        token1_symbol,
        price,
        price_change,
        liquidity,
        liquidity_change
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	listSamplesBetweenSQL = `SELECT
        pool_address,
        ts_ms,
        token0_symbol,
        token1_symbol,
        price::text,
        price_change::text,
        liquidity::text,
        liquidity_change::text
    FROM pool_samples
    WHERE pool_address = $1
      AND ts_ms BETWEEN $2 AND $3;`

	listRecentSamplesSQL = `SELECT
        pool_address,
        ts_ms,
        token0_symbol,
        token1_symbol,
        price::text,
        price_change::text,
        liquidity::text,
        liquidity_change::text
    FROM pool_samples
    WHERE pool_address = $1
    ORDER BY ts_ms DESC
    LIMIT $2;`

	pruneSamplesSQL = `DELETE FROM pool_samples
    WHERE pool_address = $1
      AND ts_ms < $2;`

	insertAlertSQL = `INSERT INTO pool_alerts (
        pool_address,
        metric,
        kind,
        direction,
        change_pct,
        threshold_pct,
        value,
        fired_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id;`

	listRecentAlertsSQL = `SELECT
        id,
        pool_address,
        metric,
        kind,
        direction,
        change_pct::text,
        threshold_pct::text,
        value::text,
        fired_at
    FROM pool_alerts
    ORDER BY fired_at DESC
    LIMIT $1;`
)

// Store persists samples and alerts in PostgreSQL.
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

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the sample and alert tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return unavailable("ensure schema", err)
	}
	return nil
}

// RecordSample appends a sample. Duplicate timestamps are accepted.
func (s *Store) RecordSample(ctx context.Context, sample Sample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertSampleSQL,
		NormalizePoolID(sample.PoolID),
		toMillis(sample.Timestamp),
		sample.Token0Symbol,
		sample.Token1Symbol,
		sample.Price.String(),
		nullableDecimal(sample.PriceChange),
		sample.Liquidity.String(),
		nullableDecimal(sample.LiquidityChange),
	)
	if execErr != nil {
		return unavailable("record sample", execErr)
	}
	return nil
}

// SamplesBetween lists samples with from <= ts <= to in no particular order.
func (s *Store) SamplesBetween(ctx context.Context, poolID string, from, to time.Time) ([]Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, NormalizePoolID(poolID), toMillis(from), toMillis(to))
	if queryErr != nil {
		return nil, unavailable("list samples between", queryErr)
	}
	return collectSamples(rows, 0)
}

// RecentSamples lists the newest samples for a pool, newest first.
func (s *Store) RecentSamples(ctx context.Context, poolID string, limit int) ([]Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, NormalizePoolID(poolID), limitArg(limit))
	if queryErr != nil {
		return nil, unavailable("list recent samples", queryErr)
	}
	return collectSamples(rows, max(limit, 0))
}

// PruneBefore deletes samples strictly older than olderThan.
func (s *Store) PruneBefore(ctx context.Context, poolID string, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, pruneSamplesSQL, NormalizePoolID(poolID), toMillis(olderThan)); execErr != nil {
		return unavailable("prune samples", execErr)
	}
	return nil
}

// InsertAlert persists an alert transition.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	alert.PoolID = NormalizePoolID(alert.PoolID)
	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.PoolID,
		alert.Metric,
		alert.Kind,
		alert.Direction,
		alert.ChangePct.String(),
		alert.ThresholdPct.String(),
		alert.Value.String(),
		alert.FiredAt,
	)
	if scanErr := row.Scan(&alert.ID); scanErr != nil {
		return AlertRecord{}, unavailable("insert alert", scanErr)
	}
	return alert, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limitArg(limit))
	if queryErr != nil {
		return nil, unavailable("list recent alerts", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, max(limit, 0))
	for rows.Next() {
		var rec AlertRecord
		var changeStr, thresholdStr, valueStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.PoolID,
			&rec.Metric,
			&rec.Kind,
			&rec.Direction,
			&changeStr,
			&thresholdStr,
			&valueStr,
			&rec.FiredAt,
		); err != nil {
			return nil, unavailable("scan alert", err)
		}

		var convErr error
		if rec.ChangePct, convErr = decimal.NewFromString(changeStr); convErr != nil {
			return nil, fmt.Errorf("parse change pct: %w", convErr)
		}
		if rec.ThresholdPct, convErr = decimal.NewFromString(thresholdStr); convErr != nil {
			return nil, fmt.Errorf("parse threshold pct: %w", convErr)
		}
		if rec.Value, convErr = decimal.NewFromString(valueStr); convErr != nil {
			return nil, fmt.Errorf("parse value: %w", convErr)
		}

		alerts = append(alerts, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list recent alerts", err)
	}
	return alerts, nil
}

func collectSamples(rows pgx.Rows, capacity int) ([]Sample, error) {
	defer rows.Close()

	samples := make([]Sample, 0, capacity)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate samples", err)
	}
	return samples, nil
}

func scanSample(rows pgx.Rows) (Sample, error) {
	var (
		poolID          string
		tsMillis        int64
		token0, token1  string
		priceStr        string
		priceChange     *string
		liquidityStr    string
		liquidityChange *string
	)

	if err := rows.Scan(
		&poolID,
		&tsMillis,
		&token0,
		&token1,
		&priceStr,
		&priceChange,
		&liquidityStr,
		&liquidityChange,
	); err != nil {
		return Sample{}, unavailable("scan sample", err)
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return Sample{}, fmt.Errorf("parse price: %w", err)
	}
	liquidity, err := decimal.NewFromString(liquidityStr)
	if err != nil {
		return Sample{}, fmt.Errorf("parse liquidity: %w", err)
	}

	sample := Sample{
		PoolID:       poolID,
		Timestamp:    fromMillis(tsMillis),
		Token0Symbol: token0,
		Token1Symbol: token1,
		Price:        price,
		Liquidity:    liquidity,
	}
	if sample.PriceChange, err = parseNullable(priceChange); err != nil {
		return Sample{}, fmt.Errorf("parse price change: %w", err)
	}
	if sample.LiquidityChange, err = parseNullable(liquidityChange); err != nil {
		return Sample{}, fmt.Errorf("parse liquidity change: %w", err)
	}
	return sample, nil
}

func nullableDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullable(v *string) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var (
	_ SampleStore = (*Store)(nil)
	_ AlertStore  = (*Store)(nil)
	_ Backend     = (*Store)(nil)
)
