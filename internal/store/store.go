package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/watttime-adapter/pkg/model"
)

// Store defines the contract for caching and persisting emissions signals.
type Store interface {
	RecordReading(ctx context.Context, reading model.SignalReading) error
	UpdateSnapshot(ctx context.Context, reading model.SignalReading) error
	GetLatestReading(ctx context.Context, region string) (*model.SignalReading, error)
	RecordHistory(ctx context.Context, points []model.HistoricalPoint) (int, error)
	GetRegionHistory(ctx context.Context, region string, start, end time.Time) ([]model.HistoricalPoint, error)
	RecordForecast(ctx context.Context, curve model.ForecastCurve) error
	GetLatestForecast(ctx context.Context, region string) (*model.ForecastCurve, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	HealthCheck(ctx context.Context) error
	Close() error
}

type HybridStore struct {
	redis       *redis.Client
	PG          *pgxpool.Pool
	logger      *zap.Logger
	snapshotTTL time.Duration
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates a Redis-first, Postgres-backed store. Redis holds the
// latest signal and forecast per region; Postgres keeps the append-only
// archive that backfills and the history API read from.
func NewHybrid(redisAddr string, redisDB int, pgURL string, pgPoolConfig PGPoolConfig, snapshotTTL time.Duration, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
		DB:   redisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, PG: pgPool, logger: logger, snapshotTTL: snapshotTTL}, nil
}

func signalKey(region string) string {
	return fmt.Sprintf("signal:latest:%s", region)
}

func forecastKey(region string) string {
	return fmt.Sprintf("forecast:latest:%s", region)
}

// RecordReading inserts an immutable event into emissions.signal_event.
func (s *HybridStore) RecordReading(ctx context.Context, reading model.SignalReading) error {
	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO emissions.signal_event (
			region, moer, percentile, frequency_seconds, point_time, received_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, reading.Region, reading.MOER, reading.Percentile,
		reading.Frequency, reading.PointTime, reading.ReceivedAt)
	if err != nil {
		s.logger.Error("store.pg.insert_event_failed", zap.Error(err))
	}
	return err
}

// UpdateSnapshot refreshes the latest-reading projection: the Redis cache
// entry the read path serves from, plus the emissions.signal_snapshot row
// that survives a cache flush.
func (s *HybridStore) UpdateSnapshot(ctx context.Context, reading model.SignalReading) error {
	if err := s.SetJSON(ctx, signalKey(reading.Region), reading, s.snapshotTTL); err != nil {
		s.logger.Error("store.redis.snapshot_set_failed",
			zap.String("region", reading.Region), zap.Error(err))
		return err
	}

	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO emissions.signal_snapshot (
			region, moer, percentile, frequency_seconds, point_time, as_of
		)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (region)
		DO UPDATE SET
			moer = EXCLUDED.moer,
			percentile = EXCLUDED.percentile,
			frequency_seconds = EXCLUDED.frequency_seconds,
			point_time = EXCLUDED.point_time,
			as_of = EXCLUDED.as_of;
	`, reading.Region, reading.MOER, reading.Percentile,
		reading.Frequency, reading.PointTime)
	if err != nil {
		s.logger.Error("store.pg.snapshot_update_failed", zap.Error(err))
	}
	return err
}

// GetLatestReading serves the most recent signal for a region, Redis first,
// falling back to the Postgres snapshot when the cache entry has expired.
// Returns (nil, nil) when the region has never been seen.
func (s *HybridStore) GetLatestReading(ctx context.Context, region string) (*model.SignalReading, error) {
	data, err := s.redis.Get(ctx, signalKey(region)).Bytes()
	if err == nil {
		var reading model.SignalReading
		if err := json.Unmarshal(data, &reading); err != nil {
			return nil, err
		}
		return &reading, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	if s.PG == nil {
		return nil, nil
	}
	row := s.PG.QueryRow(ctx, `
		SELECT region, moer, percentile, frequency_seconds, point_time, as_of
		FROM emissions.signal_snapshot
		WHERE region = $1;
	`, region)

	var reading model.SignalReading
	if err := row.Scan(&reading.Region, &reading.MOER, &reading.Percentile,
		&reading.Frequency, &reading.PointTime, &reading.ReceivedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("GetLatestReading scan failed: %w", err)
	}
	return &reading, nil
}

// RecordHistory archives backfilled points into emissions.signal_history.
// Conflicting (region, point_time) rows are skipped, so re-running a
// backfill over the same window is safe. Returns the number of new rows.
func (s *HybridStore) RecordHistory(ctx context.Context, points []model.HistoricalPoint) (int, error) {
	if s.PG == nil || len(points) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(`
			INSERT INTO emissions.signal_history (
				region, point_time, moer, frequency_seconds, market, version
			)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (region, point_time) DO NOTHING
		`, p.Region, p.PointTime, p.MOER, p.Frequency, p.Market, p.Version)
	}

	br := s.PG.SendBatch(ctx, batch)
	inserted := 0
	var execErr error
	for range points {
		tag, err := br.Exec()
		if err != nil {
			execErr = err
			break
		}
		inserted += int(tag.RowsAffected())
	}
	if cerr := br.Close(); execErr == nil && cerr != nil {
		execErr = cerr
	}
	if execErr != nil {
		s.logger.Error("store.pg.insert_history_failed", zap.Error(execErr))
		return inserted, execErr
	}
	return inserted, nil
}

// GetRegionHistory reads archived points for a region over [start, end).
func (s *HybridStore) GetRegionHistory(ctx context.Context, region string, start, end time.Time) ([]model.HistoricalPoint, error) {
	if s.PG == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	rows, err := s.PG.Query(ctx, `
		SELECT region, point_time, moer, frequency_seconds, COALESCE(market, ''), COALESCE(version, '')
		FROM emissions.signal_history
		WHERE region = $1 AND point_time >= $2 AND point_time < $3
		ORDER BY point_time;
	`, region, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.HistoricalPoint
	for rows.Next() {
		var p model.HistoricalPoint
		if err := rows.Scan(&p.Region, &p.PointTime, &p.MOER,
			&p.Frequency, &p.Market, &p.Version); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// RecordForecast caches the latest curve in Redis and archives its samples
// into emissions.forecast_point, one row per (region, generated_at, point_time).
func (s *HybridStore) RecordForecast(ctx context.Context, curve model.ForecastCurve) error {
	if err := s.SetJSON(ctx, forecastKey(curve.Region), curve, s.snapshotTTL); err != nil {
		s.logger.Error("store.redis.forecast_set_failed",
			zap.String("region", curve.Region), zap.Error(err))
		return err
	}

	if s.PG == nil || len(curve.Samples) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, sample := range curve.Samples {
		batch.Queue(`
			INSERT INTO emissions.forecast_point (region, generated_at, point_time, moer)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (region, generated_at, point_time) DO NOTHING
		`, curve.Region, curve.GeneratedAt, sample.PointTime, sample.MOER)
	}

	br := s.PG.SendBatch(ctx, batch)
	var execErr error
	for range curve.Samples {
		if _, err := br.Exec(); err != nil {
			execErr = err
			break
		}
	}
	if cerr := br.Close(); execErr == nil && cerr != nil {
		execErr = cerr
	}
	if execErr != nil {
		s.logger.Error("store.pg.insert_forecast_failed", zap.Error(execErr))
	}
	return execErr
}

// GetLatestForecast serves the most recent cached curve for a region.
// Returns (nil, nil) when no curve is cached.
func (s *HybridStore) GetLatestForecast(ctx context.Context, region string) (*model.ForecastCurve, error) {
	data, err := s.redis.Get(ctx, forecastKey(region)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var curve model.ForecastCurve
	if err := json.Unmarshal(data, &curve); err != nil {
		return nil, err
	}
	return &curve, nil
}

func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
