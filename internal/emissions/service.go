package emissions

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/watttime-adapter/internal/config"
	"github.com/Checker-Finance/watttime-adapter/internal/metrics"
	"github.com/Checker-Finance/watttime-adapter/internal/publisher"
	"github.com/Checker-Finance/watttime-adapter/internal/rate"
	"github.com/Checker-Finance/watttime-adapter/internal/regions"
	"github.com/Checker-Finance/watttime-adapter/internal/store"
	"github.com/Checker-Finance/watttime-adapter/pkg/eventbus"
	"github.com/Checker-Finance/watttime-adapter/pkg/model"
	"github.com/Checker-Finance/watttime-adapter/pkg/watttime"
)

// SignalSource is the slice of the WattTime API the service consumes.
// *watttime.EmissionsAPI satisfies it.
type SignalSource interface {
	GetGridRegion(ctx context.Context, loc watttime.Location) (*watttime.GridRegion, error)
	GetRealtimeEmissions(ctx context.Context, loc watttime.Location) (*watttime.RealtimeEmissions, error)
	GetForecastedEmissions(ctx context.Context, ba string, window *watttime.DateRange) ([]watttime.ForecastBundle, error)
	GetHistoricalEmissions(ctx context.Context, loc watttime.Location, window *watttime.DateRange) ([]watttime.EmissionPoint, error)
}

// Service orchestrates WattTime API operations: signal polling, forecast
// tracking, historical backfills, and normalized event publishing to NATS.
type Service struct {
	cfg       *config.Config
	logger    *zap.Logger
	source    SignalSource
	catalog   *regions.Catalog
	publisher *publisher.Publisher
	store     store.Store
	bus       *eventbus.EventBus
	limiter   *rate.Manager
	mapper    *Mapper
}

// NewService constructs a fully wired emissions service.
func NewService(
	cfg *config.Config,
	logger *zap.Logger,
	source SignalSource,
	catalog *regions.Catalog,
	pub *publisher.Publisher,
	st store.Store,
	bus *eventbus.EventBus,
	limiter *rate.Manager,
) *Service {
	return &Service{
		cfg:       cfg,
		logger:    logger,
		source:    source,
		catalog:   catalog,
		publisher: pub,
		store:     st,
		bus:       bus,
		limiter:   limiter,
		mapper:    NewMapper(),
	}
}

// waitBudget blocks until the account's request budget admits another
// upstream call.
func (s *Service) waitBudget(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx, s.cfg.AccountName)
}

// observeUpstream records one upstream call's duration and outcome.
func observeUpstream(endpoint string, start time.Time, err error) {
	metrics.ObserveDuration(metrics.WattTimeRequestDuration, start, endpoint)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.IncWattTimeRequest(endpoint, outcome)
}

// ResolveRegion looks up which balancing authority serves the coordinates
// and records it in the catalog.
func (s *Service) ResolveRegion(ctx context.Context, latitude, longitude string) (model.Region, error) {
	if err := s.waitBudget(ctx); err != nil {
		return model.Region{}, err
	}

	start := time.Now()
	grid, err := s.source.GetGridRegion(ctx, watttime.LocationForCoordinates(latitude, longitude))
	observeUpstream("ba-from-loc", start, err)
	if err != nil {
		s.logger.Error("emissions.resolve_region.failed",
			zap.String("latitude", latitude),
			zap.String("longitude", longitude),
			zap.Error(err))
		return model.Region{}, fmt.Errorf("resolve region for (%s, %s): %w", latitude, longitude, err)
	}

	region := s.mapper.ToRegion(grid)
	s.catalog.Add(region)

	s.logger.Info("emissions.region_resolved",
		zap.String("abbrev", region.Abbrev),
		zap.Int("id", region.ID))
	return region, nil
}

// FetchRealtime pulls the live signal for a region from upstream. The caller
// decides whether to ingest it; polling dedup happens there.
func (s *Service) FetchRealtime(ctx context.Context, region string) (model.SignalReading, error) {
	if err := s.waitBudget(ctx); err != nil {
		return model.SignalReading{}, err
	}

	start := time.Now()
	raw, err := s.source.GetRealtimeEmissions(ctx, watttime.LocationForBA(region))
	observeUpstream("index", start, err)
	if err != nil {
		s.logger.Error("emissions.fetch_realtime.failed",
			zap.String("region", region),
			zap.Error(err))
		return model.SignalReading{}, fmt.Errorf("fetch realtime signal for %q: %w", region, err)
	}

	return s.mapper.ToSignalReading(raw, region, time.Now().UTC()), nil
}

// Ingest persists a fresh reading and fans it out: append-only archive,
// latest-reading snapshot, canonical NATS event, in-process subscribers,
// and gauges.
func (s *Service) Ingest(ctx context.Context, reading model.SignalReading) error {
	if err := s.store.RecordReading(ctx, reading); err != nil {
		return fmt.Errorf("record reading for %q: %w", reading.Region, err)
	}
	if err := s.store.UpdateSnapshot(ctx, reading); err != nil {
		return fmt.Errorf("update snapshot for %q: %w", reading.Region, err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishSignalUpdated(ctx, reading); err != nil {
			s.logger.Warn("emissions.publish_signal_failed",
				zap.String("region", reading.Region),
				zap.Error(err))
		}
	}
	if s.bus != nil {
		s.bus.Publish(reading)
	}

	moer, _ := reading.MOER.Float64()
	metrics.SetSignalMOER(reading.Region, moer)

	s.logger.Info("emissions.signal_ingested",
		zap.String("region", reading.Region),
		zap.String("moer", reading.MOER.String()),
		zap.Time("point_time", reading.PointTime))
	return nil
}

// GetRealtime serves the latest reading for a region, cache-first. A stale
// or missing snapshot triggers an upstream fetch; if that fails and a stale
// snapshot exists, the stale value is served rather than an error.
func (s *Service) GetRealtime(ctx context.Context, region string) (model.SignalReading, error) {
	cached, err := s.store.GetLatestReading(ctx, region)
	if err != nil {
		s.logger.Warn("emissions.snapshot_read_failed",
			zap.String("region", region),
			zap.Error(err))
	}
	if cached != nil && time.Since(cached.ReceivedAt) <= s.cfg.SnapshotTTL {
		return *cached, nil
	}

	reading, err := s.FetchRealtime(ctx, region)
	if err != nil {
		if cached != nil {
			s.logger.Warn("emissions.serving_stale_snapshot",
				zap.String("region", region),
				zap.Time("received_at", cached.ReceivedAt),
				zap.Error(err))
			return *cached, nil
		}
		return model.SignalReading{}, err
	}

	if err := s.Ingest(ctx, reading); err != nil {
		s.logger.Warn("emissions.ingest_failed",
			zap.String("region", region),
			zap.Error(err))
	}
	return reading, nil
}

// FetchForecast pulls the newest forecast curve for a region from upstream.
func (s *Service) FetchForecast(ctx context.Context, region string) (*model.ForecastCurve, error) {
	if err := s.waitBudget(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	bundles, err := s.source.GetForecastedEmissions(ctx, region, nil)
	observeUpstream("forecast", start, err)
	if err != nil {
		s.logger.Error("emissions.fetch_forecast.failed",
			zap.String("region", region),
			zap.Error(err))
		return nil, fmt.Errorf("fetch forecast for %q: %w", region, err)
	}

	return s.mapper.LatestCurve(bundles, region), nil
}

// IngestForecast persists a new curve and announces it.
func (s *Service) IngestForecast(ctx context.Context, curve model.ForecastCurve) error {
	if err := s.store.RecordForecast(ctx, curve); err != nil {
		return fmt.Errorf("record forecast for %q: %w", curve.Region, err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishForecastPublished(ctx, curve); err != nil {
			s.logger.Warn("emissions.publish_forecast_failed",
				zap.String("region", curve.Region),
				zap.Error(err))
		}
	}
	if s.bus != nil {
		s.bus.Publish(curve)
	}

	s.logger.Info("emissions.forecast_ingested",
		zap.String("region", curve.Region),
		zap.Time("generated_at", curve.GeneratedAt),
		zap.Int("samples", len(curve.Samples)))
	return nil
}

// GetForecast serves the latest curve for a region, cache-first.
func (s *Service) GetForecast(ctx context.Context, region string) (*model.ForecastCurve, error) {
	cached, err := s.store.GetLatestForecast(ctx, region)
	if err != nil {
		s.logger.Warn("emissions.forecast_read_failed",
			zap.String("region", region),
			zap.Error(err))
	}
	if cached != nil {
		return cached, nil
	}

	curve, err := s.FetchForecast(ctx, region)
	if err != nil {
		return nil, err
	}
	if curve == nil {
		return nil, nil
	}

	if err := s.IngestForecast(ctx, *curve); err != nil {
		s.logger.Warn("emissions.ingest_forecast_failed",
			zap.String("region", region),
			zap.Error(err))
	}
	return curve, nil
}

// GetHistory reads archived points for a region over [start, end). History
// is served from the archive only; filling gaps is a backfill's job.
func (s *Service) GetHistory(ctx context.Context, region string, start, end time.Time) ([]model.HistoricalPoint, error) {
	return s.store.GetRegionHistory(ctx, region, start, end)
}

// RunBackfill fetches a historical window in chunks sized by BackfillChunk,
// archives each batch, and publishes a terminal backfill.completed event.
// A mid-run failure still archives the chunks that succeeded; the result
// carries the error and the count of points landed.
func (s *Service) RunBackfill(ctx context.Context, cmd model.BackfillCommand) (model.BackfillResult, error) {
	result := model.BackfillResult{
		CommandID: cmd.CommandID,
		Region:    cmd.Region,
		Start:     cmd.Start,
		End:       cmd.End,
	}

	if err := ValidateCommand(cmd); err != nil {
		result.Error = err.Error()
		result.FinishedAt = time.Now().UTC()
		return result, err
	}

	s.logger.Info("emissions.backfill.start",
		zap.String("command_id", cmd.CommandID),
		zap.String("region", cmd.Region),
		zap.Time("start", cmd.Start),
		zap.Time("end", cmd.End))

	chunk := s.cfg.BackfillChunk
	if chunk <= 0 {
		chunk = 720 * time.Hour
	}

	total := 0
	var runErr error
	for cursor := cmd.Start; cursor.Before(cmd.End); {
		chunkEnd := cursor.Add(chunk)
		if chunkEnd.After(cmd.End) {
			chunkEnd = cmd.End
		}

		if err := s.waitBudget(ctx); err != nil {
			runErr = err
			break
		}

		fetchStart := time.Now()
		points, err := s.source.GetHistoricalEmissions(ctx,
			watttime.LocationForBA(cmd.Region),
			&watttime.DateRange{Start: cursor, End: chunkEnd})
		observeUpstream("data", fetchStart, err)
		if err != nil {
			runErr = fmt.Errorf("fetch history %s [%s, %s): %w",
				cmd.Region, cursor.Format(time.RFC3339), chunkEnd.Format(time.RFC3339), err)
			break
		}

		archived, err := s.store.RecordHistory(ctx, s.mapper.ToHistoricalPoints(points, cmd.Region))
		if err != nil {
			runErr = fmt.Errorf("archive history for %q: %w", cmd.Region, err)
			break
		}
		total += archived
		metrics.BackfillPointsTotal.WithLabelValues(cmd.Region).Add(float64(archived))

		cursor = chunkEnd
	}

	result.Points = total
	result.FinishedAt = time.Now().UTC()
	if runErr != nil {
		result.Error = runErr.Error()
		s.logger.Error("emissions.backfill.failed",
			zap.String("command_id", cmd.CommandID),
			zap.String("region", cmd.Region),
			zap.Int("points", total),
			zap.Error(runErr))
	} else {
		s.logger.Info("emissions.backfill.complete",
			zap.String("command_id", cmd.CommandID),
			zap.String("region", cmd.Region),
			zap.Int("points", total))
	}

	if s.publisher != nil {
		if err := s.publisher.PublishBackfillCompleted(ctx, result); err != nil {
			s.logger.Warn("emissions.publish_backfill_failed",
				zap.String("command_id", cmd.CommandID),
				zap.Error(err))
		}
	}

	return result, runErr
}

// ValidateCommand rejects malformed backfill commands. The queue consumer
// uses it to drop poison messages instead of requeueing them.
func ValidateCommand(cmd model.BackfillCommand) error {
	if cmd.Region == "" {
		return fmt.Errorf("backfill command needs a region")
	}
	if cmd.Start.IsZero() || cmd.End.IsZero() {
		return fmt.Errorf("backfill command needs both start and end")
	}
	if !cmd.Start.Before(cmd.End) {
		return fmt.Errorf("backfill start must precede end")
	}
	return nil
}
