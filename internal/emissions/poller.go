package emissions

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Checker-Finance/watttime-adapter/internal/config"
	"github.com/Checker-Finance/watttime-adapter/internal/metrics"
	"github.com/Checker-Finance/watttime-adapter/pkg/model"
)

// SignalService is what the poller needs from the emissions service.
type SignalService interface {
	FetchRealtime(ctx context.Context, region string) (model.SignalReading, error)
	Ingest(ctx context.Context, reading model.SignalReading) error
	FetchForecast(ctx context.Context, region string) (*model.ForecastCurve, error)
	IngestForecast(ctx context.Context, curve model.ForecastCurve) error
}

// Poller periodically pulls the live signal and forecast for every
// configured region. WattTime has no push channel for the v2 signal, so
// polling is the only mechanism for updates.
type Poller struct {
	logger   *zap.Logger
	cfg      *config.Config
	service  SignalService
	interval time.Duration
	stopCh   chan struct{}

	lastKeys      sync.Map // region → key of the last ingested reading
	lastGenerated sync.Map // region → GeneratedAt of the last ingested curve
}

// NewPoller constructs a poller over the configured regions.
func NewPoller(logger *zap.Logger, cfg *config.Config, service SignalService, interval time.Duration) *Poller {
	return &Poller{
		logger:   logger,
		cfg:      cfg,
		service:  service,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Stop signals the poller to exit its Run loop.
func (p *Poller) Stop() {
	close(p.stopCh)
}

// Run polls immediately, then on every tick, until the context is canceled
// or Stop is called. Blocks; run it on its own goroutine.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("emissions.poller_started",
		zap.Strings("regions", p.cfg.Regions),
		zap.Duration("interval", p.interval))

	p.pollAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("emissions.poller_stopped", zap.String("reason", "context_done"))
			return
		case <-p.stopCh:
			p.logger.Info("emissions.poller_stopped", zap.String("reason", "shutdown"))
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

// pollAll fans out one poll per region and waits for the round to finish.
func (p *Poller) pollAll(ctx context.Context) {
	var g errgroup.Group
	for _, region := range p.cfg.Regions {
		region := region
		g.Go(func() error {
			return p.pollRegion(ctx, region)
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Warn("emissions.poll_round_incomplete", zap.Error(err))
	}
}

// pollRegion pulls the region's signal and forecast, ingesting only what
// actually changed since the last round.
func (p *Poller) pollRegion(ctx context.Context, region string) error {
	reading, err := p.service.FetchRealtime(ctx, region)
	if err != nil {
		metrics.IncError("poller", "fetch_realtime")
		p.pollForecast(ctx, region)
		return err
	}

	metrics.SetLastPoll(region, reading.ReceivedAt)

	key := reading.Key()
	if last, _ := p.lastKeys.Load(region); last != key {
		p.lastKeys.Store(region, key)
		if err := p.service.Ingest(ctx, reading); err != nil {
			metrics.IncError("poller", "ingest")
			p.logger.Warn("emissions.poll_ingest_failed",
				zap.String("region", region),
				zap.Error(err))
		}
	} else {
		p.logger.Debug("emissions.poll_unchanged",
			zap.String("region", region),
			zap.String("key", key))
	}

	p.pollForecast(ctx, region)
	return nil
}

func (p *Poller) pollForecast(ctx context.Context, region string) {
	curve, err := p.service.FetchForecast(ctx, region)
	if err != nil {
		metrics.IncError("poller", "fetch_forecast")
		p.logger.Warn("emissions.poll_forecast_failed",
			zap.String("region", region),
			zap.Error(err))
		return
	}
	if curve == nil {
		return
	}

	if last, ok := p.lastGenerated.Load(region); ok && !curve.GeneratedAt.After(last.(time.Time)) {
		return
	}
	p.lastGenerated.Store(region, curve.GeneratedAt)

	if err := p.service.IngestForecast(ctx, *curve); err != nil {
		metrics.IncError("poller", "ingest_forecast")
		p.logger.Warn("emissions.poll_ingest_forecast_failed",
			zap.String("region", region),
			zap.Error(err))
	}
}
