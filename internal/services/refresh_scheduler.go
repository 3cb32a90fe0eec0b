package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/chisanga/revpredict-go/internal/models"
)

// ForecastInvalidator is the cache surface the scheduler clears alongside the
// engine's model state.
type ForecastInvalidator interface {
	Invalidate(ctx context.Context) error
}

// RefreshScheduler periodically drops cached model state and regenerates the
// baseline forecast so newly ingested observations are picked up without
// waiting for the first post-ingest request.
type RefreshScheduler struct {
	engine   *ForecastEngine
	cache    ForecastInvalidator
	schedule string
	logger   *logrus.Logger
	cron     *cron.Cron
}

// NewRefreshScheduler creates a scheduler with a cron schedule expression,
// e.g. "0 2 1 * *" for 02:00 on the first of every month. The cache may be
// nil when no response cache is configured.
func NewRefreshScheduler(engine *ForecastEngine, cache ForecastInvalidator, schedule string, logger *logrus.Logger) *RefreshScheduler {
	return &RefreshScheduler{
		engine:   engine,
		cache:    cache,
		schedule: schedule,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start registers the refresh job and starts the cron runner.
func (s *RefreshScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.refresh); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.WithField("schedule", s.schedule).Info("Forecast refresh scheduler started")
	return nil
}

// Stop halts the cron runner and waits for a running job to finish.
func (s *RefreshScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Forecast refresh scheduler stopped")
}

// refresh drops all cached state and warms the models with a fresh baseline.
func (s *RefreshScheduler) refresh() {
	start := time.Now()
	s.engine.Invalidate()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.WithError(err).Warn("Forecast cache invalidation failed")
		}
	}

	bundle, err := s.engine.GenerateForecast(ctx, nil, 0)
	if err != nil {
		s.logger.WithError(err).Error("Scheduled forecast refresh failed")
		return
	}

	okCount := 0
	for _, status := range bundle.Statuses {
		if status == models.StatusOK || status == models.StatusDegraded {
			okCount++
		}
	}
	s.logger.WithFields(logrus.Fields{
		"tax_types_refreshed": okCount,
		"duration_ms":         time.Since(start).Milliseconds(),
	}).Info("Scheduled forecast refresh complete")
}
