package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/chisanga/revpredict-go/internal/api"
	"github.com/chisanga/revpredict-go/internal/api/handlers"
	"github.com/chisanga/revpredict-go/internal/cache"
	"github.com/chisanga/revpredict-go/internal/config"
	"github.com/chisanga/revpredict-go/internal/database"
	"github.com/chisanga/revpredict-go/internal/models"
	"github.com/chisanga/revpredict-go/internal/services"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := setupLogger(cfg)

	// Initialize database
	db, err := database.NewPostgresConnection(cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize Redis. The response cache is optional: the engine serves
	// forecasts from its own model cache either way.
	var forecastCache *cache.RedisForecastCache
	redis, err := database.NewRedisConnection(cfg.Redis, logger)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, running without response cache")
		redis = nil
	} else {
		defer redis.Close()
		forecastCache = cache.NewRedisForecastCache(redis.Client, cfg.Forecast.CacheTTLDuration(), logger)
	}

	// Wire the forecasting services
	repository := database.NewRevenueRepository(db.Pool, logger)

	engine := services.NewForecastEngine(services.ForecastEngineConfig{
		Horizon:            cfg.Forecast.HorizonMonths,
		FitBudget:          cfg.Forecast.FitBudgetDuration(),
		MinHistoryMonths:   cfg.Forecast.MinHistoryMonths,
		MinResidualSamples: cfg.Forecast.MinResidualSamples,
		BoostingRounds:     cfg.Forecast.BoostingRounds,
		LearningRate:       cfg.Forecast.LearningRate,
		Region:             cfg.Forecast.Region,
	}, repository, logger)

	detector := services.NewAnomalyDetector(engine, services.AnomalyDetectorConfig{
		Bands: []services.SeverityBand{
			{MinDeviationPct: cfg.Anomaly.HighThresholdPct, Severity: models.SeverityHigh},
			{MinDeviationPct: cfg.Anomaly.MediumThresholdPct, Severity: models.SeverityMedium},
			{MinDeviationPct: cfg.Anomaly.NoiseFloorPct, Severity: models.SeverityLow},
		},
	}, logger)

	simulator := services.NewScenarioSimulator(engine, scenarioConfig(cfg), logger)
	analyzer := services.NewTrendAnalyzer(repository, cfg.Forecast.Region, logger)

	var invalidator services.ForecastInvalidator
	if forecastCache != nil {
		invalidator = forecastCache
	}
	scheduler := services.NewRefreshScheduler(engine, invalidator, cfg.Forecast.RefreshSchedule, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatalf("Failed to start refresh scheduler: %v", err)
	}
	defer scheduler.Stop()

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	api.SetupRoutes(router, db, redis, api.Handlers{
		Forecast:  handlers.NewForecastHandler(engine, forecastCache, logger),
		Anomaly:   handlers.NewAnomalyHandler(detector, logger),
		Scenario:  handlers.NewScenarioHandler(simulator, logger),
		Analytics: handlers.NewAnalyticsHandler(analyzer, logger),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func scenarioConfig(cfg *config.Config) services.ScenarioConfig {
	sc := services.ScenarioConfig{
		VATRange:          services.RateRange{Min: cfg.Scenario.VATMin, Max: cfg.Scenario.VATMax},
		CorporateRange:    services.RateRange{Min: cfg.Scenario.CorporateMin, Max: cfg.Scenario.CorporateMax},
		IncomeRange:       services.RateRange{Min: cfg.Scenario.IncomeMin, Max: cfg.Scenario.IncomeMax},
		BaseVATRate:       cfg.Scenario.BaseVATRate,
		BaseCorporateRate: cfg.Scenario.BaseCorporateRate,
		BaseIncomeRate:    cfg.Scenario.BaseIncomeRate,
		Horizon:           cfg.Forecast.HorizonMonths,
	}
	if len(cfg.Scenario.Elasticities) > 0 {
		sc.Elasticities = make(map[models.TaxType]float64, len(cfg.Scenario.Elasticities))
		for name, e := range cfg.Scenario.Elasticities {
			sc.Elasticities[models.TaxType(name)] = e
		}
	}
	return sc
}
