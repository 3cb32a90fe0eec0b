package api

import (
	"github.com/gin-gonic/gin"

	"github.com/chisanga/revpredict-go/internal/api/handlers"
	"github.com/chisanga/revpredict-go/internal/database"
)

// Handlers groups the route handlers wired by the server binary.
type Handlers struct {
	Forecast  *handlers.ForecastHandler
	Anomaly   *handlers.AnomalyHandler
	Scenario  *handlers.ScenarioHandler
	Analytics *handlers.AnalyticsHandler
}

// SetupRoutes registers every endpoint of the engine's HTTP surface.
func SetupRoutes(router *gin.Engine, db *database.PostgresDB, redis *database.RedisClient, h Handlers) {
	// Health check endpoint
	router.GET("/health", handlers.HealthCheck(db, redis))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		forecast := v1.Group("/forecast")
		{
			forecast.GET("/annual", h.Forecast.GetAnnualForecast)
			forecast.GET("/summary", h.Forecast.GetForecastSummary)
		}

		anomalies := v1.Group("/anomalies")
		{
			anomalies.GET("/detections", h.Anomaly.GetDetections)
			anomalies.POST("/flag", h.Anomaly.FlagAnomaly)
		}

		scenario := v1.Group("/scenario")
		{
			scenario.POST("/simulate", h.Scenario.Simulate)
		}

		analytics := v1.Group("/analytics")
		{
			analytics.GET("/trends", h.Analytics.GetTrends)
			analytics.GET("/seasonal", h.Analytics.GetSeasonal)
		}
	}
}
