package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chisanga/revpredict-go/internal/cache"
	"github.com/chisanga/revpredict-go/internal/models"
	"github.com/chisanga/revpredict-go/internal/services"
)

// ForecastHandler serves the 12-month forecast endpoints.
type ForecastHandler struct {
	engine *services.ForecastEngine
	cache  *cache.RedisForecastCache
	logger *logrus.Logger
}

// NewForecastHandler creates a forecast handler. The cache may be nil when no
// Redis instance is configured.
func NewForecastHandler(engine *services.ForecastEngine, forecastCache *cache.RedisForecastCache, logger *logrus.Logger) *ForecastHandler {
	return &ForecastHandler{engine: engine, cache: forecastCache, logger: logger}
}

// GetAnnualForecast returns the forecast series, summaries, and per-type
// statuses. Query params: tax_types (comma-separated, empty = all), horizon.
func (h *ForecastHandler) GetAnnualForecast(c *gin.Context) {
	taxTypes, err := parseTaxTypes(c.Query("tax_types"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	horizon := 0
	if raw := c.Query("horizon"); raw != "" {
		horizon, err = strconv.Atoi(raw)
		if err != nil || horizon <= 0 {
			respondError(c, h.logger, &models.ValidationError{Field: "horizon", Message: "must be a positive integer"})
			return
		}
	}

	ctx := c.Request.Context()
	var cacheKey string
	if h.cache != nil {
		cacheKey = h.cache.Key(taxTypes, horizon)
		if bundle, ok := h.cache.Get(ctx, cacheKey); ok {
			c.JSON(http.StatusOK, gin.H{"forecast": bundle, "cached": true})
			return
		}
	}

	bundle, err := h.engine.GenerateForecast(ctx, taxTypes, horizon)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if h.cache != nil {
		h.cache.Set(ctx, cacheKey, bundle)
	}
	c.JSON(http.StatusOK, gin.H{"forecast": bundle, "cached": false})
}

// GetForecastSummary returns only the per-type summary statistics.
func (h *ForecastHandler) GetForecastSummary(c *gin.Context) {
	taxTypes, err := parseTaxTypes(c.Query("tax_types"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	bundle, err := h.engine.GenerateForecast(c.Request.Context(), taxTypes, 0)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summaries":    bundle.Summaries,
		"statuses":     bundle.Statuses,
		"generated_at": bundle.GeneratedAt,
	})
}

// parseTaxTypes splits a comma-separated tax type list, validating each name.
func parseTaxTypes(raw string) ([]models.TaxType, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	taxTypes := make([]models.TaxType, 0, len(parts))
	for _, p := range parts {
		t := models.TaxType(strings.TrimSpace(p))
		if !t.Valid() {
			return nil, &models.ValidationError{Field: "tax_types", Message: "unknown tax type " + string(t)}
		}
		taxTypes = append(taxTypes, t)
	}
	return taxTypes, nil
}

// respondError maps the engine's error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var validation *models.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
		return
	}
	var insufficient *models.InsufficientHistoryError
	if errors.As(err, &insufficient) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": insufficient.Error()})
		return
	}
	var timeout *models.FitTimeoutError
	if errors.As(err, &timeout) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": timeout.Error()})
		return
	}
	logger.WithError(err).Error("Request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
