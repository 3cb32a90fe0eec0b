package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chisanga/revpredict-go/internal/services"
)

// AnalyticsHandler serves descriptive historical analytics.
type AnalyticsHandler struct {
	analyzer *services.TrendAnalyzer
	logger   *logrus.Logger
}

// NewAnalyticsHandler creates an analytics handler.
func NewAnalyticsHandler(analyzer *services.TrendAnalyzer, logger *logrus.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analyzer: analyzer, logger: logger}
}

// GetTrends returns per-type growth and volatility statistics.
func (h *AnalyticsHandler) GetTrends(c *gin.Context) {
	taxTypes, err := parseTaxTypes(c.Query("tax_types"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	trends, err := h.analyzer.RevenueTrends(c.Request.Context(), taxTypes)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trends": trends})
}

// GetSeasonal returns per-calendar-month averages with peak/trough months.
func (h *AnalyticsHandler) GetSeasonal(c *gin.Context) {
	taxTypes, err := parseTaxTypes(c.Query("tax_types"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	patterns, err := h.analyzer.SeasonalPatterns(c.Request.Context(), taxTypes)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seasonal_patterns": patterns})
}
