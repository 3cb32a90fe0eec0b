package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chisanga/revpredict-go/internal/models"
	"github.com/chisanga/revpredict-go/internal/services"
)

// AnomalyHandler serves anomaly detection and reviewer flagging.
type AnomalyHandler struct {
	detector *services.AnomalyDetector
	logger   *logrus.Logger
}

// NewAnomalyHandler creates an anomaly handler.
func NewAnomalyHandler(detector *services.AnomalyDetector, logger *logrus.Logger) *AnomalyHandler {
	return &AnomalyHandler{detector: detector, logger: logger}
}

// GetDetections runs detection over the requested tax types. Query params:
// tax_types (comma-separated, empty = all), region.
func (h *AnomalyHandler) GetDetections(c *gin.Context) {
	taxTypes, err := parseTaxTypes(c.Query("tax_types"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	report, err := h.detector.Detect(c.Request.Context(), taxTypes, c.Query("region"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"anomalies":       report.Anomalies,
		"severity_counts": report.SeverityCounts,
		"generated_at":    report.GeneratedAt,
	})
}

// FlagRequest is the body of a reviewer flag submission. Date uses the
// YYYY-MM month format.
type FlagRequest struct {
	Date    string `json:"date" binding:"required"`
	TaxType string `json:"tax_type" binding:"required"`
	Region  string `json:"region"`
	Action  string `json:"action" binding:"required"`
}

// FlagAnomaly records a reviewer annotation against an anomaly identity key.
func (h *AnomalyHandler) FlagAnomaly(c *gin.Context) {
	var req FlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	date, err := time.Parse("2006-01", req.Date)
	if err != nil {
		respondError(c, h.logger, &models.ValidationError{Field: "date", Message: "must use YYYY-MM format"})
		return
	}

	annotation, err := h.detector.Flag(date, models.TaxType(req.TaxType), req.Region, req.Action)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flag": annotation})
}
