package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chisanga/revpredict-go/internal/models"
)

// SeverityBand maps a minimum deviation percentage onto a severity. Bands are
// evaluated as an ordered table, highest threshold first.
type SeverityBand struct {
	MinDeviationPct float64         `json:"min_deviation_pct"`
	Severity        models.Severity `json:"severity"`
}

// DefaultSeverityBands returns the documented default classification table:
// high >= 25, medium >= 15, low >= 5 (the noise floor). Deviations below the
// floor are not emitted at all.
func DefaultSeverityBands() []SeverityBand {
	return []SeverityBand{
		{MinDeviationPct: 25, Severity: models.SeverityHigh},
		{MinDeviationPct: 15, Severity: models.SeverityMedium},
		{MinDeviationPct: 5, Severity: models.SeverityLow},
	}
}

// AnomalyDetectorConfig holds the classification thresholds.
type AnomalyDetectorConfig struct {
	Bands []SeverityBand
}

// AnomalyDetector re-scores historical actuals against the in-sample ensemble
// predictions and classifies deviations. Detection is read-only against the
// engine's cached model state and idempotent: unchanged history and models
// reproduce identical records. Reviewer flags are a separate, pure state
// mutation keyed by anomaly identity.
type AnomalyDetector struct {
	engine *ForecastEngine
	cfg    AnomalyDetectorConfig
	logger *logrus.Logger

	mu    sync.RWMutex
	flags map[string]models.FlagAnnotation
}

// NewAnomalyDetector creates a detector over the engine's cached models.
func NewAnomalyDetector(engine *ForecastEngine, cfg AnomalyDetectorConfig, logger *logrus.Logger) *AnomalyDetector {
	if len(cfg.Bands) == 0 {
		cfg.Bands = DefaultSeverityBands()
	}
	sort.Slice(cfg.Bands, func(i, j int) bool {
		return cfg.Bands[i].MinDeviationPct > cfg.Bands[j].MinDeviationPct
	})
	return &AnomalyDetector{
		engine: engine,
		cfg:    cfg,
		logger: logger,
		flags:  make(map[string]models.FlagAnnotation),
	}
}

// Detect scores every historical observation with an in-sample prediction for
// the requested tax types. An empty request covers all types including the
// derived Total_Revenue. Records are ordered by date descending, then
// severity high to low. Observations with a zero actual are excluded from
// scoring rather than divided by.
func (d *AnomalyDetector) Detect(ctx context.Context, taxTypes []models.TaxType, regionFilter string) (*models.AnomalyReport, error) {
	if len(taxTypes) == 0 {
		taxTypes = models.AllTaxTypes()
	}

	report := &models.AnomalyReport{
		SeverityCounts: map[models.Severity]int{
			models.SeverityHigh:   0,
			models.SeverityMedium: 0,
			models.SeverityLow:    0,
		},
		GeneratedAt: time.Now().UTC(),
	}

	for _, taxType := range taxTypes {
		if !taxType.Valid() {
			return nil, &models.ValidationError{Field: "tax_types", Message: fmt.Sprintf("unknown tax type %q", taxType)}
		}

		observations, predictions, err := d.engine.InSample(ctx, taxType)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger.WithField("tax_type", taxType).WithError(err).Warn("Anomaly detection skipped for tax type")
			continue
		}

		for i, obs := range observations {
			if regionFilter != "" && obs.Region != regionFilter {
				continue
			}
			if !obs.Amount.IsPositive() {
				continue
			}

			predicted := predictions[i].Predicted
			deviation := obs.Amount.Sub(predicted).Abs().
				Div(obs.Amount).
				Mul(decimalHundred).
				InexactFloat64()

			severity, flagged := ClassifySeverity(deviation, d.cfg.Bands)
			if !flagged {
				continue
			}

			report.Anomalies = append(report.Anomalies, models.AnomalyRecord{
				Date:         obs.Date,
				TaxType:      taxType,
				Region:       obs.Region,
				Actual:       obs.Amount,
				Predicted:    predicted,
				DeviationPct: deviation,
				Severity:     severity,
			})
			report.SeverityCounts[severity]++
		}
	}

	sort.SliceStable(report.Anomalies, func(i, j int) bool {
		a, b := report.Anomalies[i], report.Anomalies[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		return severityRank(a.Severity) < severityRank(b.Severity)
	})

	return report, nil
}

// Flag records a reviewer annotation against an anomaly identity key. It only
// mutates annotation state; no detection is recomputed.
func (d *AnomalyDetector) Flag(date time.Time, taxType models.TaxType, region, action string) (models.FlagAnnotation, error) {
	if !taxType.Valid() {
		return models.FlagAnnotation{}, &models.ValidationError{Field: "tax_type", Message: fmt.Sprintf("unknown tax type %q", taxType)}
	}
	if action == "" {
		return models.FlagAnnotation{}, &models.ValidationError{Field: "action", Message: "action is required"}
	}

	annotation := models.FlagAnnotation{
		ID:        uuid.NewString(),
		Date:      date,
		TaxType:   taxType,
		Region:    region,
		Action:    action,
		FlaggedAt: time.Now().UTC(),
	}

	key := models.AnomalyKey(date, taxType, region)
	d.mu.Lock()
	d.flags[key] = annotation
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"tax_type": taxType,
		"date":     date.Format("2006-01"),
		"action":   action,
	}).Info("Anomaly flagged for review")
	return annotation, nil
}

// Flags returns a snapshot of all reviewer annotations.
func (d *AnomalyDetector) Flags() []models.FlagAnnotation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	annotations := make([]models.FlagAnnotation, 0, len(d.flags))
	for _, a := range d.flags {
		annotations = append(annotations, a)
	}
	sort.Slice(annotations, func(i, j int) bool { return annotations[i].FlaggedAt.Before(annotations[j].FlaggedAt) })
	return annotations
}

// ClassifySeverity maps a deviation percentage onto the ordered band table.
// The second return is false when the deviation sits below the lowest band
// and should not be emitted.
func ClassifySeverity(deviationPct float64, bands []SeverityBand) (models.Severity, bool) {
	for _, band := range bands {
		if deviationPct >= band.MinDeviationPct {
			return band.Severity, true
		}
	}
	return "", false
}

func severityRank(s models.Severity) int {
	switch s {
	case models.SeverityHigh:
		return 0
	case models.SeverityMedium:
		return 1
	default:
		return 2
	}
}
