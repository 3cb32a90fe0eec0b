package services

import (
	"context"

	"github.com/chisanga/revpredict-go/internal/models"
)

// HistoricalSeriesProvider supplies ordered, gap-checked monthly revenue
// observations per (tax type, region). An empty region selects the national
// aggregate series. Implemented by the database layer; stubbed in tests.
type HistoricalSeriesProvider interface {
	Series(ctx context.Context, taxType models.TaxType, region string) ([]models.RevenueObservation, error)
}
