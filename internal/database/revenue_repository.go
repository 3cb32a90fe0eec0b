package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chisanga/revpredict-go/internal/models"
)

// RevenueQuerier is the subset of the pgx pool used by the repository,
// satisfied by both *pgxpool.Pool and pgxmock.
type RevenueQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// RevenueRepository reads ordered monthly revenue observations from the
// revenue_observations table. It is the data-access collaborator behind
// HistoricalSeriesProvider: observations are immutable once ingested and are
// served gap-checked in ascending date order.
type RevenueRepository struct {
	pool   RevenueQuerier
	logger *logrus.Logger
}

// NewRevenueRepository creates a repository over the given pool.
func NewRevenueRepository(pool RevenueQuerier, logger *logrus.Logger) *RevenueRepository {
	return &RevenueRepository{pool: pool, logger: logger}
}

const seriesQuery = `
	SELECT observed_month, tax_type, region, amount::text
	FROM revenue_observations
	WHERE tax_type = $1
	  AND ($2 = '' OR region = $2)
	ORDER BY observed_month ASC`

// Series returns the ordered monthly series for a (tax type, region) pair.
// An empty region selects the national aggregate rows.
func (r *RevenueRepository) Series(ctx context.Context, taxType models.TaxType, region string) ([]models.RevenueObservation, error) {
	rows, err := r.pool.Query(ctx, seriesQuery, string(taxType), region)
	if err != nil {
		return nil, fmt.Errorf("querying revenue series for %s: %w", taxType, err)
	}
	defer rows.Close()

	var observations []models.RevenueObservation
	for rows.Next() {
		var obs models.RevenueObservation
		var storedType, amount string
		if err := rows.Scan(&obs.Date, &storedType, &obs.Region, &amount); err != nil {
			return nil, fmt.Errorf("scanning revenue observation: %w", err)
		}
		obs.TaxType = models.TaxType(storedType)
		obs.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parsing amount %q: %w", amount, err)
		}
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading revenue series for %s: %w", taxType, err)
	}

	r.logger.WithFields(logrus.Fields{
		"tax_type": taxType,
		"region":   region,
		"months":   len(observations),
	}).Debug("Loaded revenue series")
	return observations, nil
}
