package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/chisanga/revpredict-go/internal/config"
)

// PostgresDB wraps the pgx pool serving revenue observations.
type PostgresDB struct {
	Pool   *pgxpool.Pool
	logger *logrus.Logger
}

// NewPostgresConnection opens and pings a connection pool for the configured
// database.
func NewPostgresConnection(cfg config.DatabaseConfig, logger *logrus.Logger) (*PostgresDB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"dbname": cfg.DBName,
	}).Info("Connected to PostgreSQL")

	return &PostgresDB{Pool: pool, logger: logger}, nil
}

func (db *PostgresDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("PostgreSQL connection closed")
	}
}

func (db *PostgresDB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
