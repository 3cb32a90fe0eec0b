package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Forecast    ForecastConfig `mapstructure:"forecast"`
	Anomaly     AnomalyConfig  `mapstructure:"anomaly"`
	Scenario    ScenarioConfig `mapstructure:"scenario"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ForecastConfig struct {
	HorizonMonths      int     `mapstructure:"horizon_months"`
	FitBudget          string  `mapstructure:"fit_budget"`
	MinHistoryMonths   int     `mapstructure:"min_history_months"`
	MinResidualSamples int     `mapstructure:"min_residual_samples"`
	BoostingRounds     int     `mapstructure:"boosting_rounds"`
	LearningRate       float64 `mapstructure:"learning_rate"`
	Region             string  `mapstructure:"region"`
	RefreshSchedule    string  `mapstructure:"refresh_schedule"`
	CacheTTL           string  `mapstructure:"cache_ttl"`
}

type AnomalyConfig struct {
	HighThresholdPct   float64 `mapstructure:"high_threshold_pct"`
	MediumThresholdPct float64 `mapstructure:"medium_threshold_pct"`
	NoiseFloorPct      float64 `mapstructure:"noise_floor_pct"`
}

type ScenarioConfig struct {
	VATMin            float64            `mapstructure:"vat_min"`
	VATMax            float64            `mapstructure:"vat_max"`
	CorporateMin      float64            `mapstructure:"corporate_min"`
	CorporateMax      float64            `mapstructure:"corporate_max"`
	IncomeMin         float64            `mapstructure:"income_min"`
	IncomeMax         float64            `mapstructure:"income_max"`
	BaseVATRate       float64            `mapstructure:"base_vat_rate"`
	BaseCorporateRate float64            `mapstructure:"base_corporate_rate"`
	BaseIncomeRate    float64            `mapstructure:"base_income_rate"`
	Elasticities      map[string]float64 `mapstructure:"elasticities"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the coherence of the numeric policy parameters.
func (c *Config) Validate() error {
	if c.Forecast.FitBudget != "" {
		if _, err := time.ParseDuration(c.Forecast.FitBudget); err != nil {
			return fmt.Errorf("invalid forecast fit budget: %w", err)
		}
	}
	if c.Forecast.CacheTTL != "" {
		if _, err := time.ParseDuration(c.Forecast.CacheTTL); err != nil {
			return fmt.Errorf("invalid forecast cache TTL: %w", err)
		}
	}
	if c.Forecast.LearningRate <= 0 || c.Forecast.LearningRate > 1 {
		return fmt.Errorf("forecast learning rate must be in (0, 1], got %g", c.Forecast.LearningRate)
	}

	a := c.Anomaly
	if !(a.HighThresholdPct > a.MediumThresholdPct && a.MediumThresholdPct > a.NoiseFloorPct && a.NoiseFloorPct > 0) {
		return fmt.Errorf("anomaly thresholds must satisfy high > medium > noise floor > 0, got %g/%g/%g",
			a.HighThresholdPct, a.MediumThresholdPct, a.NoiseFloorPct)
	}

	ranges := []struct {
		name           string
		min, max, base float64
	}{
		{"vat", c.Scenario.VATMin, c.Scenario.VATMax, c.Scenario.BaseVATRate},
		{"corporate", c.Scenario.CorporateMin, c.Scenario.CorporateMax, c.Scenario.BaseCorporateRate},
		{"income", c.Scenario.IncomeMin, c.Scenario.IncomeMax, c.Scenario.BaseIncomeRate},
	}
	for _, r := range ranges {
		if r.min >= r.max {
			return fmt.Errorf("scenario %s range must have min < max, got %g-%g", r.name, r.min, r.max)
		}
		if r.base < r.min || r.base > r.max {
			return fmt.Errorf("scenario %s base rate %g outside valid range %g-%g", r.name, r.base, r.min, r.max)
		}
	}
	return nil
}

// FitBudgetDuration returns the parsed fit budget.
func (c *ForecastConfig) FitBudgetDuration() time.Duration {
	d, err := time.ParseDuration(c.FitBudget)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// CacheTTLDuration returns the parsed response cache TTL.
func (c *ForecastConfig) CacheTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "revpredict")
	viper.SetDefault("database.sslmode", "disable")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Forecast
	viper.SetDefault("forecast.horizon_months", 12)
	viper.SetDefault("forecast.fit_budget", "30s")
	viper.SetDefault("forecast.min_history_months", 24)
	viper.SetDefault("forecast.min_residual_samples", 12)
	viper.SetDefault("forecast.boosting_rounds", 50)
	viper.SetDefault("forecast.learning_rate", 0.1)
	viper.SetDefault("forecast.region", "")
	viper.SetDefault("forecast.refresh_schedule", "0 2 1 * *")
	viper.SetDefault("forecast.cache_ttl", "15m")

	// Anomaly severity bands (deviation percentages)
	viper.SetDefault("anomaly.high_threshold_pct", 25.0)
	viper.SetDefault("anomaly.medium_threshold_pct", 15.0)
	viper.SetDefault("anomaly.noise_floor_pct", 5.0)

	// Scenario policy parameters
	viper.SetDefault("scenario.vat_min", 5.0)
	viper.SetDefault("scenario.vat_max", 25.0)
	viper.SetDefault("scenario.corporate_min", 15.0)
	viper.SetDefault("scenario.corporate_max", 45.0)
	viper.SetDefault("scenario.income_min", 20.0)
	viper.SetDefault("scenario.income_max", 50.0)
	viper.SetDefault("scenario.base_vat_rate", 16.0)
	viper.SetDefault("scenario.base_corporate_rate", 35.0)
	viper.SetDefault("scenario.base_income_rate", 37.5)
	viper.SetDefault("scenario.elasticities", map[string]float64{
		"VAT":           1.0,
		"Corporate_Tax": 0.8,
		"Income_Tax":    0.6,
	})
}
