package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full service configuration, loaded from the environment.
type Config struct {
	Service   ServiceConfig
	Server    ServerConfig
	Database  DatabaseConfig
	NATS      NATSConfig
	Directory DirectoryConfig
	Currency  CurrencyConfig
}

type ServiceConfig struct {
	Name        string `env:"SERVICE_NAME" envDefault:"be-expense-approvals"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Version     string `env:"SERVICE_VERSION" envDefault:"dev"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

type ServerConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8086"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`
}

type DatabaseConfig struct {
	Host        string        `env:"DB_HOST" envDefault:"localhost"`
	Port        int           `env:"DB_PORT" envDefault:"5432"`
	User        string        `env:"DB_USER" envDefault:"postgres"`
	Password    string        `env:"DB_PASSWORD" envDefault:"postgres"`
	Database    string        `env:"DB_NAME" envDefault:"expense_approvals"`
	SSLMode     string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns    int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns    int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	MaxConnTime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	MaxIdleTime time.Duration `env:"DB_MAX_CONN_IDLE" envDefault:"30m"`
}

// NATSConfig is optional: an empty URL disables notification publishing.
type NATSConfig struct {
	URL string `env:"NATS_URL"`
}

// DirectoryConfig points at the user-directory service that supplies
// managers, approval permissions and company admins.
type DirectoryConfig struct {
	BaseURL string        `env:"DIRECTORY_URL" envDefault:"http://localhost:8081"`
	Timeout time.Duration `env:"DIRECTORY_TIMEOUT" envDefault:"5s"`
}

// CurrencyConfig controls amount normalization for threshold comparisons.
// Rates are reference-currency units per one unit of the keyed currency.
type CurrencyConfig struct {
	Reference string             `env:"REFERENCE_CURRENCY" envDefault:"INR"`
	Rates     map[string]float64 `env:"CURRENCY_RATES"`
}

// Load reads configuration from the environment, honoring a local .env file
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
