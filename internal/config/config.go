package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read once at startup.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR"        envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL"        envDefault:"info"`

	ANPR ANPRConfig

	DatabaseDSN     string        `env:"DATABASE_DSN"      envDefault:"host=postgres user=postgres password=postgres dbname=parking port=5432 sslmode=disable"`
	RedisAddr       string        `env:"REDIS_ADDR"        envDefault:"redis:6379"`
	VehicleCacheTTL time.Duration `env:"VEHICLE_CACHE_TTL" envDefault:"5m"`

	JWTSecret   string `env:"JWT_SECRET"   envDefault:"dev-secret"`
	JWTAudience string `env:"JWT_AUDIENCE"`

	OTelEndpoint string `env:"OTEL_EXPORTER_ENDPOINT"`
}

// ANPRConfig locates the plate recognition service.
type ANPRConfig struct {
	BaseURL        string        `env:"ANPR_SERVICE_URL"     envDefault:"http://localhost:5000"`
	ProcessTimeout time.Duration `env:"ANPR_PROCESS_TIMEOUT" envDefault:"30s"`
	HealthTimeout  time.Duration `env:"ANPR_HEALTH_TIMEOUT"  envDefault:"5s"`
}

// Load reads an optional .env file followed by the process environment.
// Variables already set in the environment take precedence over the file.
func Load(dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	parsed, err := url.Parse(c.ANPR.BaseURL)
	if err != nil {
		return fmt.Errorf("ANPR_SERVICE_URL: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("ANPR_SERVICE_URL: %q is not an absolute http(s) url", c.ANPR.BaseURL)
	}
	if c.ANPR.ProcessTimeout < 0 || c.ANPR.HealthTimeout < 0 {
		return errors.New("ANPR timeouts must not be negative")
	}
	if c.VehicleCacheTTL <= 0 {
		return errors.New("VEHICLE_CACHE_TTL must be positive")
	}
	return nil
}
