package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Payments PaymentsConfig `yaml:"payments"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Traces   TracesConfig   `yaml:"traces"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // postgres or sqlite
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"dbname"`
	SSLMode      string `yaml:"sslmode"`
	Path         string `yaml:"path"` // SQLite database file
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// AuthConfig holds the authentication configuration
type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	SignupTokenTTL time.Duration `yaml:"signup_token_ttl"`
	PipelineToken  string        `yaml:"pipeline_token"` // Shared secret of the analysis pipeline
}

// PaymentsConfig selects and configures the payment processor
type PaymentsConfig struct {
	Provider          string `yaml:"provider"` // stripe or fake
	StripeSecretKey   string `yaml:"stripe_secret_key"`
	WebhookSecret     string `yaml:"webhook_secret"`
	Currency          string `yaml:"currency"`
	PremiumPriceCents int64  `yaml:"premium_price_cents"`
}

// AnalysisConfig selects and configures the AI analysis service
type AnalysisConfig struct {
	Provider string        `yaml:"provider"` // genai or fake
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"` // Optional API endpoint override
	Timeout  time.Duration `yaml:"timeout"`
}

// TracesConfig holds trace processing targets
type TracesConfig struct {
	StandardETA time.Duration `yaml:"standard_eta"`
	PremiumETA  time.Duration `yaml:"premium_eta"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", c.Path)
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode,
	)
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       DriverPostgres,
			Host:         "localhost",
			Port:         5432,
			Username:     "postgres",
			Password:     "password",
			DBName:       "cryptotrace",
			SSLMode:      "disable",
			Path:         "cryptotrace.db",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Auth: AuthConfig{
			JWTSecret:      "your-secret-key-here",
			TokenTTL:       24 * time.Hour,
			SignupTokenTTL: 72 * time.Hour,
		},
		Payments: PaymentsConfig{
			Provider:          "fake",
			Currency:          "usd",
			PremiumPriceCents: 4999,
		},
		Analysis: AnalysisConfig{
			Provider: "fake",
			Model:    "gemini-2.0-flash",
			Timeout:  30 * time.Second,
		},
		Traces: TracesConfig{
			StandardETA: 72 * time.Hour,
			PremiumETA:  24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads the configuration from an optional YAML file and then
// from environment variables, which take precedence.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d is out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("jwt secret is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	switch c.Payments.Provider {
	case "fake":
	case "stripe":
		if c.Payments.StripeSecretKey == "" || c.Payments.WebhookSecret == "" {
			errs = append(errs, errors.New("stripe provider needs a secret key and a webhook secret"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown payment provider %q", c.Payments.Provider))
	}
	if c.Payments.PremiumPriceCents <= 0 {
		errs = append(errs, errors.New("premium price must be positive"))
	}
	switch c.Analysis.Provider {
	case "fake":
	case "genai":
		if c.Analysis.APIKey == "" {
			errs = append(errs, errors.New("genai provider needs an api key"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown analysis provider %q", c.Analysis.Provider))
	}
	return errors.Join(errs...)
}

func (c *Config) applyEnvOverrides() error {
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsInt("SERVER_PORT", c.Server.Port)
	if origins := os.Getenv("SERVER_ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = splitCSV(origins)
	}

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.Username = getEnv("DB_USERNAME", c.Database.Username)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.Path = getEnv("DB_PATH", c.Database.Path)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.PipelineToken = getEnv("PIPELINE_TOKEN", c.Auth.PipelineToken)

	c.Payments.Provider = getEnv("PAYMENT_PROVIDER", c.Payments.Provider)
	c.Payments.StripeSecretKey = getEnv("STRIPE_SECRET_KEY", c.Payments.StripeSecretKey)
	c.Payments.WebhookSecret = getEnv("STRIPE_WEBHOOK_SECRET", c.Payments.WebhookSecret)
	c.Payments.Currency = getEnv("PAYMENT_CURRENCY", c.Payments.Currency)
	c.Payments.PremiumPriceCents = int64(getEnvAsInt("PREMIUM_PRICE_CENTS", int(c.Payments.PremiumPriceCents)))

	c.Analysis.Provider = getEnv("ANALYSIS_PROVIDER", c.Analysis.Provider)
	c.Analysis.APIKey = getEnv("GEMINI_API_KEY", c.Analysis.APIKey)
	c.Analysis.Model = getEnv("ANALYSIS_MODEL", c.Analysis.Model)
	c.Analysis.BaseURL = getEnv("ANALYSIS_BASE_URL", c.Analysis.BaseURL)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", &c.Server.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", &c.Server.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout},
		{"TOKEN_TTL", &c.Auth.TokenTTL},
		{"SIGNUP_TOKEN_TTL", &c.Auth.SignupTokenTTL},
		{"ANALYSIS_TIMEOUT", &c.Analysis.Timeout},
		{"TRACE_STANDARD_ETA", &c.Traces.StandardETA},
		{"TRACE_PREMIUM_ETA", &c.Traces.PremiumETA},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitCSV(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
