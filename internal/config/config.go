// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends
const (
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

// Config holds configuration shared by the binaries
type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	LogFormat          string        `mapstructure:"LOG_FORMAT"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	StoreBackend       string        `mapstructure:"STORE_BACKEND"`
	FirestoreProjectID string        `mapstructure:"FIRESTORE_PROJECT_ID"`
	OTLPEndpoint       string        `mapstructure:"OTLP_ENDPOINT"`
	TraceSampleRate    float64       `mapstructure:"TRACE_SAMPLE_RATE"`
	Timezone           string        `mapstructure:"TIMEZONE"`
	GraceWindow        time.Duration `mapstructure:"GRACE_WINDOW"`
	MissedAlertAfter   time.Duration `mapstructure:"MISSED_ALERT_AFTER"`
	LowStockThreshold  int           `mapstructure:"LOW_STOCK_THRESHOLD"`
	ExpiryWarningDays  int           `mapstructure:"EXPIRY_WARNING_DAYS"`
	InteractionRules   string        `mapstructure:"INTERACTION_RULES_FILE"`
	RepositoryTimeout  time.Duration `mapstructure:"REPOSITORY_TIMEOUT"`

	// split out of comma separated lists by Load
	KafkaBrokers []string          `mapstructure:"-"`
	APIKeys      map[string]string `mapstructure:"-"`
	// Location is Timezone resolved by Validate
	Location *time.Location `mapstructure:"-"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL", "STORE_BACKEND",
	"FIRESTORE_PROJECT_ID", "KAFKA_BROKERS", "OTLP_ENDPOINT", "TRACE_SAMPLE_RATE",
	"API_KEYS", "TIMEZONE", "GRACE_WINDOW", "MISSED_ALERT_AFTER", "LOW_STOCK_THRESHOLD",
	"EXPIRY_WARNING_DAYS", "INTERACTION_RULES_FILE", "REPOSITORY_TIMEOUT",
}

// Load reads defaults, then .env, then the environment, and validates the result
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("DATABASE_URL", "postgres://localhost:5432/pillwise?sslmode=disable")
	v.SetDefault("STORE_BACKEND", BackendPostgres)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("TRACE_SAMPLE_RATE", 0.1)
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("GRACE_WINDOW", "2h")
	v.SetDefault("MISSED_ALERT_AFTER", "30m")
	v.SetDefault("LOW_STOCK_THRESHOLD", 5)
	v.SetDefault("EXPIRY_WARNING_DAYS", 30)
	v.SetDefault("REPOSITORY_TIMEOUT", "10s")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))

	apiKeys, err := ParseAPIKeys(v.GetString("API_KEYS"))
	if err != nil {
		return nil, err
	}
	cfg.APIKeys = apiKeys

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values and resolves the timezone
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendFirestore:
		if c.FirestoreProjectID == "" {
			errs = append(errs, errors.New("FIRESTORE_PROJECT_ID is required for the firestore backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	if c.GraceWindow < 0 {
		errs = append(errs, errors.New("GRACE_WINDOW must not be negative"))
	}
	if c.MissedAlertAfter < 0 {
		errs = append(errs, errors.New("MISSED_ALERT_AFTER must not be negative"))
	}
	if c.RepositoryTimeout <= 0 {
		errs = append(errs, errors.New("REPOSITORY_TIMEOUT must be positive"))
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		errs = append(errs, errors.New("TRACE_SAMPLE_RATE must be within [0, 1]"))
	}
	if len(c.APIKeys) == 0 && !c.IsDev() {
		errs = append(errs, fmt.Errorf("API_KEYS is required when ENV is %q", c.Env))
	}
	if c.LowStockThreshold < 0 || c.ExpiryWarningDays < 0 {
		errs = append(errs, errors.New("alert thresholds must not be negative"))
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	c.Location = loc

	return errors.Join(errs...)
}

// IsDev reports whether the service runs in development mode
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ParseAPIKeys parses "key:client,key2:client2"
func ParseAPIKeys(s string) (map[string]string, error) {
	keys := make(map[string]string)
	for _, pair := range splitList(s) {
		key, client, ok := strings.Cut(pair, ":")
		key, client = strings.TrimSpace(key), strings.TrimSpace(client)
		if !ok || key == "" || client == "" {
			return nil, fmt.Errorf("API_KEYS: malformed entry %q, expected key:client", pair)
		}
		keys[key] = client
	}
	return keys, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
