// Package config loads gioswatch settings from an optional .env file, an
// optional YAML file and the process environment, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gioswatch/gioswatch/internal/database"
)

// Snapshot backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config holds all application settings.
type Config struct {
	Env      string `yaml:"env" validate:"required"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	LogLevel string `yaml:"log_level" validate:"oneof=trace debug info warn error"`

	GIOS      GIOSConfig      `yaml:"gios"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Windows   WindowConfig    `yaml:"windows"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Database  database.Config `yaml:"database" validate:"-"`
}

// GIOSConfig configures the upstream API client.
type GIOSConfig struct {
	BaseURL  string        `yaml:"base_url" validate:"required,url"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
	Timezone string        `yaml:"timezone" validate:"required"`
}

// SnapshotConfig selects where raw payloads and the sensor index are kept.
type SnapshotConfig struct {
	Backend string `yaml:"backend" validate:"oneof=file postgres"`
	Dir     string `yaml:"dir" validate:"required_if=Backend file"`
}

// WindowConfig holds the time windows, in days.
type WindowConfig struct {
	ChartDays      int `yaml:"chart_days" validate:"min=1,max=31"`
	CurrentDays    int `yaml:"current_days" validate:"min=1,max=31"`
	HistoricalDays int `yaml:"historical_days" validate:"min=1,max=366"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" validate:"required_if=Enabled true"`
	SampleRatio  float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Env:      "development",
		Port:     8080,
		LogLevel: "info",
		GIOS: GIOSConfig{
			BaseURL:  "http://api.gios.gov.pl:80",
			Timeout:  30 * time.Second,
			Timezone: "Europe/Warsaw",
		},
		Snapshot: SnapshotConfig{
			Backend: BackendFile,
			Dir:     "database",
		},
		Windows: WindowConfig{
			ChartDays:      3,
			CurrentDays:    3,
			HistoricalDays: 5,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			SampleRatio:  1,
		},
		Database: database.DefaultConfig(),
	}
}

var validate = validator.New()

// Load reads .env (if present), the YAML file named by CONFIG_FILE (if set),
// then applies environment overrides and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error

	setString(&c.Env, "APP_ENV")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.GIOS.BaseURL, "GIOS_BASE_URL")
	setString(&c.GIOS.Timezone, "GIOS_TIMEZONE")
	setString(&c.Snapshot.Dir, "SNAPSHOT_DIR")
	setString(&c.Snapshot.Backend, "SNAPSHOT_BACKEND")
	setString(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	errs = append(errs,
		setInt(&c.Port, "APP_PORT"),
		setInt(&c.Windows.ChartDays, "CHART_DAYS"),
		setInt(&c.Windows.CurrentDays, "CURRENT_DAYS"),
		setInt(&c.Windows.HistoricalDays, "HISTORICAL_DAYS"),
		setDuration(&c.GIOS.Timeout, "GIOS_TIMEOUT"),
		setBool(&c.Telemetry.Enabled, "OTEL_ENABLED"),
		setFloat(&c.Telemetry.SampleRatio, "OTEL_TRACES_SAMPLER_ARG"),
	)

	database.ApplyEnv(&c.Database)

	return errors.Join(errs...)
}

// Validate checks the settings and that the timezone exists.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Snapshot.Backend == BackendPostgres {
		if err := validate.Struct(c.Database); err != nil {
			return fmt.Errorf("invalid database config: %w", err)
		}
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location returns the timezone measurement timestamps are interpreted in.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.GIOS.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.GIOS.Timezone, err)
	}
	return loc, nil
}

// IsProduction reports whether the service runs in production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}
