package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/radio-coordination/internal/coordination"
	"github.com/roman-kulish/radio-coordination/internal/observability"
	"github.com/roman-kulish/radio-coordination/internal/pathloss"
	"github.com/roman-kulish/radio-coordination/internal/storage"
)

const (
	EnvDBPath     = "COORDINATOR_DB_PATH"
	EnvLogLevel   = "COORDINATOR_LOG_LEVEL"
	EnvWorkers    = "COORDINATOR_WORKERS"
	EnvRunTimeout = "COORDINATOR_RUN_TIMEOUT"

	defaultProviderTimeout = 30 * time.Second
)

type TimeDuration time.Duration

func NewTimeDuration(d time.Duration) TimeDuration {
	return TimeDuration(d)
}

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d *TimeDuration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *TimeDuration) UnmarshalJSON(bytes []byte) error {
	var v string
	if err := json.Unmarshal(bytes, &v); err != nil {
		return err
	}

	duration, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("app.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d *TimeDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(*d).String())
}

func (d *TimeDuration) Validate() error {
	if duration := time.Duration(*d); duration < 0 {
		return fmt.Errorf("app.TimeDuration: must not be negative: %s", duration)
	}
	return nil
}

func (d *TimeDuration) String() string {
	return time.Duration(*d).String()
}

// Config represents the main application configuration
type Config struct {
	Settings Settings                    `yaml:"settings"`
	Storage  StorageConfig               `yaml:"storage"`
	Analysis coordination.Params         `yaml:"analysis"`
	PathLoss PathLossConfig              `yaml:"pathLoss"`
	Metrics  MetricsConfig               `yaml:"metrics"`
	Tracing  observability.TracingConfig `yaml:"tracing"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel   string       `yaml:"logLevel"`
	RunTimeout TimeDuration `yaml:"runTimeout"` // Zero means no job timeout
}

// Level returns the parsed log level, Info when unset.
func (s *Settings) Level() (slog.Level, error) {
	var level slog.Level
	if s.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s.LogLevel, err)
	}
	return level, nil
}

// StorageConfig represents storage settings
type StorageConfig struct {
	DBPath    string `yaml:"dbPath"`
	BatchSize int    `yaml:"batchSize"` // Results written per transaction
}

// PathLossConfig represents the over-horizon provider settings. The provider
// is only started for models that need it.
type PathLossConfig struct {
	Provider      pathloss.ExecConfig `yaml:"provider"`
	Timeout       TimeDuration        `yaml:"timeout"`
	CacheCapacity int                 `yaml:"cacheCapacity"`
}

// ExecConfig returns the provider configuration with the timeout applied.
func (c *PathLossConfig) ExecConfig() pathloss.ExecConfig {
	cfg := c.Provider
	cfg.Timeout = time.Duration(c.Timeout)
	return cfg
}

// MetricsConfig represents the Prometheus endpoint settings
type MetricsConfig struct {
	Listen string `yaml:"listen"` // Address of the /metrics listener, disabled when empty
}

// LoadConfig reads the YAML configuration file at path, applies overrides from
// a .env file and the environment, fills defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	_ = godotenv.Load() // ignore missing file

	if err = config.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvDBPath)); v != "" {
		c.Storage.DBPath = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.Settings.LogLevel = v
	}
	if v := strings.TrimSpace(getenv(EnvWorkers)); v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvWorkers, err)
		}
		c.Analysis.Workers = workers
	}
	if v := strings.TrimSpace(getenv(EnvRunTimeout)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRunTimeout, err)
		}
		c.Settings.RunTimeout = TimeDuration(d)
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.Analysis = c.Analysis.WithDefaults()

	if c.Storage.BatchSize == 0 {
		c.Storage.BatchSize = storage.DefaultBatchCapacity
	}
	if c.PathLoss.Timeout == 0 {
		c.PathLoss.Timeout = TimeDuration(defaultProviderTimeout)
	}
	if c.PathLoss.CacheCapacity == 0 {
		c.PathLoss.CacheCapacity = pathloss.DefaultCacheCapacity
	}
}

// Validate checks the whole configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Settings.Level(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Settings.RunTimeout.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("settings.runTimeout: %w", err))
	}
	if c.Storage.DBPath == "" {
		errs = append(errs, errors.New("storage.dbPath is required"))
	}
	if c.Storage.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("storage.batchSize must be at least 1: %d", c.Storage.BatchSize))
	}
	if err := c.Analysis.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("analysis: %w", err))
	}
	if c.Analysis.PathLossModel.NeedsProvider() {
		cfg := c.PathLoss.ExecConfig()
		if err := cfg.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.PathLoss.CacheCapacity < 1 {
		errs = append(errs, fmt.Errorf("pathLoss.cacheCapacity must be at least 1: %d", c.PathLoss.CacheCapacity))
	}
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}

	return errors.Join(errs...)
}
