package config

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/skybon/weatherchecker/internal/weather"
)

// ErrInvalidConfig is returned when the loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	CategoryNames []string            `mapstructure:"categories" validate:"required,min=1,unique,dive,required"`
	SourceList    []SourceConfig      `mapstructure:"sources" validate:"required,min=1,dive"`
	LocationList  []map[string]string `mapstructure:"locations" validate:"dive,min=1"`

	// Env holds environment parameters merged into every URL. Each key can be
	// overridden by the OS environment variable of its upper-cased name.
	Env map[string]string `mapstructure:"env"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// FetchConfig controls outbound requests made during a refresh.
type FetchConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency" validate:"min=1"`
}

// BreakerConfig controls the per-source circuit breakers.
type BreakerConfig struct {
	MaxRequests uint32        `mapstructure:"max_requests"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Failures    uint32        `mapstructure:"failures"`
}

// SchedulerConfig controls periodic refreshes.
type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// SourceConfig describes one weather source.
type SourceConfig struct {
	Name string            `mapstructure:"name" validate:"required"`
	URLs map[string]string `mapstructure:"urls" validate:"required,min=1"`
}

var validate = validator.New()

// Load reads configuration from a TOML file and environment variables.
// When path is empty, weatherchecker.toml is searched in the usual places
// and a missing file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("weatherchecker")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.weatherchecker")
	}

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("fetch.timeout", "10s")
	v.SetDefault("fetch.max_concurrency", 16)
	v.SetDefault("breaker.max_requests", 5)
	v.SetDefault("breaker.interval", "1m")
	v.SetDefault("breaker.timeout", "2m")
	v.SetDefault("breaker.failures", 5)
	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("categories", []string{string(weather.CategoryCurrent), string(weather.CategoryForecast)})

	// Read from environment variables
	v.SetEnvPrefix("WEATHERCHECKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if c.Env == nil {
		c.Env = make(map[string]string)
	}
	for key := range c.Env {
		if val, ok := os.LookupEnv(strings.ToUpper(key)); ok {
			c.Env[key] = val
		}
	}
}

// Validate checks field constraints and that every source provides a URL
// template for every category.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for _, src := range c.SourceList {
		for _, category := range c.CategoryNames {
			if _, ok := src.URLs[category]; !ok {
				return fmt.Errorf("%w: source %q has no url for category %q", ErrInvalidConfig, src.Name, category)
			}
		}
	}
	return nil
}

// Categories returns the configured categories in order.
func (c *Config) Categories() []weather.Category {
	out := make([]weather.Category, 0, len(c.CategoryNames))
	for _, name := range c.CategoryNames {
		out = append(out, weather.Category(name))
	}
	return out
}

// Sources converts the configured sources to domain values.
func (c *Config) Sources() []weather.Source {
	out := make([]weather.Source, 0, len(c.SourceList))
	for _, src := range c.SourceList {
		urls := make(map[weather.Category]string, len(src.URLs))
		for category, tmpl := range src.URLs {
			urls[weather.Category(category)] = tmpl
		}
		out = append(out, weather.Source{Name: src.Name, URLs: urls})
	}
	return out
}

// Locations converts the configured locations to domain values.
func (c *Config) Locations() []weather.Location {
	out := make([]weather.Location, 0, len(c.LocationList))
	for _, loc := range c.LocationList {
		out = append(out, weather.Location(loc).Clone())
	}
	return out
}

// GetServerAddr returns the server address in the format ":port".
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// NewLogger creates a new slog.Logger based on the configuration.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(c.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
