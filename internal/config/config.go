// Package config loads strideline configuration from defaults, an optional
// YAML file, and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file search paths.
const ConfigPathEnvVar = "STRIDELINE_CONFIG"

// DefaultConfigPaths are searched in order when STRIDELINE_CONFIG is unset.
var DefaultConfigPaths = []string{
	"strideline.yaml",
	"config/strideline.yaml",
	"/etc/strideline/config.yaml",
}

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Cache     CacheConfig     `koanf:"cache"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Quota     QuotaConfig     `koanf:"quota"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Enrich    EnrichConfig    `koanf:"enrich"`
	Music     MusicConfig     `koanf:"music"`
	Database  DatabaseConfig  `koanf:"database"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// CacheConfig controls the on-disk activity cache.
type CacheConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// UpstreamConfig holds credentials and tuning for the activity API.
type UpstreamConfig struct {
	ClientID     string        `koanf:"client_id" validate:"required"`
	ClientSecret string        `koanf:"client_secret" validate:"required"`
	RefreshToken string        `koanf:"refresh_token" validate:"required"`
	BaseURL      string        `koanf:"base_url" validate:"omitempty,url"`
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
}

// QuotaConfig bounds upstream request volume.
type QuotaConfig struct {
	WindowLimit    int           `koanf:"window_limit" validate:"gt=0"`
	Window         time.Duration `koanf:"window" validate:"gt=0"`
	DailyLimit     int           `koanf:"daily_limit" validate:"gt=0"`
	ListingReserve int           `koanf:"listing_reserve" validate:"gte=0"`
}

// SchedulerConfig controls background refresh cadence.
type SchedulerConfig struct {
	Interval         time.Duration `koanf:"interval" validate:"gt=0"`
	EmergencyTimeout time.Duration `koanf:"emergency_timeout" validate:"gt=0"`
}

// EnrichConfig tunes batch processing.
type EnrichConfig struct {
	BatchSize    int `koanf:"batch_size" validate:"gt=0"`
	PerPage      int `koanf:"per_page" validate:"gt=0,lte=200"`
	ListingPages int `koanf:"listing_pages" validate:"gt=0"`
}

// MusicConfig enables track resolution for detected music references.
type MusicConfig struct {
	SpotifyClientID     string `koanf:"spotify_client_id"`
	SpotifyClientSecret string `koanf:"spotify_client_secret"`
}

// SpotifyEnabled reports whether Spotify credentials are configured.
func (m MusicConfig) SpotifyEnabled() bool {
	return m.SpotifyClientID != "" && m.SpotifyClientSecret != ""
}

// DatabaseConfig controls the optional PostgreSQL mirror.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// Enabled reports whether the mirror should be started.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			Path: "data/activities.json",
		},
		Upstream: UpstreamConfig{
			Timeout: 15 * time.Second,
		},
		Quota: QuotaConfig{
			WindowLimit:    90,
			Window:         15 * time.Minute,
			DailyLimit:     900,
			ListingReserve: 10,
		},
		Scheduler: SchedulerConfig{
			Interval:         6 * time.Hour,
			EmergencyTimeout: 30 * time.Second,
		},
		Enrich: EnrichConfig{
			BatchSize:    20,
			PerPage:      50,
			ListingPages: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the config file if one
// exists, and STRIDELINE_* environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// STRIDELINE_UPSTREAM_CLIENT_ID -> upstream.client_id
	// STRIDELINE_QUOTA_DAILY_LIMIT -> quota.daily_limit
	if err := k.Load(env.Provider("STRIDELINE_", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid or missing values.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Quota.ListingReserve >= c.Quota.DailyLimit {
		return fmt.Errorf("invalid configuration: listing_reserve %d must be below daily_limit %d",
			c.Quota.ListingReserve, c.Quota.DailyLimit)
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps STRIDELINE_SECTION_KEY_NAME to section.key_name.
// The first underscore separates the section; the rest stay joined.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "STRIDELINE_"))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	return section + "." + rest
}
