package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar names an optional YAML file layered between defaults and environment.
const PathEnvVar = "CONFIG_PATH"

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Places    PlacesConfig    `koanf:"places"`
	Discovery DiscoveryConfig `koanf:"discovery"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Port               string        `koanf:"port"`
	BearerToken        string        `koanf:"bearer_token"`
	RateLimitPerMinute int           `koanf:"rate_limit_per_minute"`
	ReadTimeout        time.Duration `koanf:"read_timeout"`
	IdleTimeout        time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout    time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL           string `koanf:"url"`
	MaxConns      int32  `koanf:"max_conns"`
	MigrationsDir string `koanf:"migrations_dir"`
}

type RedisConfig struct {
	URL      string        `koanf:"url"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

type PlacesConfig struct {
	APIKey             string        `koanf:"api_key"`
	BaseURL            string        `koanf:"base_url"`
	Timeout            time.Duration `koanf:"timeout"`
	RequestsPerSecond  float64       `koanf:"requests_per_second"`
	Burst              int           `koanf:"burst"`
	BreakerFailures    uint32        `koanf:"breaker_failures"`
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

type DiscoveryConfig struct {
	RadiusMeters           int           `koanf:"radius_meters"`
	MaxResults             int           `koanf:"max_results"`
	RefetchThresholdMeters float64       `koanf:"refetch_threshold_meters"`
	FetchTimeout           time.Duration `koanf:"fetch_timeout"`
	DistancePenaltyPerKm   float64       `koanf:"distance_penalty_per_km"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:               "8080",
			RateLimitPerMinute: 60,
			ReadTimeout:        15 * time.Second,
			IdleTimeout:        60 * time.Second,
			ShutdownTimeout:    30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:      10,
			MigrationsDir: "migrations",
		},
		Redis: RedisConfig{
			CacheTTL: 24 * time.Hour,
		},
		Places: PlacesConfig{
			Timeout:            10 * time.Second,
			RequestsPerSecond:  5,
			Burst:              5,
			BreakerFailures:    3,
			BreakerOpenTimeout: 30 * time.Second,
		},
		Discovery: DiscoveryConfig{
			RadiusMeters:           5000,
			MaxResults:             20,
			RefetchThresholdMeters: 100,
			FetchTimeout:           10 * time.Second,
			DistancePenaltyPerKm:   0.15,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envMappings maps environment variable names to koanf paths.
var envMappings = map[string]string{
	"port":                              "server.port",
	"bearer_token":                      "server.bearer_token",
	"rate_limit_per_minute":             "server.rate_limit_per_minute",
	"shutdown_timeout":                  "server.shutdown_timeout",
	"database_url":                      "database.url",
	"database_max_conns":                "database.max_conns",
	"migrations_dir":                    "database.migrations_dir",
	"redis_url":                         "redis.url",
	"cache_ttl":                         "redis.cache_ttl",
	"places_api_key":                    "places.api_key",
	"places_base_url":                   "places.base_url",
	"places_timeout":                    "places.timeout",
	"places_requests_per_second":        "places.requests_per_second",
	"places_burst":                      "places.burst",
	"places_breaker_failures":           "places.breaker_failures",
	"places_breaker_open_timeout":       "places.breaker_open_timeout",
	"discovery_radius_meters":           "discovery.radius_meters",
	"discovery_max_results":             "discovery.max_results",
	"discovery_refetch_threshold":       "discovery.refetch_threshold_meters",
	"discovery_fetch_timeout":           "discovery.fetch_timeout",
	"discovery_distance_penalty_per_km": "discovery.distance_penalty_per_km",
	"log_level":                         "log.level",
	"log_format":                        "log.format",
}

// envTransformFunc maps a known environment variable to its koanf path.
// Unknown or empty variables return "" and are skipped.
func envTransformFunc(key, value string) (string, interface{}) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return envMappings[strings.ToLower(key)], value
}

// Load layers defaults, the optional YAML file named by CONFIG_PATH, and
// environment variables (highest priority), then validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := os.Getenv(PathEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks required settings and ranges. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	required := []struct{ name, value string }{
		{"DATABASE_URL", c.Database.URL},
		{"REDIS_URL", c.Redis.URL},
		{"BEARER_TOKEN", c.Server.BearerToken},
		{"PLACES_API_KEY", c.Places.APIKey},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Server.RateLimitPerMinute <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}
	if c.Discovery.RadiusMeters <= 0 {
		errs = append(errs, errors.New("discovery radius must be positive"))
	}
	if c.Discovery.MaxResults <= 0 || c.Discovery.MaxResults > 20 {
		errs = append(errs, fmt.Errorf("discovery max results must be in 1..20, got %d", c.Discovery.MaxResults))
	}
	if c.Discovery.RefetchThresholdMeters <= 0 {
		errs = append(errs, errors.New("refetch threshold must be positive"))
	}
	if c.Discovery.DistancePenaltyPerKm < 0 {
		errs = append(errs, errors.New("distance penalty must not be negative"))
	}
	if c.Places.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("places requests per second must not be negative"))
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
