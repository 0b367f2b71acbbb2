package config

import (
	"driver-cost-service/internal/domain"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the immutable run configuration threaded into every component.
type Config struct {
	CostPerKm                  float64       `mapstructure:"cost_per_km" validate:"gt=0"`
	MaxRetries                 int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RequestTimeout             time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	BackoffBase                time.Duration `mapstructure:"backoff_base" validate:"gt=0"`
	BackoffMax                 time.Duration `mapstructure:"backoff_max" validate:"gtefield=BackoffBase"`
	RateLimitPerSecond         float64       `mapstructure:"rate_limit_per_second" validate:"gt=0"`
	RateLimitBurst             int           `mapstructure:"rate_limit_burst" validate:"gte=1"`
	FallbackCorrectionFactor   float64       `mapstructure:"fallback_correction_factor" validate:"gt=0"`
	DistanceAnomalyThresholdKm float64       `mapstructure:"distance_anomaly_threshold_km" validate:"gt=0"`
	Workers                    int           `mapstructure:"workers" validate:"gte=1"`
	SegmentConcurrency         int           `mapstructure:"segment_concurrency" validate:"gte=1"`
	LeaseTTL                   time.Duration `mapstructure:"lease_ttl" validate:"gte=0"`
	FallbackPolicy             string        `mapstructure:"fallback_policy" validate:"oneof=permanent retry_next_run"`
	FingerprintScope           string        `mapstructure:"fingerprint_scope" validate:"oneof=segment driver_day"`

	CacheBackend string `mapstructure:"cache_backend" validate:"oneof=memory sqlite postgres redis"`
	DBPath       string `mapstructure:"db_path" validate:"required_if=CacheBackend sqlite"`
	DatabaseURL  string `mapstructure:"database_url" validate:"required_if=CacheBackend postgres"`
	RedisAddr    string `mapstructure:"redis_addr" validate:"required_if=CacheBackend redis"`

	ProviderBaseURL    string `mapstructure:"provider_base_url" validate:"required,url"`
	ProviderProfile    string `mapstructure:"provider_profile" validate:"required"`
	ProviderKeyVersion string `mapstructure:"provider_key_version"`
	ORSAPIKey          string `mapstructure:"ors_api_key" validate:"required"`

	Input      string `mapstructure:"input"`
	InputSheet string `mapstructure:"input_sheet"`
	Output     string `mapstructure:"output" validate:"required"`
	LogLevel   string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogDev     bool   `mapstructure:"log_dev"`

	// Addr is the listen address of the HTTP server.
	Addr string `mapstructure:"addr" validate:"required"`
}

// Scope returns the fingerprint scope as a domain value.
func (c Config) Scope() domain.FingerprintScope { return domain.FingerprintScope(c.FingerprintScope) }

// RetryNextRun reports whether cached fallbacks from earlier runs are re-resolved.
func (c Config) RetryNextRun() bool { return c.FallbackPolicy == "retry_next_run" }

var defaults = map[string]any{
	"cost_per_km":                   1.0,
	"max_retries":                   3,
	"request_timeout":               "10s",
	"backoff_base":                  "200ms",
	"backoff_max":                   "5s",
	"rate_limit_per_second":         2.0,
	"rate_limit_burst":              1,
	"fallback_correction_factor":    1.3,
	"distance_anomaly_threshold_km": 200.0,
	"workers":                       4,
	"segment_concurrency":           4,
	"lease_ttl":                     "0s",
	"fallback_policy":               "permanent",
	"fingerprint_scope":             "segment",
	"cache_backend":                 "sqlite",
	"db_path":                       "data/costrun.db",
	"provider_base_url":             "https://api.openrouteservice.org",
	"provider_profile":              "driving-car",
	"provider_key_version":          "v1",
	"input_sheet":                   "stops",
	"output":                        "data/report.xlsx",
	"log_level":                     "info",
	"log_dev":                       false,
	"addr":                          ":8080",
}

// Load merges defaults, an optional config file, environment variables and
// command-line flags (highest precedence) into a validated Config.
func Load(args []string) (Config, error) {
	fs := pflag.NewFlagSet("costrun", pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to a config file (yaml, json or toml)")
	registerFlags(fs)

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("load config: parse flags: %w: %w", domain.ErrInvalidConfig, err)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix("COSTRUN")
	v.AutomaticEnv()
	// Conventional unprefixed names used by deployment tooling.
	_ = v.BindEnv("ors_api_key", "COSTRUN_ORS_API_KEY", "ORS_API_KEY")
	_ = v.BindEnv("database_url", "COSTRUN_DATABASE_URL", "DATABASE_URL")

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil {
			bindErr = errors.Join(bindErr, err)
		}
	})
	if bindErr != nil {
		return Config{}, fmt.Errorf("load config: bind flags: %w", bindErr)
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("load config: read %q: %w: %w", *configFile, domain.ErrInvalidConfig, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("load config: decode: %w: %w", domain.ErrInvalidConfig, err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks field constraints; every failure wraps domain.ErrInvalidConfig.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	// A holder must be able to finish at least one request inside its lease.
	if cfg.LeaseTTL > 0 && cfg.LeaseTTL <= cfg.RequestTimeout {
		return fmt.Errorf("%w: lease_ttl %s must exceed request_timeout %s",
			domain.ErrInvalidConfig, cfg.LeaseTTL, cfg.RequestTimeout)
	}
	return nil
}

func registerFlags(fs *pflag.FlagSet) {
	fs.Float64("cost-per-km", 1.0, "cost charged per kilometer")
	fs.Int("max-retries", 3, "provider retries after the first attempt")
	fs.Duration("request-timeout", 10*time.Second, "timeout of a single provider request")
	fs.Duration("backoff-base", 200*time.Millisecond, "first retry backoff")
	fs.Duration("backoff-max", 5*time.Second, "retry backoff ceiling")
	fs.Float64("rate-limit-per-second", 2, "provider calls per second across all workers")
	fs.Int("rate-limit-burst", 1, "token bucket burst size")
	fs.Float64("fallback-correction-factor", 1.3, "road/great-circle ratio applied to fallback distances")
	fs.Float64("distance-anomaly-threshold-km", 200, "flag consecutive stops farther apart than this")
	fs.Int("workers", 4, "driver-days processed concurrently")
	fs.Int("segment-concurrency", 4, "segments resolved concurrently within one driver-day")
	fs.Duration("lease-ttl", 0, "in-progress lease duration (0 derives it from the retry ceiling)")
	fs.String("fallback-policy", "permanent", "permanent | retry_next_run")
	fs.String("fingerprint-scope", "segment", "segment | driver_day")
	fs.String("cache-backend", "sqlite", "memory | sqlite | postgres | redis")
	fs.String("db-path", "data/costrun.db", "sqlite database path")
	fs.String("database-url", "", "postgres connection string")
	fs.String("redis-addr", "", "redis address host:port")
	fs.String("provider-base-url", "https://api.openrouteservice.org", "routing provider base URL")
	fs.String("provider-profile", "driving-car", "routing profile")
	fs.String("provider-key-version", "v1", "label of the provider key recorded in the config snapshot")
	fs.String("input", "", "stop input (.json or .xlsx); empty reads the stops table")
	fs.String("input-sheet", "stops", "sheet name for .xlsx input")
	fs.String("output", "data/report.xlsx", "report output (.xlsx) or 'db' for SQL tables")
	fs.String("log-level", "info", "debug | info | warn | error")
	fs.Bool("log-dev", false, "human-readable development logging")
	fs.String("addr", ":8080", "HTTP listen address (server only)")
}
