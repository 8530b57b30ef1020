package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/campaign-engine/internal/domain/campaign"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (CAMPAIGN_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CAMPAIGN_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Recorder    RecorderConfig
	Catalog     CatalogConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// RecorderConfig bounds usage commit retries.
type RecorderConfig struct {
	MaxAttempts     uint          `default:"5" usage:"Max store attempts per usage commit" flag:"recorder-max-attempts"`
	InitialInterval time.Duration `default:"20ms" usage:"First retry backoff" flag:"recorder-initial-interval"`
	MaxInterval     time.Duration `default:"500ms" usage:"Backoff ceiling" flag:"recorder-max-interval"`
	LockTimeout     time.Duration `default:"2s" usage:"Postgres lock_timeout for usage commits" flag:"recorder-lock-timeout"`
}

// CatalogConfig controls the active campaign snapshot.
type CatalogConfig struct {
	SnapshotTTL time.Duration `default:"5s" usage:"How long the active campaign listing is cached; 0 disables" flag:"catalog-snapshot-ttl"`
}

// RateLimitConfig limits order placement per client IP.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max order placements per client per window; 0 disables" flag:"rate-limit-max"`
	Window time.Duration `default:"1m" usage:"Rate limit sliding window" flag:"rate-limit-window"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins" flag:"cors-origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// Campaign returns the recorder settings in domain form.
func (c RecorderConfig) Campaign() campaign.RecorderConfig {
	return campaign.RecorderConfig{
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
	}
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "CAMPAIGN",
		Files:     []string{"config.yaml", "/etc/campaign-engine/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(acfg aconfig.Config) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, acfg)
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CAMPAIGN_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Recorder.MaxAttempts == 0 {
		return nil, errors.New("recorder.max_attempts must be at least 1")
	}
	if cfg.RateLimit.Max > 0 && cfg.RateLimit.Window <= 0 {
		return nil, errors.New("rate_limit.window must be positive")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided DATABASE_URL and PORT to the
// CAMPAIGN_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
