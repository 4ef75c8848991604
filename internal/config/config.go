package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Funnel    FunnelConfig    `mapstructure:"funnel"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	CRM       CRMConfig       `mapstructure:"crm"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Environment string `mapstructure:"environment"`
	Port        string `mapstructure:"port"`
	// Role selects what the process runs: "all", "api" or "worker".
	Role string `mapstructure:"role"`
	// AllowOrigins lists admin dashboard origins; empty allows any.
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type DatabaseConfig struct {
	Driver       string        `mapstructure:"driver"` // mysql | postgres | sqlite
	DSN          string        `mapstructure:"dsn"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	AutoMigrate  bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis address was configured.
func (c RedisConfig) Enabled() bool { return strings.TrimSpace(c.Addr) != "" }

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

func (c EtcdConfig) Enabled() bool { return len(c.Endpoints) > 0 }

type WorkersConfig struct {
	Count         int           `mapstructure:"count"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	Backoff       string        `mapstructure:"backoff"` // fixed | exponential
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SweepLockTTL  int           `mapstructure:"sweep_lock_ttl"` // seconds, etcd lease
	UserLockTTL   time.Duration `mapstructure:"user_lock_ttl"`
	UserLockWait  time.Duration `mapstructure:"user_lock_wait"`
}

type TelegramConfig struct {
	Mode          string        `mapstructure:"mode"` // webhook | polling | off
	BotToken      string        `mapstructure:"bot_token"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	APIURL        string        `mapstructure:"api_url"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
}

type FunnelConfig struct {
	BrandDefault string `mapstructure:"brand_default"`
}

type CatalogConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
	TopK  int    `mapstructure:"top_k"`
}

type CRMConfig struct {
	Provider       string        `mapstructure:"provider"` // tallanto | amo | none
	TallantoURL    string        `mapstructure:"tallanto_url"`
	TallantoAPIKey string        `mapstructure:"tallanto_api_key"`
	AmoURL         string        `mapstructure:"amo_url"`
	AmoAccessToken string        `mapstructure:"amo_access_token"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	BufferSize        int           `mapstructure:"buffer_size"`
}

type AuthConfig struct {
	AdminUser       string        `mapstructure:"admin_user"`
	AdminPass       string        `mapstructure:"admin_pass"`
	SigningKey      string        `mapstructure:"signing_key"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.role", "all")
	v.SetDefault("server.allow_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/salesflow.db")
	v.SetDefault("database.lock_timeout", 5*time.Second)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("etcd.endpoints", []string{})
	v.SetDefault("etcd.dial_timeout", 5*time.Second)

	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.poll_interval", time.Second)
	v.SetDefault("workers.max_attempts", 5)
	v.SetDefault("workers.backoff", "fixed")
	v.SetDefault("workers.retry_delay", 10*time.Second)
	v.SetDefault("workers.max_retry_delay", 5*time.Minute)
	v.SetDefault("workers.stale_after", 5*time.Minute)
	v.SetDefault("workers.sweep_interval", 30*time.Second)
	v.SetDefault("workers.sweep_lock_ttl", 10)
	v.SetDefault("workers.user_lock_ttl", 30*time.Second)
	v.SetDefault("workers.user_lock_wait", 5*time.Second)

	v.SetDefault("telegram.mode", "webhook")
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.webhook_secret", "")
	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.poll_timeout", 30*time.Second)

	v.SetDefault("funnel.brand_default", "kmipt")

	v.SetDefault("catalog.path", "catalog/products.yaml")
	v.SetDefault("catalog.watch", true)
	v.SetDefault("catalog.top_k", 3)

	v.SetDefault("crm.provider", "none")
	v.SetDefault("crm.tallanto_url", "")
	v.SetDefault("crm.tallanto_api_key", "")
	v.SetDefault("crm.amo_url", "")
	v.SetDefault("crm.amo_access_token", "")
	v.SetDefault("crm.timeout", 10*time.Second)

	v.SetDefault("stream.heartbeat_interval", 15*time.Second)
	v.SetDefault("stream.buffer_size", 1000)

	v.SetDefault("auth.admin_user", "")
	v.SetDefault("auth.admin_pass", "")
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)

	v.SetDefault("ratelimit.requests_per_second", 50)
}

// Load reads config.yaml (or the file at path) and SALESFLOW_* environment
// overrides. A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("SALESFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database.dsn is required")
	}
	switch c.Server.Role {
	case "all", "api", "worker":
	default:
		return fmt.Errorf("config: unsupported server.role %q", c.Server.Role)
	}
	switch c.Workers.Backoff {
	case "fixed", "exponential":
	default:
		return fmt.Errorf("config: unsupported workers.backoff %q", c.Workers.Backoff)
	}
	if c.Workers.Count <= 0 {
		return errors.New("config: workers.count must be positive")
	}
	if c.Workers.MaxAttempts <= 0 {
		return errors.New("config: workers.max_attempts must be positive")
	}
	if c.Workers.StaleAfter <= 0 {
		return errors.New("config: workers.stale_after must be positive")
	}
	switch c.Telegram.Mode {
	case "webhook":
		if strings.TrimSpace(c.Telegram.WebhookSecret) == "" {
			return errors.New("config: telegram.webhook_secret is required in webhook mode")
		}
	case "polling":
		if strings.TrimSpace(c.Telegram.BotToken) == "" {
			return errors.New("config: telegram.bot_token is required in polling mode")
		}
	case "off":
	default:
		return fmt.Errorf("config: unsupported telegram.mode %q", c.Telegram.Mode)
	}
	if strings.TrimSpace(c.Funnel.BrandDefault) == "" {
		return errors.New("config: funnel.brand_default is required")
	}
	return nil
}
