package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Log        LogConfig        `mapstructure:"log"`
	Intake     IntakeConfig     `mapstructure:"intake"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// IntakeConfig controls request validation and the default spending limits.
// Decimal values must be quoted strings in YAML.
type IntakeConfig struct {
	FeeRate             decimal.Decimal `mapstructure:"fee_rate"`
	MinAmount           decimal.Decimal `mapstructure:"min_amount"`
	MaxBatchSize        int             `mapstructure:"max_batch_size"`
	DefaultCurrency     string          `mapstructure:"default_currency"`
	DefaultDailyLimit   decimal.Decimal `mapstructure:"default_daily_limit"`
	DefaultMonthlyLimit decimal.Decimal `mapstructure:"default_monthly_limit"`
}

type SettlementConfig struct {
	Workers           int           `mapstructure:"workers"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseRetryDelay    time.Duration `mapstructure:"base_retry_delay"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
	OutcomeCacheTTL   time.Duration `mapstructure:"outcome_cache_ttl"`
}

type LimitsConfig struct {
	Backend string `mapstructure:"backend"` // postgres, redis
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type WebhookConfig struct {
	URL     string        `mapstructure:"url"` // empty = notifications disabled
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: SF_ (StableFlow).
// Nested keys use underscore: SF_DATABASE_HOST, SF_SETTLEMENT_MAX_RETRIES, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "stableflow")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.lock_timeout", "5s")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "stableflow")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("intake.fee_rate", "0.001")
	v.SetDefault("intake.min_amount", "0.00000001")
	v.SetDefault("intake.max_batch_size", 100)
	v.SetDefault("intake.default_currency", "USDT")
	v.SetDefault("intake.default_daily_limit", "10000")
	v.SetDefault("intake.default_monthly_limit", "100000")
	v.SetDefault("settlement.workers", 10)
	v.SetDefault("settlement.max_retries", 3)
	v.SetDefault("settlement.base_retry_delay", "30s")
	v.SetDefault("settlement.processing_timeout", "30s")
	v.SetDefault("settlement.outcome_cache_ttl", "24h")
	v.SetDefault("limits.backend", "postgres")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "settlement-events")
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", "10s")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: SF_DATABASE_HOST -> database.host
	v.SetEnvPrefix("SF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Limits.Backend {
	case "postgres", "redis":
	default:
		return fmt.Errorf("invalid limits.backend %q: must be postgres or redis", c.Limits.Backend)
	}
	if c.Settlement.MaxRetries < 0 {
		return fmt.Errorf("settlement.max_retries must not be negative")
	}
	if c.Intake.MaxBatchSize <= 0 {
		return fmt.Errorf("intake.max_batch_size must be positive")
	}
	if c.Intake.FeeRate.IsNegative() {
		return fmt.Errorf("intake.fee_rate must not be negative")
	}
	return nil
}
