// Package config loads server settings from defaults, an optional YAML
// file, an optional .env file and VOUCHER_* environment variables.
//
// Precedence: environment > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Voucher VoucherConfig `mapstructure:"voucher"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	SeedScenario    string        `mapstructure:"seed_scenario"`
	PurgeInterval   time.Duration `mapstructure:"purge_interval"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // memory | sqlite | gorm-sqlite | postgres
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// VoucherConfig tunes the engine.
type VoucherConfig struct {
	CodeLength      int           `mapstructure:"code_length"`
	CodeAlphabet    string        `mapstructure:"code_alphabet"`
	CodeMaxAttempts int           `mapstructure:"code_max_attempts"`
	CodeRetention   time.Duration `mapstructure:"code_retention"`
	MaxBatchSize    int           `mapstructure:"max_batch_size"`
	MaxPageSize     int           `mapstructure:"max_page_size"`
	ExpiringSoon    time.Duration `mapstructure:"expiring_soon"`
	Timezone        string        `mapstructure:"timezone"`
	NodeID          int64         `mapstructure:"node_id"`
	RedeemURL       string        `mapstructure:"redeem_url"`
	QRImageURL      string        `mapstructure:"qr_image_url"`
	PrintTitle      string        `mapstructure:"print_title"`
}

// AuthConfig controls session verification.
type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// NotifyConfig selects notification sinks.
type NotifyConfig struct {
	RedisEnabled  bool   `mapstructure:"redis_enabled"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Channel       string `mapstructure:"channel"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

// Load reads configuration. path may name a YAML file; empty searches
// ./config and . for config.yaml. A missing file is not an error.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables still win.
	_ = godotenv.Load()

	v := viper.New()

	// ── defaults ──
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.seed_scenario", "")
	v.SetDefault("server.purge_interval", "1h")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "vouchers.db")
	v.SetDefault("store.postgres_dsn", "")

	v.SetDefault("voucher.code_length", 8)
	v.SetDefault("voucher.code_alphabet", "ABCDEFGHJKLMNPQRSTUVWXYZ23456789")
	v.SetDefault("voucher.code_max_attempts", 16)
	v.SetDefault("voucher.code_retention", "2160h")
	v.SetDefault("voucher.max_batch_size", 1000)
	v.SetDefault("voucher.max_page_size", 500)
	v.SetDefault("voucher.expiring_soon", "168h")
	v.SetDefault("voucher.timezone", "UTC")
	v.SetDefault("voucher.node_id", 1)
	v.SetDefault("voucher.redeem_url", "https://superlink-hotspot.login/redeem?voucher=%s")
	v.SetDefault("voucher.qr_image_url", "https://api.qrserver.com/v1/create-qr-code/?size=150x150&data=%s")
	v.SetDefault("voucher.print_title", "SuperLink Hotspot")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "superlink-portal")
	v.SetDefault("auth.token_ttl", "1h")

	v.SetDefault("notify.redis_enabled", false)
	v.SetDefault("notify.redis_addr", "localhost:6379")
	v.SetDefault("notify.redis_password", "")
	v.SetDefault("notify.redis_db", 0)
	v.SetDefault("notify.channel", "voucher-events")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// ── config file ──
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// ── environment ──
	v.SetEnvPrefix("VOUCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be between 1 and 65535")
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "gorm-sqlite":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("config: store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Voucher.CodeLength < 4 || c.Voucher.CodeLength > 32 {
		return fmt.Errorf("config: voucher.code_length must be between 4 and 32")
	}
	if c.Voucher.MaxPageSize < 1 {
		return fmt.Errorf("config: voucher.max_page_size must be positive")
	}
	if c.Voucher.NodeID < 0 || c.Voucher.NodeID > 1023 {
		return fmt.Errorf("config: voucher.node_id must be between 0 and 1023")
	}
	if _, err := time.LoadLocation(c.Voucher.Timezone); err != nil {
		return fmt.Errorf("config: voucher.timezone: %w", err)
	}
	if strings.Count(c.Voucher.RedeemURL, "%s") != 1 || strings.Count(c.Voucher.QRImageURL, "%s") != 1 {
		return fmt.Errorf("config: voucher.redeem_url and voucher.qr_image_url need exactly one %%s")
	}
	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("config: auth.jwt_secret must be at least 16 characters when auth is enabled")
	}
	return nil
}

// Location returns the configured timezone.
func (c *VoucherConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
