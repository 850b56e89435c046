// Package config loads the registry configuration from defaults, YAML, .env and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "TERRAHASH"

// DefaultPaths are searched when no explicit config file is given.
var DefaultPaths = []string{
	"./config.yaml",
	"./configs/config.yaml",
	"/etc/terrahash/config.yaml",
}

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Session    SessionConfig    `mapstructure:"session"`
	Root       RootConfig       `mapstructure:"root"`
	Hedera     HederaConfig     `mapstructure:"hedera"`
	EVM        EVMConfig        `mapstructure:"evm"`
	Cloudinary CloudinaryConfig `mapstructure:"cloudinary"`
	Pinata     PinataConfig     `mapstructure:"pinata"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Log        LogConfig        `mapstructure:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	// RateLimit uses the ulule formatted syntax, e.g. "60-M"
	RateLimit   string `mapstructure:"rate_limit"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb"`
}

// Addr is the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
	LogQueries      bool   `mapstructure:"log_queries"`
}

type SessionConfig struct {
	Secret     string        `mapstructure:"secret"`
	CookieName string        `mapstructure:"cookie_name"`
	MaxAge     time.Duration `mapstructure:"max_age"`
	Secure     bool          `mapstructure:"secure"`
}

type RootConfig struct {
	AdminWallets []string `mapstructure:"admin_wallets"`
	TOTPSecret   string   `mapstructure:"totp_secret"`
}

type HederaConfig struct {
	Network     string        `mapstructure:"network"`
	OperatorID  string        `mapstructure:"operator_id"`
	OperatorKey string        `mapstructure:"operator_key"`
	NFTTokenID  string        `mapstructure:"nft_token_id"`
	TreasuryID  string        `mapstructure:"treasury_id"`
	MetadataKey string        `mapstructure:"metadata_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether ledger calls should be made at all
func (h HederaConfig) Enabled() bool {
	return h.OperatorID != "" || h.OperatorKey != "" || h.NFTTokenID != ""
}

type EVMConfig struct {
	RPCURL        string `mapstructure:"rpc_url"`
	Confirmations uint64 `mapstructure:"confirmations"`
}

type CloudinaryConfig struct {
	CloudName string `mapstructure:"cloud_name"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Folder    string `mapstructure:"folder"`
}

type PinataConfig struct {
	JWT     string `mapstructure:"jwt"`
	Gateway string `mapstructure:"gateway"`
	BaseURL string `mapstructure:"base_url"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	Topic       string   `mapstructure:"topic"`
	Async       bool     `mapstructure:"async"`
	MaxAttempts int      `mapstructure:"max_attempts"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// legacyEnv binds the variable names used by existing deployments.
var legacyEnv = map[string]string{
	"database.dsn":          "DATABASE_URL",
	"root.admin_wallets":    "ROOT_ADMIN_WALLETS",
	"hedera.operator_id":    "HEDERA_OPERATOR_ID",
	"hedera.operator_key":   "HEDERA_OPERATOR_KEY",
	"hedera.nft_token_id":   "HEDERA_NFT_TOKEN_ID",
	"hedera.treasury_id":    "HEDERA_TREASURY_ID",
	"hedera.metadata_key":   "HEDERA_METADATA_KEY",
	"hedera.network":        "HEDERA_NETWORK",
	"cloudinary.cloud_name": "CLOUDINARY_CLOUD_NAME",
	"cloudinary.api_key":    "CLOUDINARY_KEY",
	"cloudinary.api_secret": "CLOUDINARY_SECRET",
	"pinata.jwt":            "PINATA_JWT",
	"pinata.gateway":        "PINATA_GATEWAY",
	"redis.addr":            "REDIS_ADDR",
	"kafka.brokers":         "KAFKA_BROKERS",
	"session.secret":        "SESSION_SECRET",
	"evm.rpc_url":           "EVM_RPC_URL",
	"log.level":             "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.rate_limit", "120-M")
	v.SetDefault("server.max_upload_mb", 10)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_queries", false)

	v.SetDefault("session.secret", "")
	v.SetDefault("session.cookie_name", "terrahash-session")
	v.SetDefault("session.max_age", 7*24*time.Hour)
	v.SetDefault("session.secure", false)

	v.SetDefault("root.admin_wallets", []string{})
	v.SetDefault("root.totp_secret", "")

	v.SetDefault("hedera.network", "testnet")
	v.SetDefault("hedera.operator_id", "")
	v.SetDefault("hedera.operator_key", "")
	v.SetDefault("hedera.nft_token_id", "")
	v.SetDefault("hedera.treasury_id", "")
	v.SetDefault("hedera.metadata_key", "")
	v.SetDefault("hedera.timeout", 30*time.Second)

	v.SetDefault("evm.rpc_url", "")
	v.SetDefault("evm.confirmations", 0)

	v.SetDefault("cloudinary.cloud_name", "")
	v.SetDefault("cloudinary.api_key", "")
	v.SetDefault("cloudinary.api_secret", "")
	v.SetDefault("cloudinary.folder", "hedera-parcels")

	v.SetDefault("pinata.jwt", "")
	v.SetDefault("pinata.gateway", "gateway.pinata.cloud")
	v.SetDefault("pinata.base_url", "https://api.pinata.cloud")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 30*time.Second)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "terrahash.registry")
	v.SetDefault("kafka.async", true)
	v.SetDefault("kafka.max_attempts", 3)

	v.SetDefault("log.level", "info")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "terrahash-api")
}

// Load reads configuration. An explicit path must exist; default paths are optional.
func Load(path string) (*Config, error) {
	// .env never overrides variables already set in the process
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	} else {
		for _, p := range DefaultPaths {
			if _, err := os.Stat(p); err != nil {
				continue
			}
			v.SetConfigFile(p)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", p, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	wallets := make([]string, 0, len(c.Root.AdminWallets))
	for _, w := range c.Root.AdminWallets {
		for _, part := range strings.Split(w, ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				wallets = append(wallets, part)
			}
		}
	}
	c.Root.AdminWallets = wallets

	var brokers []string
	for _, b := range c.Kafka.Brokers {
		for _, part := range strings.Split(b, ",") {
			if part = strings.TrimSpace(part); part != "" {
				brokers = append(brokers, part)
			}
		}
	}
	c.Kafka.Brokers = brokers
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Session.Secret == "" {
		return fmt.Errorf("session.secret is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Hedera.Enabled() {
		if c.Hedera.OperatorID == "" || c.Hedera.OperatorKey == "" || c.Hedera.NFTTokenID == "" {
			return fmt.Errorf("hedera requires operator_id, operator_key and nft_token_id together")
		}
	}
	return nil
}
