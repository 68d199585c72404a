package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	AES        AESConfig        `mapstructure:"aes"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Escrow     EscrowConfig     `mapstructure:"escrow"`
	Storefront StorefrontConfig `mapstructure:"storefront"`
	Log        LogConfig        `mapstructure:"log"`
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

// JWTConfig describes the tokens issued by the external auth provider.
// The gateway only validates them; it never issues tokens itself.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded key for AES-256
}

// ChainConfig describes the chain-data provider and network.
type ChainConfig struct {
	Network       string        `mapstructure:"network"` // mainnet, testnet3, signet, regtest
	ProviderURL   string        `mapstructure:"provider_url"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	WebhookSecret string        `mapstructure:"webhook_secret"` // HMAC key for provider push callbacks
	HTTPTimeout   time.Duration `mapstructure:"http_timeout"`
}

// ConfirmationTier maps an amount ceiling (minor units, inclusive) to the
// confirmation depth required before funds count as settled.
// A ceiling of 0 means "no upper bound".
type ConfirmationTier struct {
	MaxAmount     int64 `mapstructure:"max_amount"`
	Confirmations int32 `mapstructure:"confirmations"`
}

// EscrowConfig holds the operator-decided escrow policy knobs.
type EscrowConfig struct {
	Currency          string             `mapstructure:"currency"`
	FeeRateBps        int64              `mapstructure:"fee_rate_bps"` // basis points, 150 = 1.5%
	PaymentWindow     time.Duration      `mapstructure:"payment_window"`
	HoldPeriod        time.Duration      `mapstructure:"hold_period"`
	SweepInterval     time.Duration      `mapstructure:"sweep_interval"`
	LateFundingGrace  time.Duration      `mapstructure:"late_funding_grace"`
	ConfirmationTiers []ConfirmationTier `mapstructure:"confirmation_tiers"`
}

// RequiredConfirmations returns the confirmation depth for the given amount.
func (e EscrowConfig) RequiredConfirmations(amount int64) int32 {
	tiers := make([]ConfirmationTier, len(e.ConfirmationTiers))
	copy(tiers, e.ConfirmationTiers)
	sort.Slice(tiers, func(i, j int) bool {
		if tiers[i].MaxAmount == 0 {
			return false
		}
		if tiers[j].MaxAmount == 0 {
			return true
		}
		return tiers[i].MaxAmount < tiers[j].MaxAmount
	})
	for _, t := range tiers {
		if t.MaxAmount == 0 || amount <= t.MaxAmount {
			return t.Confirmations
		}
	}
	return 1
}

// StorefrontConfig describes the CMS/checkout collaborator that creates
// escrows server-to-server and consumes status callbacks.
type StorefrontConfig struct {
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
	CallbackURL string `mapstructure:"callback_url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: ESC_.
// Nested keys use underscore: ESC_DATABASE_HOST, ESC_CHAIN_PROVIDER_URL, etc.
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
	v.SetDefault("database.dbname", "escrow_gateway")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "storefront-auth")
	v.SetDefault("aes.key", "")
	v.SetDefault("chain.network", "mainnet")
	v.SetDefault("chain.provider_url", "")
	v.SetDefault("chain.poll_interval", "30s")
	v.SetDefault("chain.webhook_secret", "")
	v.SetDefault("chain.http_timeout", "10s")
	v.SetDefault("escrow.currency", "BTC")
	v.SetDefault("escrow.fee_rate_bps", 150)
	v.SetDefault("escrow.payment_window", "24h")
	v.SetDefault("escrow.hold_period", "168h")
	v.SetDefault("escrow.sweep_interval", "1m")
	v.SetDefault("escrow.late_funding_grace", "72h")
	v.SetDefault("escrow.confirmation_tiers", []map[string]interface{}{
		{"max_amount": 1000000, "confirmations": 1},
		{"max_amount": 100000000, "confirmations": 3},
		{"max_amount": 0, "confirmations": 6},
	})
	v.SetDefault("storefront.access_key", "")
	v.SetDefault("storefront.secret_key", "")
	v.SetDefault("storefront.callback_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: ESC_DATABASE_HOST -> database.host
	v.SetEnvPrefix("ESC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
