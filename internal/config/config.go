// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"math/big"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// ChainRPCURL is the Starknet JSON-RPC node endpoint.
	ChainRPCURL string `mapstructure:"CHAIN_RPC_URL"`
	// ChainID is the chain identifier short string (e.g. "SN_MAIN").
	ChainID string `mapstructure:"CHAIN_ID"`
	// RelayerAddress is the relayer account address (0x hex).
	RelayerAddress string `mapstructure:"RELAYER_ADDRESS"`
	// RelayerPrivateKey is the relayer's P-256 signing key (hex). Never logged.
	RelayerPrivateKey string `mapstructure:"RELAYER_PRIVATE_KEY"`
	// FactoryAddress is the account factory contract address; also the
	// deployer in the deterministic address formula.
	FactoryAddress string `mapstructure:"FACTORY_ADDRESS"`
	// AccountClassHash is the class hash of the deployed account contracts.
	AccountClassHash string `mapstructure:"ACCOUNT_CLASS_HASH"`
	// TokenAddress is the token contract claims and transfers move.
	TokenAddress string `mapstructure:"TOKEN_ADDRESS"`
	// MaxFee is the hard cap on any relayed transaction fee, in wei (decimal).
	MaxFee string `mapstructure:"MAX_FEE"`
	// SMSAPIKey is the API key for the OTP SMS provider. Required unless dev OTP mode is on.
	SMSAPIKey string `mapstructure:"SMS_API_KEY"`
	// SMSSender is the optional sender ID for outbound OTP SMS.
	SMSSender string `mapstructure:"SMS_SENDER"`
	// SMSBaseURL is the SMS provider endpoint.
	SMSBaseURL string `mapstructure:"SMS_BASE_URL"`
	// OTPReturnToClient when true enables dev OTP mode: no SMS, code exposed
	// via GET /dev/otp. Must not be true when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// OTLPEndpoint enables OpenTelemetry export when set (host:port).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP export.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
	// ShutdownTimeout is the graceful shutdown budget (e.g. "10s").
	ShutdownTimeout string `mapstructure:"SHUTDOWN_TIMEOUT"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("CHAIN_RPC_URL", "")
	v.SetDefault("CHAIN_ID", "SN_MAIN")
	v.SetDefault("RELAYER_ADDRESS", "")
	v.SetDefault("RELAYER_PRIVATE_KEY", "")
	v.SetDefault("FACTORY_ADDRESS", "")
	v.SetDefault("ACCOUNT_CLASS_HASH", "")
	v.SetDefault("TOKEN_ADDRESS", "")
	v.SetDefault("MAX_FEE", "1000000000000000000")
	v.SetDefault("SMS_BASE_URL", "")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.OTPReturnToClient && cfg.Env == "production" {
		return nil, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if _, ok := new(big.Int).SetString(cfg.MaxFee, 10); !ok {
		return nil, errors.New("config: MAX_FEE must be a decimal integer")
	}

	return &cfg, nil
}

// MaxFeeInt parses MaxFee. Load guarantees it is a valid decimal integer.
func (c *Config) MaxFeeInt() *big.Int {
	n, _ := new(big.Int).SetString(c.MaxFee, 10)
	return n
}

// ShutdownBudget parses ShutdownTimeout. Returns 10s if unset or invalid.
func (c *Config) ShutdownBudget() time.Duration {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}
