package config

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/custos-labs/everro/pkg/validation"
)

// DefaultTokenAddress is the USDT contract on Ethereum mainnet, watched when
// no token address is configured.
const DefaultTokenAddress = "0xdAC17F958D2ee523a2206206994597C13D831ec7"

type Config struct {
	Development bool
	// Health endpoint configuration
	HealthPort int
	// RPC configuration
	RPCEndpoints []string
	WSEndpoint   string
	// Account configuration
	PrivateKey  *ecdsa.PrivateKey
	Account     common.Address
	Destination common.Address
	// Token configuration
	TokenAddress   common.Address
	RevokeSpenders []common.Address
	// Trigger configuration
	USDThreshold   decimal.Decimal
	GasReserveGwei int64
	MinNativeKeep  *big.Int // wei retained after a native sweep
	// Poll loop configuration
	PollInterval       time.Duration
	EnablePollFallback bool
	// Notification configuration
	TelegramBotToken string
	TelegramChatID   string
	// Price feed configuration
	PriceFeedURL string
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Development:        getEnvAsBool("DEVELOPMENT", false),
		HealthPort:         getEnvAsInt("HEALTH_PORT", 3000),
		WSEndpoint:         getEnv("WS_ENDPOINT", ""),
		GasReserveGwei:     int64(getEnvAsInt("GAS_RESERVE_GWEI", 10)),
		PollInterval:       time.Duration(getEnvAsInt("POLL_INTERVAL_MS", 5000)) * time.Millisecond,
		EnablePollFallback: getEnvAsBool("ENABLE_POLL_FALLBACK", true),
		TelegramBotToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:     getEnv("TELEGRAM_CHAT_ID", ""),
		PriceFeedURL:       getEnv("PRICE_FEED_URL", "https://api.coingecko.com"),
	}

	cfg.RPCEndpoints = splitList(getEnv("RPC_ENDPOINTS", ""))

	threshold, err := decimal.NewFromString(getEnv("USD_THRESHOLD", "200"))
	if err != nil {
		return nil, fmt.Errorf("invalid USD_THRESHOLD: %w", err)
	}
	cfg.USDThreshold = threshold

	keep, err := decimal.NewFromString(getEnv("MIN_NATIVE_KEEP", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_NATIVE_KEEP: %w", err)
	}
	// native units -> wei
	cfg.MinNativeKeep = keep.Shift(18).BigInt()

	if err := cfg.loadKey(getEnv("PRIVATE_KEY", "")); err != nil {
		return nil, err
	}

	dest := getEnv("DESTINATION_ADDRESS", "")
	if dest == "" {
		return nil, fmt.Errorf("DESTINATION_ADDRESS is required")
	}
	if err := validation.ValidateAddress(dest); err != nil {
		return nil, fmt.Errorf("invalid DESTINATION_ADDRESS: %w", err)
	}
	cfg.Destination = common.HexToAddress(dest)

	token := getEnv("TOKEN_ADDRESS", DefaultTokenAddress)
	if err := validation.ValidateAddress(token); err != nil {
		return nil, fmt.Errorf("invalid TOKEN_ADDRESS: %w", err)
	}
	cfg.TokenAddress = common.HexToAddress(token)

	for _, s := range splitList(getEnv("REVOKE_SPENDERS", "")) {
		if err := validation.ValidateAddress(s); err != nil {
			return nil, fmt.Errorf("invalid spender address %q: %w", s, err)
		}
		cfg.RevokeSpenders = append(cfg.RevokeSpenders, common.HexToAddress(s))
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadKey parses the signing credential (hex, 0x prefix optional) and derives
// the watched account address from it.
func (c *Config) loadKey(raw string) error {
	if raw == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}
	raw = strings.TrimPrefix(raw, "0x")
	raw = strings.TrimPrefix(raw, "0X")
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return fmt.Errorf("invalid PRIVATE_KEY: %w", err)
	}
	c.PrivateKey = key
	c.Account = crypto.PubkeyToAddress(key.PublicKey)
	return nil
}

// Validate checks that all required configuration fields are properly set
func (c *Config) Validate() error {
	if len(c.RPCEndpoints) == 0 {
		return fmt.Errorf("RPC_ENDPOINTS is required")
	}

	if c.PrivateKey == nil {
		return fmt.Errorf("PRIVATE_KEY is required")
	}

	if c.Destination == (common.Address{}) {
		return fmt.Errorf("DESTINATION_ADDRESS is required")
	}

	if c.USDThreshold.IsNegative() {
		return fmt.Errorf("USD_THRESHOLD must not be negative")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}

	// Telegram credentials come as a pair; half a pair is a config mistake.
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}

	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Helper functions to read environment variables
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(name string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
