package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/speedrun-hq/speedrun-relayer/pkg/logger"
)

// Config holds the configuration for the relayer service
type Config struct {
	PrivateKey        string
	ContractAddress   string
	ModuleName        string
	Network           NetworkConfig
	ServerPort        string
	MetricsAPIKey     string
	SettlementTimeout time.Duration
	MaxIntentLifetime time.Duration
	ReplaySweep       time.Duration
	HistoryCapacity   int
	RequireKeyBinding bool
	GasMultiplier     float64
	CircuitBreaker    CircuitBreakerConfig
	LoggerConfig      LoggerConfig
}

// NetworkConfig describes the target chain and how to present its transactions
type NetworkConfig struct {
	Name           string
	RPCURL         string
	ExplorerHost   string
	NativeSymbol   string
	NativeDecimals int
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// ExplorerURL returns the block explorer link for a transaction hash
func (n NetworkConfig) ExplorerURL(hash string) string {
	return fmt.Sprintf("https://%s/txn/%s?network=%s", n.ExplorerHost, hash, n.Name)
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	network, err := GetEnvNetwork()
	if err != nil {
		return nil, err
	}

	rpcURL, err := GetEnvRPCURL(network)
	if err != nil {
		return nil, err
	}

	nativeDecimals, err := GetEnvNativeDecimals()
	if err != nil {
		return nil, err
	}

	contractAddress, err := GetEnvContractAddress()
	if err != nil {
		return nil, err
	}

	serverPort, err := GetEnvServerPort()
	if err != nil {
		return nil, err
	}

	settlementTimeout, err := GetEnvDuration("SETTLEMENT_TIMEOUT", DefaultSettlementTimeout)
	if err != nil {
		return nil, err
	}

	maxLifetime, err := GetEnvDuration("MAX_INTENT_LIFETIME", DefaultMaxIntentLifetime)
	if err != nil {
		return nil, err
	}

	replaySweep, err := GetEnvDuration("REPLAY_SWEEP_INTERVAL", DefaultReplaySweepInterval)
	if err != nil {
		return nil, err
	}

	historyCapacity, err := GetEnvPositiveInt("HISTORY_CAPACITY", DefaultHistoryCapacity)
	if err != nil {
		return nil, err
	}

	requireBinding, err := GetEnvBool("REQUIRE_KEY_BINDING", DefaultRequireKeyBinding)
	if err != nil {
		return nil, err
	}

	gasMultiplier, err := GetEnvGasMultiplier()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvBool("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvPositiveInt("CIRCUIT_BREAKER_THRESHOLD", DefaultCircuitBreakerThreshold)
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow)
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset)
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvBool("LOG_COLORING", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		PrivateKey:      getEnv("RELAYER_PRIVATE_KEY"),
		ContractAddress: contractAddress,
		ModuleName:      getEnvOrDefault("MODULE_NAME", DefaultModuleName),
		Network: NetworkConfig{
			Name:           network,
			RPCURL:         rpcURL,
			ExplorerHost:   getEnvOrDefault("EXPLORER_HOST", defaultExplorerHosts[network]),
			NativeSymbol:   getEnvOrDefault("NATIVE_SYMBOL", DefaultNativeSymbol),
			NativeDecimals: nativeDecimals,
		},
		ServerPort:        serverPort,
		MetricsAPIKey:     getEnv("METRICS_API_KEY"),
		SettlementTimeout: settlementTimeout,
		MaxIntentLifetime: maxLifetime,
		ReplaySweep:       replaySweep,
		HistoryCapacity:   historyCapacity,
		RequireKeyBinding: requireBinding,
		GasMultiplier:     gasMultiplier,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.PrivateKey == "" {
		return fmt.Errorf("RELAYER_PRIVATE_KEY environment variable is required")
	}
	if cfg.ContractAddress == "" {
		return fmt.Errorf("CONTRACT_ADDRESS environment variable is required")
	}
	if cfg.Network.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required for network %s", cfg.Network.Name)
	}
	return nil
}
