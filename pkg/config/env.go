package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-relayer/pkg/logger"
)

const (
	mainnet = "mainnet"
	testnet = "testnet"
	local   = "local"

	// DefaultNetwork is the default blockchain network to relay to
	DefaultNetwork = testnet

	// DefaultModuleName is the name of the relay contract module targeted by call descriptors
	DefaultModuleName = "GaslessRelay"

	// DefaultServerPort defines the default port for the HTTP server
	DefaultServerPort = "8080"

	// DefaultSettlementTimeout bounds how long a submission waits for its receipt
	DefaultSettlementTimeout = 60 * time.Second

	// DefaultMaxIntentLifetime is the furthest in the future an intent expiry may be
	DefaultMaxIntentLifetime = time.Hour

	// DefaultReplaySweepInterval defines how often expired nonces are pruned
	DefaultReplaySweepInterval = time.Minute

	// DefaultHistoryCapacity is the number of relay outcomes kept for status reporting
	DefaultHistoryCapacity = 100

	// DefaultRequireKeyBinding defines whether the public key must derive the payload user address
	DefaultRequireKeyBinding = true

	// DefaultGasMultiplier is applied to the suggested gas price (10% buffer)
	DefaultGasMultiplier = 1.1

	// DefaultNativeSymbol and DefaultNativeDecimals describe the fee currency of the target chain
	DefaultNativeSymbol   = "ETH"
	DefaultNativeDecimals = 18

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5 * time.Minute

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15 * time.Minute
)

var defaultRPCURLs = map[string]string{
	mainnet: "https://mainnet.base.org",
	testnet: "https://sepolia.base.org",
	local:   "http://127.0.0.1:8545",
}

var defaultExplorerHosts = map[string]string{
	mainnet: "basescan.org",
	testnet: "sepolia.basescan.org",
	local:   "localhost",
}

// GetEnvNetwork returns the configured network from environment variables or defaults to testnet
func GetEnvNetwork() (string, error) {
	network := os.Getenv("NETWORK")
	if network == "" {
		network = DefaultNetwork
	}

	if _, ok := defaultRPCURLs[network]; !ok {
		return "", fmt.Errorf("invalid NETWORK value: %s, must be 'mainnet', 'testnet' or 'local'", network)
	}

	return network, nil
}

// GetEnvRPCURL returns the RPC endpoint, defaulting to the public endpoint of the network
func GetEnvRPCURL(network string) (string, error) {
	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		return defaultRPCURLs[network], nil
	}

	// Validate URL format
	if _, err := url.ParseRequestURI(rpcURL); err != nil {
		return "", fmt.Errorf("invalid RPC_URL value: %s, must be a valid URL", rpcURL)
	}
	return rpcURL, nil
}

// GetEnvContractAddress returns the relay contract address from environment variables
func GetEnvContractAddress() (string, error) {
	contractAddress := os.Getenv("CONTRACT_ADDRESS")
	if contractAddress == "" {
		return "", nil
	}

	if !common.IsHexAddress(contractAddress) {
		return "", fmt.Errorf("invalid CONTRACT_ADDRESS value: %s, must be a valid hex address", contractAddress)
	}
	return contractAddress, nil
}

// GetEnvServerPort returns the HTTP server port from environment variables
func GetEnvServerPort() (string, error) {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		return DefaultServerPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid SERVER_PORT value: %s, must be a valid integer", port)
	}
	return port, nil
}

// GetEnvNativeDecimals returns the number of decimals of the native currency
func GetEnvNativeDecimals() (int, error) {
	decimals := os.Getenv("NATIVE_DECIMALS")
	if decimals == "" {
		return DefaultNativeDecimals, nil
	}

	parsed, err := strconv.Atoi(decimals)
	if err != nil {
		return 0, fmt.Errorf("invalid NATIVE_DECIMALS value: %s, must be an integer", decimals)
	}
	if parsed < 0 || parsed > 36 {
		return 0, fmt.Errorf("NATIVE_DECIMALS must be between 0 and 36")
	}
	return parsed, nil
}

// GetEnvGasMultiplier returns the gas price multiplier from environment variables
func GetEnvGasMultiplier() (float64, error) {
	multiplier := os.Getenv("GAS_MULTIPLIER")
	if multiplier == "" {
		return DefaultGasMultiplier, nil
	}

	parsed, err := strconv.ParseFloat(multiplier, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid GAS_MULTIPLIER value: %s, must be a number", multiplier)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("GAS_MULTIPLIER must be greater than 0")
	}
	return parsed, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return logger.InfoLevel, nil
	}

	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return logger.InfoLevel, fmt.Errorf("invalid LOG_LEVEL value: %s, must be 'debug', 'info', 'notice' or 'error'", level)
	}
	return parsed, nil
}

// GetEnvBool returns a boolean flag from environment variables
func GetEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	if value == "true" {
		return true, nil
	} else if value == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", key, value)
}

// GetEnvPositiveInt returns a strictly positive integer from environment variables
func GetEnvPositiveInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", key, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}

// GetEnvDuration returns a positive duration from environment variables
func GetEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", key, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}

// Helper to get environment variable
func getEnv(key string) string {
	return os.Getenv(key)
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := getEnv(key); val != "" {
		return val
	}
	return defaultValue
}
