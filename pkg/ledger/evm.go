package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/speedrun-hq/speedrun-relayer/pkg/logger"
)

// Backend is the chain RPC surface used by EVMClient. Both *ethclient.Client
// and the simulated backend client satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// EVMConfig holds what EVMClient needs to relay calls
type EVMConfig struct {
	PrivateKey      string
	ContractAddress string
	ModuleName      string
	GasMultiplier   float64
}

// EVMClient relays calls to the relay contract on an EVM chain, paying fees from the relayer account
type EVMClient struct {
	backend       Backend
	auth          *bind.TransactOpts
	contractAddr  common.Address
	moduleName    string
	contractABI   abi.ABI
	contract      *bind.BoundContract
	gasMultiplier float64
	sequence      *SequenceManager
	logger        logger.Logger
}

var _ Client = (*EVMClient)(nil)

// Dial connects to the RPC endpoint and creates an EVMClient
func Dial(ctx context.Context, rpcURL string, cfg EVMConfig, log logger.Logger) (*EVMClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to client: %w", err)
	}
	return NewEVMClient(ctx, client, cfg, log)
}

// NewEVMClient creates an EVMClient on top of an existing backend
func NewEVMClient(ctx context.Context, backend Backend, cfg EVMConfig, log logger.Logger) (*EVMClient, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address: %s", cfg.ContractAddress)
	}

	auth, err := createAuthenticator(ctx, backend, cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	contractABI, err := RelayABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay ABI: %w", err)
	}

	contractAddr := common.HexToAddress(cfg.ContractAddress)
	gasMultiplier := cfg.GasMultiplier
	if gasMultiplier <= 0 {
		gasMultiplier = 1
	}

	return &EVMClient{
		backend:       backend,
		auth:          auth,
		contractAddr:  contractAddr,
		moduleName:    cfg.ModuleName,
		contractABI:   contractABI,
		contract:      bind.NewBoundContract(contractAddr, contractABI, backend, backend, backend),
		gasMultiplier: gasMultiplier,
		sequence:      NewSequenceManager(backend, auth.From, log),
		logger:        log,
	}, nil
}

// Address implements Client
func (c *EVMClient) Address() string {
	return c.auth.From.Hex()
}

// BuildCall implements Client. The descriptor carries the arguments already
// converted to their contract types.
func (c *EVMClient) BuildCall(function string, args []any) (CallDescriptor, error) {
	encoded, err := EncodeArgs(c.contractABI, function, args)
	if err != nil {
		return CallDescriptor{}, err
	}
	return CallDescriptor{
		FunctionID: fmt.Sprintf("%s::%s::%s", c.contractAddr.Hex(), c.moduleName, function),
		Args:       encoded,
	}, nil
}

// SubmitAndAwait implements Client
func (c *EVMClient) SubmitAndAwait(ctx context.Context, call CallDescriptor) (Receipt, error) {
	function := call.Function()
	args, err := EncodeArgs(c.contractABI, function, call.Args)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to encode %s arguments: %w", function, err)
	}

	txOpts := *c.auth
	txOpts.Context = ctx

	if gasPrice, err := c.suggestGasPrice(ctx); err != nil {
		c.logger.Notice("Failed to update gas price, using node default: %v", err)
	} else {
		txOpts.GasPrice = gasPrice
	}

	nonce, err := c.sequence.Next(ctx)
	if err != nil {
		return Receipt{}, err
	}
	txOpts.Nonce = new(big.Int).SetUint64(nonce)

	tx, err := c.contract.Transact(&txOpts, function, args...)
	if err != nil {
		c.sequence.Fail(nonce)
		return Receipt{}, fmt.Errorf("failed to send %s transaction: %w", function, err)
	}
	c.sequence.Track(nonce, tx.Hash())
	c.logger.Info("Transaction sent for %s: %s (nonce: %d)", function, tx.Hash().Hex(), nonce)

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	c.sequence.Confirm(nonce)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Receipt{}, fmt.Errorf("%w: %s", ErrSettlementTimeout, tx.Hash().Hex())
		}
		return Receipt{}, fmt.Errorf("failed to wait for transaction %s: %w", tx.Hash().Hex(), err)
	}

	var version uint64
	if receipt.BlockNumber != nil {
		version = receipt.BlockNumber.Uint64()
	}
	result := Receipt{
		Hash:    tx.Hash().Hex(),
		Success: receipt.Status == 1,
		Version: version,
	}
	if result.Success {
		c.logger.Info("Transaction %s settled in block %d (gas used: %d)", result.Hash, version, receipt.GasUsed)
	} else {
		c.logger.Error("Transaction %s reverted in block %d", result.Hash, version)
	}
	return result, nil
}

// Balance implements Client
func (c *EVMClient) Balance(ctx context.Context) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, c.auth.From, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get relayer balance: %w", err)
	}
	return balance, nil
}

// Ping implements Client
func (c *EVMClient) Ping(ctx context.Context) error {
	if _, err := c.backend.BlockNumber(ctx); err != nil {
		return fmt.Errorf("failed to get latest block: %w", err)
	}
	return nil
}

// suggestGasPrice returns the network gas price with the configured multiplier applied
func (c *EVMClient) suggestGasPrice(ctx context.Context) (*big.Int, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := c.backend.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	// Apply gas multiplier (e.g. 1.1 = 10% buffer)
	multiplied := new(big.Float).Mul(
		new(big.Float).SetInt(gasPrice),
		big.NewFloat(c.gasMultiplier),
	)
	finalGasPrice, _ := multiplied.Int(nil)
	return finalGasPrice, nil
}

// Helper function to create authenticator
func createAuthenticator(ctx context.Context, backend Backend, privateKeyHex string) (*bind.TransactOpts, error) {
	privateKey, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	return auth, nil
}

// parsePrivateKey never echoes the key material in its error
func parsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	privateKey, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, errors.New("failed to parse relayer private key")
	}
	return privateKey, nil
}
