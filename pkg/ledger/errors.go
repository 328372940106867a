package ledger

import (
	"context"
	"errors"
	"strings"
)

// Error types reported for submission failures
const (
	ErrorTypeTimeout             = "timeout"
	ErrorTypeNetwork             = "network_error"
	ErrorTypeNodeState           = "node_state_error"
	ErrorTypeGas                 = "gas_error"
	ErrorTypeNonce               = "nonce_error"
	ErrorTypeInsufficientBalance = "insufficient_balance"
	ErrorTypeContract            = "contract_error"
	ErrorTypeUnknown             = "unknown_error"
)

// ClassifyError maps a submission error to an error type and whether resending
// the same intent later may succeed
func ClassifyError(err error) (string, bool) {
	if errors.Is(err, ErrSettlementTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout, true
	}
	if errors.Is(err, ErrTransactionReverted) || errors.Is(err, ErrUnknownFunction) || errors.Is(err, ErrInvalidArgument) {
		return ErrorTypeContract, false
	}

	errStr := err.Error()

	// Network/RPC errors - retry is appropriate
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "no response") ||
		strings.Contains(errStr, "EOF") {
		return ErrorTypeNetwork, true
	}

	// RPC node state errors
	if strings.Contains(errStr, "missing trie node") ||
		strings.Contains(errStr, "state inconsistency") ||
		strings.Contains(errStr, "receipt not found") ||
		strings.Contains(errStr, "block not found") {
		return ErrorTypeNodeState, true
	}

	// Balance-related errors, checked before gas since the messages overlap
	if strings.Contains(errStr, "insufficient funds") ||
		strings.Contains(errStr, "insufficient balance") {
		return ErrorTypeInsufficientBalance, false
	}

	// Gas-related errors - retry may help if gas prices change
	if strings.Contains(errStr, "gas required exceeds allowance") ||
		strings.Contains(errStr, "gas price too low") ||
		strings.Contains(errStr, "max fee per gas less than block base fee") {
		return ErrorTypeGas, true
	}

	// Nonce-related errors - retry may help after nonce is corrected
	if strings.Contains(errStr, "nonce too low") ||
		strings.Contains(errStr, "nonce too high") ||
		strings.Contains(errStr, "replacement transaction underpriced") {
		return ErrorTypeNonce, true
	}

	// Contract-related errors - permanent failures
	if strings.Contains(errStr, "execution reverted") ||
		strings.Contains(errStr, "invalid opcode") ||
		strings.Contains(errStr, "out of gas") {
		return ErrorTypeContract, false
	}

	return ErrorTypeUnknown, true
}
