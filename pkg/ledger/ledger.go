// Package ledger builds, signs, submits and awaits relayed contract calls on
// the target chain using the relayer's account.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"
)

var (
	// ErrUnknownFunction is returned when a call names a function the relay contract does not expose
	ErrUnknownFunction = errors.New("unknown contract function")
	// ErrInvalidArgument is returned when an argument does not fit its contract parameter type
	ErrInvalidArgument = errors.New("invalid contract argument")
	// ErrSettlementTimeout is returned when a submitted call is not settled before the deadline
	ErrSettlementTimeout = errors.New("settlement timed out")
	// ErrTransactionReverted marks a call that settled with a failed status
	ErrTransactionReverted = errors.New("transaction reverted")
)

// CallDescriptor is a concrete contract call: a qualified function
// identifier (address::module::function) and its ordered arguments
type CallDescriptor struct {
	FunctionID string
	Args       []any
}

// Function returns the bare function name of the descriptor
func (c CallDescriptor) Function() string {
	if i := strings.LastIndex(c.FunctionID, "::"); i >= 0 {
		return c.FunctionID[i+2:]
	}
	return c.FunctionID
}

// Receipt is the settlement outcome of a submitted call
type Receipt struct {
	Hash    string
	Success bool
	// Version is the ledger position the call settled at (block number)
	Version uint64
}

// Client is the relayer's view of the chain
type Client interface {
	// BuildCall qualifies a contract function and its arguments into a descriptor.
	// Arguments that do not fit the function's parameter types fail with ErrInvalidArgument.
	BuildCall(function string, args []any) (CallDescriptor, error)
	// SubmitAndAwait signs the call with the relayer account, submits it and waits for settlement.
	// A call that settles with a failed status returns a receipt with Success false and no error.
	SubmitAndAwait(ctx context.Context, call CallDescriptor) (Receipt, error)
	// Balance returns the relayer account balance in base units
	Balance(ctx context.Context) (*big.Int, error)
	// Address returns the relayer account address
	Address() string
	// Ping checks the chain endpoint is reachable
	Ping(ctx context.Context) error
}
