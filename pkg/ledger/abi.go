package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/speedrun-hq/speedrun-relayer/pkg/signature"
)

// relayABI describes the relay contract. Account identifiers are bytes32 so
// both 20 and 32 byte addresses fit.
const relayABI = `[
	{
		"type": "function",
		"name": "mint_badge",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "user", "type": "bytes32"}],
		"outputs": []
	},
	{
		"type": "function",
		"name": "cast_vote",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "user", "type": "bytes32"},
			{"name": "poll_id", "type": "uint64"},
			{"name": "choice", "type": "uint8"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "transfer_token",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "user", "type": "bytes32"},
			{"name": "recipient", "type": "bytes32"},
			{"name": "amount", "type": "uint64"}
		],
		"outputs": []
	}
]`

// RelayABI returns the parsed relay contract ABI
func RelayABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(relayABI))
}

// EncodeArgs checks args against the inputs of function and returns them
// converted to the Go types the ABI packer expects
func EncodeArgs(contractABI abi.ABI, function string, args []any) ([]any, error) {
	method, ok := contractABI.Methods[function]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, function)
	}
	out, err := coerceArgs(method.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, function, err)
	}
	return out, nil
}

// coerceArgs converts loosely typed descriptor arguments to the Go types the ABI packer expects
func coerceArgs(inputs abi.Arguments, args []any) ([]any, error) {
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(inputs), len(args))
	}
	out := make([]any, len(args))
	for i, input := range inputs {
		v, err := coerceArg(input.Type, args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", input.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

func coerceArg(t abi.Type, v any) (any, error) {
	switch t.T {
	case abi.FixedBytesTy:
		if t.Size != 32 {
			return nil, fmt.Errorf("unsupported fixed bytes size %d", t.Size)
		}
		return toBytes32(v)
	case abi.UintTy:
		n, err := ToBigInt(v)
		if err != nil {
			return nil, err
		}
		if n.Sign() < 0 {
			return nil, fmt.Errorf("negative value %s for %s", n, t)
		}
		if n.BitLen() > t.Size {
			return nil, fmt.Errorf("value %s overflows %s", n, t)
		}
		switch t.Size {
		case 8:
			return uint8(n.Uint64()), nil
		case 16:
			return uint16(n.Uint64()), nil
		case 32:
			return uint32(n.Uint64()), nil
		case 64:
			return n.Uint64(), nil
		}
		return n, nil
	case abi.StringTy:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case abi.BoolTy:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported abi type %s", t)
}

func toBytes32(v any) ([32]byte, error) {
	var out [32]byte
	if b, ok := v.([32]byte); ok {
		return b, nil
	}
	s, ok := v.(string)
	if !ok {
		return out, fmt.Errorf("expected hex string, got %T", v)
	}
	clean := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(clean)%2 == 1 {
		clean = "0" + clean
	}
	b, err := signature.DecodeHex(clean)
	if err != nil {
		return out, err
	}
	if len(b) > 32 {
		return out, fmt.Errorf("hex value %s longer than 32 bytes", s)
	}
	copy(out[32-len(b):], b)
	return out, nil
}

// ToBigInt converts JSON-ish numeric values (Go ints, integral floats,
// json.Number, decimal strings) to a big.Int
func ToBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case int:
		return big.NewInt(int64(n)), nil
	case int8:
		return big.NewInt(int64(n)), nil
	case int16:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return nil, fmt.Errorf("non-integer number %v", n)
		}
		i, _ := new(big.Float).SetFloat64(n).Int(nil)
		return i, nil
	case json.Number:
		return parseDecimal(n.String())
	case string:
		return parseDecimal(n)
	case *big.Int:
		if n == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return new(big.Int).Set(n), nil
	}
	return nil, fmt.Errorf("expected integer, got %T", v)
}

func parseDecimal(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}
