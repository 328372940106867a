// Package translator turns validated intents into contract calls through a
// per-action routing table.
package translator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/speedrun-hq/speedrun-relayer/pkg/intent"
	"github.com/speedrun-hq/speedrun-relayer/pkg/ledger"
	"github.com/speedrun-hq/speedrun-relayer/pkg/signature"
)

var (
	// ErrUnknownAction is returned for an action with no route
	ErrUnknownAction = errors.New("unknown action")
	// ErrMissingParam is returned when an action-specific parameter is absent
	ErrMissingParam = errors.New("missing parameter")
	// ErrInvalidParam is returned when a parameter has the wrong shape
	ErrInvalidParam = errors.New("invalid parameter")
)

// Kind is the expected shape of a parameter value
type Kind int

const (
	// KindAccount is a hex encoded account identifier
	KindAccount Kind = iota
	// KindUint is a non-negative integer
	KindUint
)

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindUint:
		return "uint"
	default:
		return "unknown"
	}
}

// ParamSpec names a required parameter and its kind
type ParamSpec struct {
	Name string
	Kind Kind
}

// Route maps an action to a contract function. Call arguments are the user
// followed by the params in listed order.
type Route struct {
	Function string
	Params   []ParamSpec
}

// Table holds the routes of all relayable actions
type Table map[intent.Action]Route

// DefaultTable routes the actions exposed by the relay contract
func DefaultTable() Table {
	return Table{
		intent.ActionMintBadge: {
			Function: "mint_badge",
		},
		intent.ActionCastVote: {
			Function: "cast_vote",
			Params: []ParamSpec{
				{Name: "poll_id", Kind: KindUint},
				{Name: "choice", Kind: KindUint},
			},
		},
		intent.ActionTransferToken: {
			Function: "transfer_token",
			Params: []ParamSpec{
				{Name: "recipient", Kind: KindAccount},
				{Name: "amount", Kind: KindUint},
			},
		},
	}
}

// Actions returns the set of actions with a route
func (t Table) Actions() intent.ActionSet {
	actions := make([]intent.Action, 0, len(t))
	for a := range t {
		actions = append(actions, a)
	}
	return intent.NewActionSet(actions...)
}

// CallBuilder qualifies a function and arguments into a call descriptor
type CallBuilder interface {
	BuildCall(function string, args []any) (ledger.CallDescriptor, error)
}

// Translator converts payloads to call descriptors
type Translator struct {
	table   Table
	builder CallBuilder
}

// New creates a translator over the routing table
func New(table Table, builder CallBuilder) *Translator {
	return &Translator{table: table, builder: builder}
}

// Actions returns the actions this translator can route
func (t *Translator) Actions() intent.ActionSet {
	return t.table.Actions()
}

// Translate builds the call descriptor for a payload. Parameter values are
// checked for shape here; the builder rejects values that do not fit the
// contract's parameter types.
func (t *Translator) Translate(p intent.Payload) (ledger.CallDescriptor, error) {
	route, ok := t.table[p.Action]
	if !ok {
		return ledger.CallDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownAction, p.Action)
	}

	args := make([]any, 0, len(route.Params)+1)
	args = append(args, p.User)
	for _, ps := range route.Params {
		v, ok := p.Param(ps.Name)
		if !ok {
			return ledger.CallDescriptor{}, fmt.Errorf("%w: %s requires %s", ErrMissingParam, p.Action, ps.Name)
		}
		if err := checkKind(ps, v); err != nil {
			return ledger.CallDescriptor{}, err
		}
		args = append(args, v)
	}

	call, err := t.builder.BuildCall(route.Function, args)
	if err != nil {
		return ledger.CallDescriptor{}, fmt.Errorf("failed to build %s call: %w", route.Function, err)
	}
	return call, nil
}

func checkKind(ps ParamSpec, v any) error {
	switch ps.Kind {
	case KindAccount:
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: %s must be a hex account", ErrInvalidParam, ps.Name)
		}
		clean := strings.TrimPrefix(s, "0x")
		if len(clean)%2 == 1 {
			clean = "0" + clean
		}
		if _, err := signature.DecodeHex(clean); err != nil {
			return fmt.Errorf("%w: %s must be a hex account", ErrInvalidParam, ps.Name)
		}
	case KindUint:
		n, err := ledger.ToBigInt(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidParam, ps.Name, err)
		}
		if n.Sign() < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidParam, ps.Name)
		}
	}
	return nil
}
