// Package intent defines the off-chain payload a user signs to authorize a
// relayed operation, its canonical encoding, and structural validation.
package intent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Action identifies a supported relayed operation
type Action string

const (
	// ActionMintBadge mints a badge to the user
	ActionMintBadge Action = "mint_badge"
	// ActionCastVote records the user's choice in a poll
	ActionCastVote Action = "cast_vote"
	// ActionTransferToken moves tokens from the user to a recipient
	ActionTransferToken Action = "transfer_token"
)

// ActionSet is a closed set of actions accepted by a validator
type ActionSet map[Action]struct{}

// NewActionSet builds a set from a list of actions
func NewActionSet(actions ...Action) ActionSet {
	set := make(ActionSet, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return set
}

// Contains reports whether the action is a member of the set
func (s ActionSet) Contains(a Action) bool {
	_, ok := s[a]
	return ok
}

// List returns the actions in the set sorted by name
func (s ActionSet) List() []Action {
	list := make([]Action, 0, len(s))
	for a := range s {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

// Payload is the intent a user authorizes. It must not be mutated once signed.
type Payload struct {
	Action Action         `json:"action"`
	Params map[string]any `json:"params"`
	User   string         `json:"user"`
	Nonce  string         `json:"nonce"`
	Expiry int64          `json:"expiry"`
}

// Param returns a parameter value and whether it is present and non-nil
func (p Payload) Param(name string) (any, bool) {
	v, ok := p.Params[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// SignedIntent is the wire unit submitted for relaying
type SignedIntent struct {
	Payload   Payload `json:"payload"`
	Signature string  `json:"signature"`
	PublicKey string  `json:"publicKey"`
}

// DecodeSignedIntent reads a signed intent from JSON, keeping numeric params
// as json.Number so they encode back to the exact literal that was signed.
func DecodeSignedIntent(r io.Reader) (SignedIntent, error) {
	var si SignedIntent
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&si); err != nil {
		return SignedIntent{}, fmt.Errorf("failed to decode signed intent: %w", err)
	}
	return si, nil
}

// Serialize returns the canonical encoding of a payload: compact JSON with
// object keys sorted by name at every level and no HTML escaping. Params
// values are expected to be JSON values (scalars, maps, slices).
func Serialize(p Payload) ([]byte, error) {
	params := p.Params
	if params == nil {
		params = map[string]any{}
	}

	// encoding/json writes map keys in sorted order, nested maps included
	doc := map[string]any{
		"action": string(p.Action),
		"expiry": p.Expiry,
		"nonce":  p.Nonce,
		"params": params,
		"user":   p.User,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
