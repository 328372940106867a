package intent

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMissingField is returned when a required payload field is absent or empty
	ErrMissingField = errors.New("missing required field")
	// ErrExpired is returned when the payload expiry is not in the future
	ErrExpired = errors.New("intent expired")
	// ErrUnsupportedAction is returned when the action is outside the supported set
	ErrUnsupportedAction = errors.New("unsupported action")
	// ErrExpiryTooFar is returned when the expiry exceeds the allowed intent lifetime
	ErrExpiryTooFar = errors.New("intent expiry too far in the future")
)

// Validator checks the structural completeness, expiry and action of payloads
type Validator struct {
	actions     ActionSet
	maxLifetime time.Duration
	now         func() time.Time
}

// NewValidator creates a validator accepting the given actions. A maxLifetime
// of zero disables the upper bound on expiry.
func NewValidator(actions ActionSet, maxLifetime time.Duration) *Validator {
	return &Validator{
		actions:     actions,
		maxLifetime: maxLifetime,
		now:         time.Now,
	}
}

// WithClock replaces the time source, used by tests
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate checks, in order: required fields, expiry, action membership.
// Action-specific params are not inspected here.
func (v *Validator) Validate(p Payload) error {
	switch {
	case strings.TrimSpace(string(p.Action)) == "":
		return fmt.Errorf("%w: action", ErrMissingField)
	case strings.TrimSpace(p.User) == "":
		return fmt.Errorf("%w: user", ErrMissingField)
	case strings.TrimSpace(p.Nonce) == "":
		return fmt.Errorf("%w: nonce", ErrMissingField)
	case p.Expiry == 0:
		return fmt.Errorf("%w: expiry", ErrMissingField)
	}

	now := v.now().Unix()
	if p.Expiry <= now {
		return fmt.Errorf("%w: expiry %d is not after %d", ErrExpired, p.Expiry, now)
	}
	if v.maxLifetime > 0 && p.Expiry > now+int64(v.maxLifetime/time.Second) {
		return fmt.Errorf("%w: expiry %d exceeds lifetime of %s", ErrExpiryTooFar, p.Expiry, v.maxLifetime)
	}

	if !v.actions.Contains(p.Action) {
		return fmt.Errorf("%w: %s", ErrUnsupportedAction, p.Action)
	}
	return nil
}
