package relay

import (
	"errors"
	"net/http"
)

// Kind classifies why an intent was not relayed
type Kind int

const (
	// KindBadRequest covers missing fields, expired intents and unsupported actions
	KindBadRequest Kind = iota + 1
	// KindReplayRejected means the nonce was already used
	KindReplayRejected
	// KindUnauthorized means the signature or key binding did not verify
	KindUnauthorized
	// KindTranslationError means action-specific params were missing or malformed
	KindTranslationError
	// KindSubmissionFailure means the ledger could not execute the call
	KindSubmissionFailure
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindReplayRejected:
		return "replay_rejected"
	case KindUnauthorized:
		return "unauthorized"
	case KindTranslationError:
		return "translation_error"
	case KindSubmissionFailure:
		return "submission_failure"
	default:
		return "unknown"
	}
}

// HTTPStatus returns the response status for the kind
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest, KindReplayRejected, KindTranslationError:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Error is a failed relay attempt. Message is safe to show to callers,
// Detail carries the diagnostic cause.
type Error struct {
	Kind      Kind
	Message   string
	Detail    string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.String() + ": " + e.Message
	}
	return e.Kind.String() + ": " + e.Message + ": " + e.Detail
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a relay error
func KindOf(err error) (Kind, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}

func newError(kind Kind, message string, err error) *Error {
	e := &Error{Kind: kind, Message: message, Err: err}
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}
