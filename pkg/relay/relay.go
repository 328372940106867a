// Package relay runs signed intents through validation, replay protection,
// signature verification and translation, then submits them to the ledger
// on the relayer's account.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/speedrun-hq/speedrun-relayer/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-relayer/pkg/history"
	"github.com/speedrun-hq/speedrun-relayer/pkg/intent"
	"github.com/speedrun-hq/speedrun-relayer/pkg/ledger"
	"github.com/speedrun-hq/speedrun-relayer/pkg/logger"
	"github.com/speedrun-hq/speedrun-relayer/pkg/metrics"
	"github.com/speedrun-hq/speedrun-relayer/pkg/replay"
	"github.com/speedrun-hq/speedrun-relayer/pkg/signature"
	"github.com/speedrun-hq/speedrun-relayer/pkg/translator"
)

// Response messages
const (
	msgInvalidPayload    = "Invalid payload structure or expired"
	msgUnsupportedAction = "Unsupported action"
	msgNonceUsed         = "Nonce already used"
	msgInvalidSignature  = "Invalid signature"
	msgKeyMismatch       = "Public key does not match user"
	msgInvalidParams     = "Invalid action parameters"
	msgTransactionFailed = "Transaction failed"
)

const (
	// RecentLimit is the number of outcomes included in a status snapshot
	RecentLimit = 5
	// DefaultSettlementTimeout is used when Options leaves the settlement timeout unset
	DefaultSettlementTimeout = 60 * time.Second
)

// Deps are the collaborators of the orchestrator. Breaker may be nil.
type Deps struct {
	Validator  *intent.Validator
	Guard      replay.Guard
	Translator *translator.Translator
	Ledger     ledger.Client
	History    *history.Recorder
	Breaker    *circuitbreaker.Breaker
	Logger     logger.Logger
}

// Options tune the pipeline
type Options struct {
	// RequireKeyBinding rejects intents whose public key does not derive the payload user
	RequireKeyBinding bool
	// SettlementTimeout bounds the wait for a submitted call, zero means DefaultSettlementTimeout.
	// Cancelling the caller's context does not abandon a call once it is handed to the ledger.
	SettlementTimeout time.Duration
	// ExplorerURL renders a block explorer link for a hash
	ExplorerURL func(hash string) string
}

// Result describes a settled relayed call
type Result struct {
	Hash        string
	Version     uint64
	ExplorerURL string
}

// Status is a snapshot of the relayer account and recent activity
type Status struct {
	Address string
	Balance *big.Int
	Stats   history.Stats
	Recent  []history.Outcome
}

// Orchestrator relays signed intents
type Orchestrator struct {
	validator  *intent.Validator
	guard      replay.Guard
	translator *translator.Translator
	ledger     ledger.Client
	history    *history.Recorder
	breaker    *circuitbreaker.Breaker
	logger     logger.Logger
	opts       Options
	now        func() time.Time
}

// New creates an orchestrator
func New(deps Deps, opts Options) *Orchestrator {
	if opts.ExplorerURL == nil {
		opts.ExplorerURL = func(string) string { return "" }
	}
	if opts.SettlementTimeout <= 0 {
		opts.SettlementTimeout = DefaultSettlementTimeout
	}
	return &Orchestrator{
		validator:  deps.Validator,
		guard:      deps.Guard,
		translator: deps.Translator,
		ledger:     deps.Ledger,
		history:    deps.History,
		breaker:    deps.Breaker,
		logger:     deps.Logger,
		opts:       opts,
		now:        time.Now,
	}
}

// WithClock replaces the time source used for history timestamps
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// ExplorerURL returns the explorer link for a hash
func (o *Orchestrator) ExplorerURL(hash string) string {
	return o.opts.ExplorerURL(hash)
}

// Relay checks a signed intent and executes it on the ledger. Cheap checks run
// before signature verification; the nonce is reserved after verification and
// released again if the call does not settle successfully.
func (o *Orchestrator) Relay(ctx context.Context, si intent.SignedIntent) (Result, error) {
	p := si.Payload

	if err := o.validator.Validate(p); err != nil {
		msg := msgInvalidPayload
		if errors.Is(err, intent.ErrUnsupportedAction) {
			msg = msgUnsupportedAction
		}
		return Result{}, o.reject(p, newError(KindBadRequest, msg, err))
	}

	if o.guard.Reserved(p.Nonce) {
		return Result{}, o.reject(p, newError(KindReplayRejected, msgNonceUsed, nil))
	}

	message, err := intent.Serialize(p)
	if err != nil {
		return Result{}, o.reject(p, newError(KindBadRequest, msgInvalidPayload, err))
	}
	if !signature.Verify(message, si.Signature, si.PublicKey) {
		return Result{}, o.reject(p, newError(KindUnauthorized, msgInvalidSignature, nil))
	}
	if o.opts.RequireKeyBinding && !signature.KeyMatchesAddress(si.PublicKey, p.User) {
		return Result{}, o.reject(p, newError(KindUnauthorized, msgKeyMismatch, nil))
	}

	if o.breaker != nil {
		if err := o.breaker.Allow(); err != nil {
			e := newError(KindSubmissionFailure, msgTransactionFailed, err)
			e.Retryable = true
			return Result{}, o.reject(p, e)
		}
	}

	if !o.guard.Reserve(p.Nonce, time.Unix(p.Expiry, 0)) {
		// lost a race with a concurrent submission of the same nonce
		return Result{}, o.reject(p, newError(KindReplayRejected, msgNonceUsed, nil))
	}
	o.logger.Debug("Reserved nonce %s for %s by %s", p.Nonce, p.Action, p.User)

	call, err := o.translator.Translate(p)
	if err != nil {
		o.release(p.Nonce)
		return Result{}, o.reject(p, translationError(err))
	}

	return o.submit(ctx, p, call)
}

func (o *Orchestrator) submit(ctx context.Context, p intent.Payload, call ledger.CallDescriptor) (Result, error) {
	// a broadcast call lands whether or not the caller is still waiting, so
	// only the settlement timeout ends the wait
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.SettlementTimeout)
	defer cancel()

	action := string(p.Action)
	start := time.Now()
	receipt, err := o.ledger.SubmitAndAwait(submitCtx, call)
	if err != nil {
		o.release(p.Nonce)
		errorType, retryable := ledger.ClassifyError(err)
		metrics.SubmissionErrors.WithLabelValues(errorType).Inc()
		metrics.IntentsRelayed.WithLabelValues(action, "failed").Inc()
		// unsendable arguments say nothing about the chain's health
		if o.breaker != nil && !errors.Is(err, ledger.ErrInvalidArgument) {
			o.breaker.RecordFailure()
		}
		o.history.Record(history.Outcome{
			Action:    p.Action,
			User:      p.User,
			Timestamp: o.now(),
		})
		if errorType == ledger.ErrorTypeTimeout {
			o.logger.Notice("Released nonce %s after settlement timeout, the call may still land", p.Nonce)
		}

		e := newError(KindSubmissionFailure, msgTransactionFailed, err)
		e.Retryable = retryable
		return Result{}, o.reject(p, e)
	}
	metrics.SettlementTime.WithLabelValues(action).Observe(time.Since(start).Seconds())

	o.history.Record(history.Outcome{
		Hash:      receipt.Hash,
		Action:    p.Action,
		User:      p.User,
		Timestamp: o.now(),
		Success:   receipt.Success,
	})
	if o.breaker != nil {
		o.breaker.RecordSuccess()
	}

	if !receipt.Success {
		o.release(p.Nonce)
		metrics.SubmissionErrors.WithLabelValues(ledger.ErrorTypeContract).Inc()
		metrics.IntentsRelayed.WithLabelValues(action, "reverted").Inc()

		e := newError(KindSubmissionFailure, msgTransactionFailed, ledger.ErrTransactionReverted)
		e.Detail = fmt.Sprintf("transaction %s reverted", receipt.Hash)
		return Result{}, o.reject(p, e)
	}

	metrics.IntentsRelayed.WithLabelValues(action, "success").Inc()
	o.logger.Info("Relayed %s for %s: %s (version %d)", p.Action, p.User, receipt.Hash, receipt.Version)
	return Result{
		Hash:        receipt.Hash,
		Version:     receipt.Version,
		ExplorerURL: o.opts.ExplorerURL(receipt.Hash),
	}, nil
}

// Status reports the relayer account and recent activity. A failed balance
// query is logged and reported as zero.
func (o *Orchestrator) Status(ctx context.Context) Status {
	balance, err := o.ledger.Balance(ctx)
	if err != nil {
		o.logger.Error("Failed to get relayer balance: %v", err)
		balance = big.NewInt(0)
	}
	return Status{
		Address: o.ledger.Address(),
		Balance: balance,
		Stats:   o.history.Stats(),
		Recent:  o.history.Recent(RecentLimit),
	}
}

func (o *Orchestrator) release(nonce string) {
	o.guard.Release(nonce)
	o.logger.Debug("Released nonce %s", nonce)
}

func (o *Orchestrator) reject(p intent.Payload, e *Error) *Error {
	metrics.Rejections.WithLabelValues(e.Kind.String()).Inc()
	if e.Kind == KindSubmissionFailure {
		o.logger.Error("Intent %s (%s) failed: %s", p.Nonce, p.Action, e.Detail)
	} else {
		o.logger.Info("Intent %s (%s) rejected: %s", p.Nonce, p.Action, e.Error())
	}
	return e
}

func translationError(err error) *Error {
	switch {
	case errors.Is(err, translator.ErrUnknownAction):
		return newError(KindBadRequest, msgUnsupportedAction, err)
	case errors.Is(err, translator.ErrMissingParam), errors.Is(err, translator.ErrInvalidParam),
		errors.Is(err, ledger.ErrInvalidArgument):
		return newError(KindTranslationError, msgInvalidParams, err)
	default:
		// the route exists but the ledger could not build the call
		return newError(KindSubmissionFailure, msgTransactionFailed, err)
	}
}
