package relay

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/speedrun-hq/speedrun-relayer/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-relayer/pkg/history"
	"github.com/speedrun-hq/speedrun-relayer/pkg/intent"
	"github.com/speedrun-hq/speedrun-relayer/pkg/ledger"
	"github.com/speedrun-hq/speedrun-relayer/pkg/logger"
	"github.com/speedrun-hq/speedrun-relayer/pkg/replay"
	"github.com/speedrun-hq/speedrun-relayer/pkg/signature"
	"github.com/speedrun-hq/speedrun-relayer/pkg/translator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var relayABI = func() abi.ABI {
	parsed, err := ledger.RelayABI()
	if err != nil {
		panic(err)
	}
	return parsed
}()

// fakeLedger records calls and settles them instantly unless told otherwise.
// Arguments are checked against the relay contract ABI like the EVM client does.
type fakeLedger struct {
	mu         sync.Mutex
	builds     []ledger.CallDescriptor
	submits    []ledger.CallDescriptor
	submitErr  error
	revert     bool
	block      bool
	hold       chan struct{}
	balance    *big.Int
	balanceErr error
}

func (f *fakeLedger) BuildCall(function string, args []any) (ledger.CallDescriptor, error) {
	if _, err := ledger.EncodeArgs(relayABI, function, args); err != nil {
		return ledger.CallDescriptor{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	call := ledger.CallDescriptor{FunctionID: "0xRELAY::GaslessRelay::" + function, Args: args}
	f.builds = append(f.builds, call)
	return call, nil
}

func (f *fakeLedger) SubmitAndAwait(ctx context.Context, call ledger.CallDescriptor) (ledger.Receipt, error) {
	f.mu.Lock()
	f.submits = append(f.submits, call)
	n := len(f.submits)
	block, hold, submitErr, revert := f.block, f.hold, f.submitErr, f.revert
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ledger.Receipt{}, ctx.Err()
		}
	}
	if block {
		<-ctx.Done()
		return ledger.Receipt{}, fmt.Errorf("%w: 0xpending", ledger.ErrSettlementTimeout)
	}
	if submitErr != nil {
		return ledger.Receipt{}, submitErr
	}
	return ledger.Receipt{Hash: fmt.Sprintf("0xhash%d", n), Success: !revert, Version: uint64(100 + n)}, nil
}

func (f *fakeLedger) Balance(context.Context) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeLedger) Address() string { return "0xRELAYER" }

func (f *fakeLedger) Ping(context.Context) error { return nil }

func (f *fakeLedger) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.builds), len(f.submits)
}

func (f *fakeLedger) set(apply func(f *fakeLedger)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply(f)
}

type harness struct {
	orch    *Orchestrator
	guard   *replay.MemoryGuard
	ledger  *fakeLedger
	history *history.Recorder
	breaker *circuitbreaker.Breaker
}

type harnessOption func(*Options, *circuitbreaker.Config)

func withKeyBinding() harnessOption {
	return func(o *Options, _ *circuitbreaker.Config) { o.RequireKeyBinding = true }
}

func withSettlementTimeout(d time.Duration) harnessOption {
	return func(o *Options, _ *circuitbreaker.Config) { o.SettlementTimeout = d }
}

func withBreaker(threshold int) harnessOption {
	return func(_ *Options, c *circuitbreaker.Config) {
		c.Enabled = true
		c.Threshold = threshold
	}
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()
	log := &logger.EmptyLogger{}

	opts := Options{
		ExplorerURL: func(hash string) string {
			return "https://sepolia.basescan.org/txn/" + hash + "?network=testnet"
		},
	}
	cbConfig := circuitbreaker.Config{Window: time.Minute, ResetTimeout: time.Minute}
	for _, apply := range options {
		apply(&opts, &cbConfig)
	}

	fl := &fakeLedger{balance: big.NewInt(2_500_000_000_000_000_000)}
	tr := translator.New(translator.DefaultTable(), fl)
	h := &harness{
		guard:   replay.NewMemoryGuard(log),
		ledger:  fl,
		history: history.NewRecorder(history.DefaultCapacity),
		breaker: circuitbreaker.New(cbConfig, log),
	}
	h.orch = New(Deps{
		Validator:  intent.NewValidator(tr.Actions(), time.Hour),
		Guard:      h.guard,
		Translator: tr,
		Ledger:     fl,
		History:    h.history,
		Breaker:    h.breaker,
		Logger:     log,
	}, opts)
	return h
}

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return priv
}

func transferPayload(nonce string) intent.Payload {
	return intent.Payload{
		Action: intent.ActionTransferToken,
		Params: map[string]any{"recipient": "0xBEEF", "amount": 10},
		User:   "0xCAFE",
		Nonce:  nonce,
		Expiry: time.Now().Add(300 * time.Second).Unix(),
	}
}

func sign(t *testing.T, p intent.Payload, priv ed25519.PrivateKey) intent.SignedIntent {
	t.Helper()
	si, err := intent.Sign(p, priv)
	require.NoError(t, err)
	return si
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	require.Error(t, err)
	var re *Error
	require.True(t, errors.As(err, &re), "expected relay error, got %v", err)
	require.Equal(t, kind, re.Kind, re.Error())
	return re
}

func TestRelayTransferEndToEnd(t *testing.T) {
	h := newHarness(t)
	si := sign(t, transferPayload("n1"), newKey(t))

	before := h.orch.Status(context.Background()).Stats.Total

	result, err := h.orch.Relay(context.Background(), si)
	require.NoError(t, err)
	assert.Equal(t, "0xhash1", result.Hash)
	assert.Equal(t, uint64(101), result.Version)
	assert.Equal(t, "https://sepolia.basescan.org/txn/0xhash1?network=testnet", result.ExplorerURL)

	require.Len(t, h.ledger.submits, 1)
	assert.Equal(t, []any{"0xCAFE", "0xBEEF", 10}, h.ledger.submits[0].Args)
	assert.Equal(t, "transfer_token", h.ledger.submits[0].Function())

	status := h.orch.Status(context.Background())
	assert.Equal(t, before+1, status.Stats.Total)
	assert.Equal(t, 1, status.Stats.Success)
	require.NotEmpty(t, status.Recent)
	assert.Equal(t, result.Hash, status.Recent[0].Hash)
	assert.Equal(t, "0xRELAYER", status.Address)
	assert.True(t, h.guard.Reserved("n1"), "nonce stays consumed after success")
}

func TestRelayReplayRejected(t *testing.T) {
	h := newHarness(t)
	si := sign(t, transferPayload("n1"), newKey(t))

	_, err := h.orch.Relay(context.Background(), si)
	require.NoError(t, err)

	_, err = h.orch.Relay(context.Background(), si)
	re := requireKind(t, err, KindReplayRejected)
	assert.Equal(t, msgNonceUsed, re.Message)

	builds, submits := h.ledger.counts()
	assert.Equal(t, 1, builds, "no call descriptor built for the replay")
	assert.Equal(t, 1, submits)
}

func TestRelayUnsupportedActionBeforeCrypto(t *testing.T) {
	h := newHarness(t)
	p := transferPayload("n2")
	p.Action = "delete_everything"

	// garbage signature: a BadRequest proves verification never ran
	_, err := h.orch.Relay(context.Background(), intent.SignedIntent{Payload: p, Signature: "zz", PublicKey: "zz"})
	re := requireKind(t, err, KindBadRequest)
	assert.Equal(t, msgUnsupportedAction, re.Message)
	assert.ErrorIs(t, err, intent.ErrUnsupportedAction)
	assert.False(t, h.guard.Reserved("n2"))

	builds, submits := h.ledger.counts()
	assert.Zero(t, builds)
	assert.Zero(t, submits)
}

func TestRelayValidationFailures(t *testing.T) {
	h := newHarness(t)
	priv := newKey(t)

	expired := transferPayload("e1")
	expired.Expiry = time.Now().Add(-time.Second).Unix()
	missingUser := transferPayload("e2")
	missingUser.User = ""
	tooFar := transferPayload("e3")
	tooFar.Expiry = time.Now().Add(48 * time.Hour).Unix()

	for _, p := range []intent.Payload{expired, missingUser, tooFar} {
		_, err := h.orch.Relay(context.Background(), sign(t, p, priv))
		re := requireKind(t, err, KindBadRequest)
		assert.Equal(t, msgInvalidPayload, re.Message)
		assert.False(t, h.guard.Reserved(p.Nonce))
	}
}

func TestRelayRollbackAfterSubmissionFailure(t *testing.T) {
	h := newHarness(t)
	si := sign(t, transferPayload("abc"), newKey(t))
	h.ledger.set(func(f *fakeLedger) { f.submitErr = errors.New("dial tcp: connection refused") })

	_, err := h.orch.Relay(context.Background(), si)
	re := requireKind(t, err, KindSubmissionFailure)
	assert.Equal(t, msgTransactionFailed, re.Message)
	assert.Contains(t, re.Detail, "connection refused")
	assert.True(t, re.Retryable)
	assert.False(t, h.guard.Reserved("abc"), "nonce released before the error is reported")

	// the same signed intent goes through once the ledger recovers
	h.ledger.set(func(f *fakeLedger) { f.submitErr = nil })
	_, err = h.orch.Relay(context.Background(), si)
	require.NoError(t, err)
}

func TestRelayReleasedNonceCanBeReserved(t *testing.T) {
	h := newHarness(t)
	h.ledger.set(func(f *fakeLedger) { f.submitErr = errors.New("insufficient funds for gas * price + value") })

	_, err := h.orch.Relay(context.Background(), sign(t, transferPayload("abc"), newKey(t)))
	re := requireKind(t, err, KindSubmissionFailure)
	assert.False(t, re.Retryable)

	assert.True(t, h.guard.Reserve("abc", time.Now().Add(time.Minute)))
}

func TestRelayInvalidSignature(t *testing.T) {
	h := newHarness(t)
	si := sign(t, transferPayload("n3"), newKey(t))
	si.Payload.Params = map[string]any{"recipient": "0xBEEF", "amount": 11}

	_, err := h.orch.Relay(context.Background(), si)
	re := requireKind(t, err, KindUnauthorized)
	assert.Equal(t, msgInvalidSignature, re.Message)
	assert.False(t, h.guard.Reserved("n3"))

	_, submits := h.ledger.counts()
	assert.Zero(t, submits)
}

func TestRelayKeyBinding(t *testing.T) {
	h := newHarness(t, withKeyBinding())
	priv := newKey(t)

	// 0xCAFE is not derived from this key
	_, err := h.orch.Relay(context.Background(), sign(t, transferPayload("k1"), priv))
	re := requireKind(t, err, KindUnauthorized)
	assert.Equal(t, msgKeyMismatch, re.Message)
	assert.False(t, h.guard.Reserved("k1"))

	p := transferPayload("k2")
	p.User = signature.DeriveAddress(priv.Public().(ed25519.PublicKey))
	_, err = h.orch.Relay(context.Background(), sign(t, p, priv))
	assert.NoError(t, err)
}

func TestRelayTranslationError(t *testing.T) {
	h := newHarness(t)
	p := transferPayload("t1")
	p.Params = map[string]any{"recipient": "0xBEEF"}

	_, err := h.orch.Relay(context.Background(), sign(t, p, newKey(t)))
	re := requireKind(t, err, KindTranslationError)
	assert.ErrorIs(t, err, translator.ErrMissingParam)
	assert.Equal(t, 400, re.Kind.HTTPStatus())
	assert.False(t, h.guard.Reserved("t1"))

	_, submits := h.ledger.counts()
	assert.Zero(t, submits)
}

func TestRelayRevertRecordedAsFailure(t *testing.T) {
	h := newHarness(t)
	h.ledger.set(func(f *fakeLedger) { f.revert = true })

	_, err := h.orch.Relay(context.Background(), sign(t, transferPayload("r1"), newKey(t)))
	re := requireKind(t, err, KindSubmissionFailure)
	assert.ErrorIs(t, err, ledger.ErrTransactionReverted)
	assert.Contains(t, re.Detail, "0xhash1")
	assert.False(t, re.Retryable)
	assert.False(t, h.guard.Reserved("r1"))

	assert.Equal(t, history.Stats{Total: 1, Success: 0, Failed: 1}, h.history.Stats())
}

func TestRelaySettlementTimeout(t *testing.T) {
	h := newHarness(t, withSettlementTimeout(50*time.Millisecond))
	h.ledger.set(func(f *fakeLedger) { f.block = true })

	_, err := h.orch.Relay(context.Background(), sign(t, transferPayload("s1"), newKey(t)))
	re := requireKind(t, err, KindSubmissionFailure)
	assert.ErrorIs(t, err, ledger.ErrSettlementTimeout)
	assert.True(t, re.Retryable)
	assert.False(t, h.guard.Reserved("s1"))

	// the failed attempt is recorded without a hash
	assert.Equal(t, history.Stats{Total: 1, Success: 0, Failed: 1}, h.history.Stats())
	recent := h.history.Recent(1)
	require.Len(t, recent, 1)
	assert.Empty(t, recent[0].Hash)
	assert.False(t, recent[0].Success)
}

func TestRelaySettlementOutlivesCaller(t *testing.T) {
	h := newHarness(t, withBreaker(1))
	hold := make(chan struct{})
	h.ledger.set(func(f *fakeLedger) { f.hold = hold })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Relay(ctx, sign(t, transferPayload("c1"), newKey(t)))
		done <- err
	}()

	require.Eventually(t, func() bool {
		_, submits := h.ledger.counts()
		return submits == 1
	}, time.Second, 5*time.Millisecond)

	// the client goes away while the call is settling
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(hold)

	require.NoError(t, <-done)
	assert.True(t, h.guard.Reserved("c1"))
	assert.False(t, h.breaker.State().Open)
	assert.Equal(t, history.Stats{Total: 1, Success: 1, Failed: 0}, h.history.Stats())
}

func TestRelayArgumentOutOfRange(t *testing.T) {
	h := newHarness(t, withBreaker(1))
	priv := newKey(t)

	tests := []struct {
		name   string
		action intent.Action
		params map[string]any
	}{
		{"choice overflows uint8", intent.ActionCastVote, map[string]any{"poll_id": 1, "choice": 300}},
		{"poll id overflows uint64", intent.ActionCastVote, map[string]any{"poll_id": json.Number("18446744073709551616"), "choice": 1}},
		{"recipient longer than 32 bytes", intent.ActionTransferToken, map[string]any{"recipient": "0x" + strings.Repeat("ab", 33), "amount": 1}},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := transferPayload(fmt.Sprintf("w%d", i))
			p.Action = tt.action
			p.Params = tt.params

			_, err := h.orch.Relay(context.Background(), sign(t, p, priv))
			re := requireKind(t, err, KindTranslationError)
			assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
			assert.Equal(t, msgInvalidParams, re.Message)
			assert.Equal(t, 400, re.Kind.HTTPStatus())
			assert.False(t, h.guard.Reserved(p.Nonce))
		})
	}

	_, submits := h.ledger.counts()
	assert.Zero(t, submits)
	assert.False(t, h.breaker.State().Open)
	assert.Zero(t, h.history.Len())

	// the breaker still lets well-formed intents through
	_, err := h.orch.Relay(context.Background(), sign(t, transferPayload("w-ok"), priv))
	assert.NoError(t, err)
}

func TestRelayCircuitBreakerFailsFast(t *testing.T) {
	h := newHarness(t, withBreaker(1))
	priv := newKey(t)
	h.ledger.set(func(f *fakeLedger) { f.submitErr = errors.New("EOF") })

	_, err := h.orch.Relay(context.Background(), sign(t, transferPayload("b1"), priv))
	requireKind(t, err, KindSubmissionFailure)
	require.True(t, h.breaker.State().Open)

	_, err = h.orch.Relay(context.Background(), sign(t, transferPayload("b2"), priv))
	re := requireKind(t, err, KindSubmissionFailure)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.True(t, re.Retryable)
	assert.False(t, h.guard.Reserved("b2"))

	_, submits := h.ledger.counts()
	assert.Equal(t, 1, submits)

	h.breaker.Reset()
	h.ledger.set(func(f *fakeLedger) { f.submitErr = nil })
	_, err = h.orch.Relay(context.Background(), sign(t, transferPayload("b2"), priv))
	assert.NoError(t, err)
}

func TestRelayConcurrentDuplicates(t *testing.T) {
	h := newHarness(t)
	si := sign(t, transferPayload("dup"), newKey(t))

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, replays := 0, 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Relay(context.Background(), si)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if kind, _ := KindOf(err); kind == KindReplayRejected {
				replays++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 31, replays)
	_, submits := h.ledger.counts()
	assert.Equal(t, 1, submits)
}

func TestStatusBalanceFallback(t *testing.T) {
	h := newHarness(t)
	h.ledger.set(func(f *fakeLedger) { f.balanceErr = errors.New("rpc down") })

	status := h.orch.Status(context.Background())
	assert.Equal(t, 0, status.Balance.Sign())
	assert.Empty(t, status.Recent)
}

func TestStatusRecentLimited(t *testing.T) {
	h := newHarness(t)
	priv := newKey(t)
	for i := 0; i < RecentLimit+3; i++ {
		_, err := h.orch.Relay(context.Background(), sign(t, transferPayload(fmt.Sprintf("r%d", i)), priv))
		require.NoError(t, err)
	}

	status := h.orch.Status(context.Background())
	assert.Len(t, status.Recent, RecentLimit)
	assert.Equal(t, RecentLimit+3, status.Stats.Total)
	assert.Equal(t, 0, status.Balance.Cmp(big.NewInt(2_500_000_000_000_000_000)))
}
