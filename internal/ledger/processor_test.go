package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/wagerwars/internal/cache/memory"
	"github.com/alanyoungcy/wagerwars/internal/command"
	"github.com/alanyoungcy/wagerwars/internal/crypto"
	"github.com/alanyoungcy/wagerwars/internal/domain"
	"github.com/alanyoungcy/wagerwars/internal/service"
	storemem "github.com/alanyoungcy/wagerwars/internal/store/memory"
)

const (
	chainID  = 31337
	devKey   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	otherKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

type recorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recorder) ObserveCommand(name, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, name+":"+outcome)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outcomes...)
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	bus    *cachemem.SignalBus
	locks  *cachemem.LockManager
	engine *service.Engine
	deps   Deps
	obs    *recorder
	signer *crypto.Signer
	nonce  uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := service.NewEngine(service.EngineDeps{
		Ledger: storemem.NewLedger(),
		Logger: logger,
	}, service.DefaultEngineConfig())

	signer, err := crypto.NewSigner(devKey, chainID)
	require.NoError(t, err)

	h := &harness{
		t:      t,
		ctx:    context.Background(),
		bus:    cachemem.NewSignalBus(),
		locks:  cachemem.NewLockManager(),
		engine: engine,
		obs:    &recorder{},
		signer: signer,
	}
	h.deps = Deps{
		Bus:      h.bus,
		Locks:    h.locks,
		Limiter:  cachemem.NewRateLimiter(),
		Executor: command.NewDispatcher(engine, logger),
		Verifier: crypto.NewVerifier(chainID),
		Chain:    engine.Chain,
		Observer: h.obs,
		Logger:   logger,
	}
	return h
}

func (h *harness) processor(cfg Config) *Processor {
	return NewProcessor(h.deps, cfg)
}

// submit signs argv with s and appends it to the command stream.
func (h *harness) submit(s *crypto.Signer, id string, argv ...string) domain.Envelope {
	h.t.Helper()
	cmd, err := command.Parse(argv)
	require.NoError(h.t, err)
	h.nonce++
	env := domain.Envelope{ID: id, Command: cmd, Nonce: h.nonce}
	require.NoError(h.t, s.SignEnvelope(&env))
	h.append(env)
	return env
}

func (h *harness) append(v any) {
	h.t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(h.t, err)
	require.NoError(h.t, h.bus.StreamAppend(h.ctx, DefaultCommandStream, payload))
}

func (h *harness) results() []domain.Result {
	h.t.Helper()
	msgs, err := h.bus.StreamRead(h.ctx, DefaultResultStream, "0", 0)
	require.NoError(h.t, err)
	out := make([]domain.Result, len(msgs))
	for i, m := range msgs {
		require.NoError(h.t, json.Unmarshal(m.Payload, &out[i]))
	}
	return out
}

func (h *harness) balance(addr string) int64 {
	h.t.Helper()
	bal, err := h.engine.Custody.Balance(h.ctx, addr)
	require.NoError(h.t, err)
	return bal
}

func TestProcessSignedCommand(t *testing.T) {
	h := newHarness(t)
	me := h.signer.Address()
	h.submit(h.signer, "e1", "mint", "--amount", "25", "--recipient", me)
	h.submit(h.signer, "e2", "get-balance", "--address", me)

	p := h.processor(Config{})
	n, err := p.ProcessBatch(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "2-0", p.LastID())
	assert.Equal(t, int64(25_000_000), h.balance(me))

	res := h.results()
	require.Len(t, res, 2)
	assert.True(t, res[0].OK)
	assert.Equal(t, "e1", res[0].EnvelopeID)
	assert.Equal(t, "1-0", res[0].StreamID)
	assert.Equal(t, me, res[0].Caller)
	assert.JSONEq(t, fmt.Sprintf(`{"address":%q,"balance":25000000,"display":"25"}`, me), string(res[1].Value))

	n, err = p.ProcessBatch(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"mint:ok", "get-balance:ok"}, h.obs.all())
}

func TestProcessRejections(t *testing.T) {
	h := newHarness(t)
	me := h.signer.Address()

	tampered := h.submit(h.signer, "e1", "mint", "--amount", "1", "--recipient", me)
	tampered.ID = "e1-forged"
	tampered.Command.Args = json.RawMessage(`{"amount":999000000,"recipient":"` + me + `"}`)
	h.append(tampered)

	require.NoError(t, h.bus.StreamAppend(h.ctx, DefaultCommandStream, []byte("{not json")))
	h.submit(h.signer, "e2", "resolve-market", "--market", "7", "--outcome", "0")

	p := h.processor(Config{})
	_, err := p.ProcessBatch(h.ctx)
	require.NoError(t, err)

	res := h.results()
	require.Len(t, res, 4)
	assert.True(t, res[0].OK)
	assert.Equal(t, "bad_signature", res[1].ErrorCode)
	assert.Equal(t, domain.KindAuthorization, res[1].ErrorKind)
	assert.Equal(t, "malformed_envelope", res[2].ErrorCode)
	assert.Equal(t, "3-0", res[2].EnvelopeID)
	assert.Equal(t, "market_not_found", res[3].ErrorCode)
	assert.Equal(t, domain.KindNotFound, res[3].ErrorKind)

	assert.Equal(t, int64(1_000_000), h.balance(me))
}

func TestDuplicateEnvelopeRunsOnce(t *testing.T) {
	h := newHarness(t)
	me := h.signer.Address()
	env := h.submit(h.signer, "e1", "mint", "--amount", "5", "--recipient", me)
	h.append(env)

	p := h.processor(Config{})
	n, err := p.ProcessBatch(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, int64(5_000_000), h.balance(me))
	assert.Len(t, h.results(), 1)
	assert.Equal(t, []string{"mint:ok", "mint:duplicate"}, h.obs.all())
}

func TestSignerRateLimit(t *testing.T) {
	h := newHarness(t)
	other, err := crypto.NewSigner(otherKey, chainID)
	require.NoError(t, err)

	for i := range 3 {
		h.submit(h.signer, fmt.Sprintf("a%d", i), "get-height")
	}
	h.submit(other, "b0", "get-height")

	p := h.processor(Config{RateLimit: 2, RateWindow: time.Hour})
	_, err = p.ProcessBatch(h.ctx)
	require.NoError(t, err)

	res := h.results()
	require.Len(t, res, 4)
	assert.True(t, res[0].OK)
	assert.True(t, res[1].OK)
	assert.Equal(t, "rate_limited", res[2].ErrorCode)
	assert.True(t, res[3].OK)
	assert.Equal(t, other.Address(), res[3].Caller)
}

func TestThrottledEnvelopeRunsAfterWindow(t *testing.T) {
	h := newHarness(t)
	h.submit(h.signer, "a0", "get-height")
	throttled := h.submit(h.signer, "a1", "get-height")

	p := h.processor(Config{RateLimit: 1, RateWindow: 50 * time.Millisecond})
	_, err := p.ProcessBatch(h.ctx)
	require.NoError(t, err)
	require.Len(t, h.results(), 2)
	assert.Equal(t, "rate_limited", h.results()[1].ErrorCode)

	time.Sleep(80 * time.Millisecond)
	h.append(throttled)
	_, err = p.ProcessBatch(h.ctx)
	require.NoError(t, err)

	res := h.results()
	require.Len(t, res, 3)
	assert.Equal(t, "a1", res[2].EnvelopeID)
	assert.True(t, res[2].OK)
	assert.Equal(t, []string{"get-height:ok", "get-height:rate_limited", "get-height:ok"}, h.obs.all())

	h.append(throttled)
	_, err = p.ProcessBatch(h.ctx)
	require.NoError(t, err)
	assert.Len(t, h.results(), 3)
}

func TestResumeForgetsThrottledEnvelopes(t *testing.T) {
	h := newHarness(t)
	h.submit(h.signer, "a0", "get-height")
	throttled := h.submit(h.signer, "a1", "get-height")

	first := h.processor(Config{RateLimit: 1, RateWindow: 50 * time.Millisecond})
	_, err := first.ProcessBatch(h.ctx)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	h.append(throttled)

	second := h.processor(Config{RateLimit: 1, RateWindow: 50 * time.Millisecond})
	require.NoError(t, second.Resume(h.ctx))
	_, err = second.ProcessBatch(h.ctx)
	require.NoError(t, err)

	res := h.results()
	require.Len(t, res, 3)
	assert.Equal(t, "a1", res[2].EnvelopeID)
	assert.True(t, res[2].OK)
}

func TestExecutedResults(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"", true},
		{"market_not_found", true},
		{"insufficient_balance", true},
		{"rate_limited", false},
		{"bad_signature", false},
		{"malformed_envelope", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, executed(domain.Result{EnvelopeID: "e", ErrorCode: tt.code}), tt.code)
	}
}

func TestResumeAfterRestart(t *testing.T) {
	h := newHarness(t)
	me := h.signer.Address()
	env := h.submit(h.signer, "e1", "mint", "--amount", "5", "--recipient", me)
	h.submit(h.signer, "e2", "advance-height", "--blocks", "3")

	first := h.processor(Config{})
	_, err := first.ProcessBatch(h.ctx)
	require.NoError(t, err)

	h.append(env)
	h.submit(h.signer, "e3", "get-height")

	second := h.processor(Config{})
	require.NoError(t, second.Resume(h.ctx))
	assert.Equal(t, "2-0", second.LastID())

	n, err := second.ProcessBatch(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, int64(5_000_000), h.balance(me))
	res := h.results()
	require.Len(t, res, 3)
	assert.Equal(t, "e3", res[2].EnvelopeID)
	assert.JSONEq(t, `{"height":3}`, string(res[2].Value))
}

func TestRunHoldsLeadership(t *testing.T) {
	h := newHarness(t)
	me := h.signer.Address()
	h.submit(h.signer, "e1", "mint", "--amount", "1", "--recipient", me)

	ctx, cancel := context.WithCancel(h.ctx)
	done := make(chan error, 1)
	p := h.processor(Config{PollInterval: 5 * time.Millisecond, LeaderTTL: time.Second})
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(h.results()) == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := h.locks.Acquire(h.ctx, DefaultLeaderKey, time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	h.submit(h.signer, "e2", "get-height")
	require.Eventually(t, func() bool { return len(h.results()) == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop")
	}

	lease, err := h.locks.Acquire(h.ctx, DefaultLeaderKey, time.Second)
	require.NoError(t, err)
	lease.Release()
}

func TestRunAdvancesHeight(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	p := h.processor(Config{PollInterval: 5 * time.Millisecond, BlockInterval: 5 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		height, err := h.engine.Chain.Height(h.ctx)
		return err == nil && height >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestDedup(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	assert.False(t, d.Seen("a"))
	assert.False(t, d.Seen("a"), "Seen must not record")
	d.Record("a")
	assert.True(t, d.Seen("a"))
	d.Record("b")

	now = now.Add(30 * time.Second)
	assert.True(t, d.Seen("a"))
	assert.Equal(t, 2, d.Cleanup())

	now = now.Add(31 * time.Second)
	assert.False(t, d.Seen("a"))
	assert.Equal(t, 0, d.Cleanup())
}
