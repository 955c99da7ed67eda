package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerwars/internal/command"
	"github.com/alanyoungcy/wagerwars/internal/config"
	"github.com/alanyoungcy/wagerwars/internal/crypto"
	"github.com/alanyoungcy/wagerwars/internal/domain"
)

const (
	devKey  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Store.Backend = "memory"
	cfg.Redis.Addr = ""
	cfg.S3.Bucket = ""
	cfg.Metrics.Enabled = false
	cfg.Wallet.PrivateKey = devKey
	return &cfg
}

func newTestApp(t *testing.T, cfg *config.Config, args ...string) (*App, *Dependencies, *bytes.Buffer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(cfg, logger, args)
	out := &bytes.Buffer{}
	a.out = out

	deps, cleanup, err := Wire(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return a, deps, out
}

func TestCommandModeHelp(t *testing.T) {
	a, deps, out := newTestApp(t, testConfig())
	require.NoError(t, a.CommandMode(context.Background(), deps))
	assert.Contains(t, out.String(), "buy-shares")
}

func TestCommandModeMint(t *testing.T) {
	a, deps, out := newTestApp(t, testConfig(), "mint", "--amount", "12.5", "--recipient", devAddr)
	require.NoError(t, a.CommandMode(context.Background(), deps))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, devAddr, got["address"])
	assert.Equal(t, "12.5", got["display"])

	bal, err := deps.Engine.Custody.Balance(context.Background(), devAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(12_500_000), bal)
}

func TestCommandModeFailure(t *testing.T) {
	a, deps, out := newTestApp(t, testConfig(), "resolve-market", "--market", "9", "--outcome", "0")
	err := a.CommandMode(context.Background(), deps)
	require.ErrorIs(t, err, ErrCommandFailed)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "market_not_found", got["code"])
	assert.Equal(t, "not_found", got["kind"])
}

func TestCommandModeWithoutWallet(t *testing.T) {
	cfg := testConfig()
	cfg.Wallet.PrivateKey = ""

	a, deps, out := newTestApp(t, cfg, "get-market-count")
	require.NoError(t, a.CommandMode(context.Background(), deps))
	assert.JSONEq(t, `{"count":0}`, out.String())

	a, deps, _ = newTestApp(t, cfg, "mint", "--amount", "1", "--recipient", devAddr)
	assert.ErrorIs(t, a.CommandMode(context.Background(), deps), command.ErrNoCaller)
}

func TestCommandModeUsageError(t *testing.T) {
	a, deps, _ := newTestApp(t, testConfig(), "mint", "--amount", "1")
	assert.ErrorIs(t, a.CommandMode(context.Background(), deps), command.ErrUsage)
}

func TestSubmitRequiresRedis(t *testing.T) {
	a, deps, _ := newTestApp(t, testConfig(), "submit", "get-height")
	err := a.CommandMode(context.Background(), deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.addr")
}

func TestSnapshotModeNeedsBucket(t *testing.T) {
	a, deps, _ := newTestApp(t, testConfig(), "export")
	err := a.SnapshotMode(context.Background(), deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3.bucket")
}

func TestLedgerModeProcessesEnvelopes(t *testing.T) {
	cfg := testConfig()
	cfg.Ledger.PollInterval.Duration = 5 * time.Millisecond
	a, deps, _ := newTestApp(t, cfg)

	signer, err := crypto.NewSigner(devKey, cfg.Chain.ChainID)
	require.NoError(t, err)
	cmd, err := command.Parse([]string{"mint", "--amount", "3", "--recipient", devAddr})
	require.NoError(t, err)
	env := domain.Envelope{ID: "env-1", Command: cmd, Nonce: 1}
	require.NoError(t, signer.SignEnvelope(&env))
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, deps.Bus.StreamAppend(context.Background(), cfg.Ledger.CommandStream, payload))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.LedgerMode(ctx, deps) }()

	require.Eventually(t, func() bool {
		msgs, err := deps.Bus.StreamRead(context.Background(), cfg.Ledger.ResultStream, "0", 0)
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ledger mode did not stop")
	}

	bal, err := deps.Engine.Custody.Balance(context.Background(), devAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(3_000_000), bal)
}

func TestEngineConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.FeeBps = 0
	cfg.Engine.MaxOutcomes = 4
	cfg.Engine.PlatformVersion = ""

	ec := EngineConfig(cfg)
	assert.Equal(t, int64(0), ec.FeeBps)
	assert.Equal(t, 4, ec.Market.MaxOutcomes)
	assert.Equal(t, "1.0.0", ec.Version)
	assert.Equal(t, uint64(3600), ec.Market.MinResolutionHorizon)
}

func TestCommandModeEncryptKey(t *testing.T) {
	cfg := testConfig()
	cfg.Wallet.KeyPassword = "hunter2"
	path := filepath.Join(t.TempDir(), "wallet.json")

	a, deps, out := newTestApp(t, cfg, "encrypt-key", "--out", path)
	require.NoError(t, a.CommandMode(context.Background(), deps))

	var got walletWritten
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, path, got.Path)
	assert.Equal(t, devAddr, got.Address)

	signer, err := crypto.LoadSigner(crypto.KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"}, cfg.Chain.ChainID)
	require.NoError(t, err)
	assert.Equal(t, devAddr, signer.Address())

	// The wallet file then drives command mode on its own.
	walletCfg := testConfig()
	walletCfg.Wallet = config.WalletConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"}
	a, deps, _ = newTestApp(t, walletCfg, "get-height")
	require.NoError(t, a.CommandMode(context.Background(), deps))
	caller, err := a.caller()
	require.NoError(t, err)
	assert.Equal(t, devAddr, caller)
}

func TestCommandModeEncryptKeyErrors(t *testing.T) {
	cfg := testConfig()
	a, deps, _ := newTestApp(t, cfg, "encrypt-key")
	assert.ErrorIs(t, a.CommandMode(context.Background(), deps), command.ErrUsage)

	a, deps, _ = newTestApp(t, cfg, "encrypt-key", "--out", filepath.Join(t.TempDir(), "w.json"))
	assert.ErrorContains(t, a.CommandMode(context.Background(), deps), "key_password")

	cfg = testConfig()
	cfg.Wallet.PrivateKey = ""
	cfg.Wallet.KeyPassword = "pw"
	a, deps, _ = newTestApp(t, cfg, "encrypt-key", "--out", filepath.Join(t.TempDir(), "w.json"))
	assert.ErrorIs(t, a.CommandMode(context.Background(), deps), crypto.ErrNoKey)

	path := filepath.Join(t.TempDir(), "fresh.json")
	a, deps, out := newTestApp(t, cfg, "encrypt-key", "--out", path, "--generate")
	require.NoError(t, a.CommandMode(context.Background(), deps))
	var got walletWritten
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.NotEqual(t, devAddr, got.Address)
}
