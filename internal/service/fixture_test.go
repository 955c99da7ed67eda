package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/wagerwars/internal/cache/memory"
	"github.com/alanyoungcy/wagerwars/internal/domain"
	"github.com/alanyoungcy/wagerwars/internal/fixedpoint"
	storemem "github.com/alanyoungcy/wagerwars/internal/store/memory"
)

const s = fixedpoint.Scale

// addr returns a deterministic checksummed test address.
func addr(n int) string {
	return common.HexToAddress(fmt.Sprintf("0x%040x", n)).Hex()
}

var (
	alice  = addr(0xa11ce)
	bob    = addr(0xb0b)
	carol  = addr(0xca201)
	oracle = addr(0x0a11)
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	ledger *storemem.Ledger
	bus    *cachemem.SignalBus
	audit  *storemem.AuditStore
	eng    *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := storemem.NewLedger()
	bus := cachemem.NewSignalBus()
	audit := storemem.NewAuditStore()
	logger := discardLogger()

	eng := NewEngine(EngineDeps{
		Ledger:      ledger,
		MarketCache: cachemem.NewMarketCache(),
		PriceCache:  cachemem.NewPriceCache(),
		Bus:         bus,
		Audit:       audit,
		Logger:      logger,
	}, DefaultEngineConfig())

	return &fixture{t: t, ctx: context.Background(), ledger: ledger, bus: bus, audit: audit, eng: eng}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (f *fixture) fund(user string, amount int64) {
	f.t.Helper()
	_, err := f.eng.Custody.Mint(f.ctx, user, user, amount)
	require.NoError(f.t, err)
}

func (f *fixture) balance(user string) int64 {
	f.t.Helper()
	bal, err := f.eng.Custody.Balance(f.ctx, user)
	require.NoError(f.t, err)
	return bal
}

// authorize passes addr through both oracle gates at silver tier.
func (f *fixture) authorize(who string) {
	f.t.Helper()
	f.fund(who, domain.SilverBond+DefaultManagerStakeMin)
	_, err := f.eng.Oracles.RegisterOracle(f.ctx, who, domain.SilverBond)
	require.NoError(f.t, err)
	_, err = f.eng.Markets.RegisterManagerOracle(f.ctx, who, DefaultManagerStakeMin)
	require.NoError(f.t, err)
}

func (f *fixture) params() MarketParams {
	f.t.Helper()
	h, err := f.eng.Chain.Height(f.ctx)
	require.NoError(f.t, err)
	return MarketParams{
		Question:         "Will it rain tomorrow?",
		Category:         "weather",
		LockHeight:       h + 86400,
		ResolutionHeight: h + 172800,
		Oracle:           oracle,
		Liquidity:        10 * s,
	}
}

// binaryMarket creates a binary market by creator (funded with 1,000 units)
// resolved by the shared oracle.
func (f *fixture) binaryMarket(creator string) uint64 {
	f.t.Helper()
	f.fund(creator, 1_000*s)
	id, err := f.eng.Markets.CreateBinaryMarket(f.ctx, creator, f.params())
	require.NoError(f.t, err)
	return id
}

func (f *fixture) advance(blocks uint64) {
	f.t.Helper()
	_, err := f.eng.Chain.AdvanceHeight(f.ctx, blocks)
	require.NoError(f.t, err)
}

// conserved checks that balances, vaults, bonds and stakes account for the
// whole token supply.
func (f *fixture) conserved() {
	f.t.Helper()
	snap, err := f.eng.Snapshots.Capture(f.ctx)
	require.NoError(f.t, err)

	var total int64
	for _, b := range snap.Balances {
		total += b.Amount
	}
	for _, v := range snap.Vaults {
		total += v.Balance
	}
	for _, o := range snap.Oracles {
		total += o.Bond
	}
	for _, o := range snap.ManagerOracles {
		total += o.Stake
	}
	require.Equal(f.t, snap.TotalSupply, total)
}
