package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/wagerwars/internal/cache/memory"
	"github.com/alanyoungcy/wagerwars/internal/domain"
	storemem "github.com/alanyoungcy/wagerwars/internal/store/memory"
)

func TestCreateBinaryMarket(t *testing.T) {
	f := newFixture(t)
	f.authorize(oracle)
	id := f.binaryMarket(alice)
	assert.Equal(t, uint64(1), id)

	m, ok, err := f.eng.Markets.GetMarket(f.ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alice, m.Creator)
	assert.Equal(t, oracle, m.Oracle)
	assert.Equal(t, domain.MarketKindBinary, m.Kind)
	assert.Equal(t, domain.MarketStatusOpen, m.Status)
	assert.Equal(t, "weather", m.Category)
	require.Len(t, m.Outcomes, 2)
	assert.Equal(t, "Yes", m.Outcomes[0].Label)
	assert.Equal(t, "No", m.Outcomes[1].Label)
	assert.Equal(t, int64(6_931_472), m.Subsidy)

	assert.Equal(t, 1_000*s-6_931_472, f.balance(alice))
	bal, ok, err := f.eng.Vault.GetMarketBalance(f.ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(6_931_472), bal)

	prices, err := f.eng.Markets.GetPrices(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int64{500_000, 500_000}, prices)
	f.conserved()
}

func TestMarketIDsAreSequential(t *testing.T) {
	f := newFixture(t)
	f.authorize(oracle)

	for want, creator := range []string{alice, bob, carol, alice} {
		id := f.binaryMarket(creator)
		assert.Equal(t, uint64(want+1), id)
	}
	n, err := f.eng.Markets.GetMarketCount(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestCreateMarketValidation(t *testing.T) {
	tests := []struct {
		name   string
		caller string
		mutate func(p *MarketParams)
		want   error
	}{
		{"empty question", alice, func(p *MarketParams) { p.Question = "   " }, domain.ErrEmptyQuestion},
		{"zero liquidity", alice, func(p *MarketParams) { p.Liquidity = 0 }, domain.ErrInvalidLiquidity},
		{"lock after resolution", alice, func(p *MarketParams) { p.LockHeight = p.ResolutionHeight }, domain.ErrInvalidTiming},
		{"lock at current height", alice, func(p *MarketParams) { p.LockHeight = 0 }, domain.ErrLockInPast},
		{"horizon too short", alice, func(p *MarketParams) {
			p.LockHeight = 10
			p.ResolutionHeight = DefaultMinResolutionHorizon - 1
		}, domain.ErrHorizonTooShort},
		{"bad creator", "nobody", func(*MarketParams) {}, domain.ErrInvalidAddress},
		{"bad oracle", alice, func(p *MarketParams) { p.Oracle = "0xzz" }, domain.ErrInvalidAddress},
		{"unregistered oracle", alice, func(p *MarketParams) { p.Oracle = carol }, domain.ErrOracleNotRegistered},
		{"poor creator", bob, func(*MarketParams) {}, domain.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.authorize(oracle)
			f.fund(alice, 1_000*s)

			p := f.params()
			tt.mutate(&p)
			_, err := f.eng.Markets.CreateBinaryMarket(f.ctx, tt.caller, p)
			require.ErrorIs(t, err, tt.want)

			// A failed create consumes no id and moves no funds.
			assert.Equal(t, 1_000*s, f.balance(alice))
			id := f.binaryMarket(carol)
			assert.Equal(t, uint64(1), id)
		})
	}
}

func TestOracleNeedsBothGates(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 1_000*s)
	f.fund(oracle, domain.SilverBond+DefaultManagerStakeMin)

	_, err := f.eng.Oracles.RegisterOracle(f.ctx, oracle, domain.SilverBond)
	require.NoError(t, err)

	ok, err := f.eng.Markets.IsOracleAuthorized(f.ctx, oracle)
	require.NoError(t, err)
	assert.False(t, ok, "registry bond alone is not enough")

	_, err = f.eng.Markets.CreateBinaryMarket(f.ctx, alice, f.params())
	require.ErrorIs(t, err, domain.ErrOracleNotAuthorized)

	_, err = f.eng.Markets.RegisterManagerOracle(f.ctx, oracle, DefaultManagerStakeMin-1)
	require.ErrorIs(t, err, domain.ErrStakeTooLow)

	mo, err := f.eng.Markets.RegisterManagerOracle(f.ctx, oracle, DefaultManagerStakeMin)
	require.NoError(t, err)
	assert.Equal(t, DefaultManagerStakeMin, mo.Stake)
	assert.Zero(t, f.balance(oracle))

	ok, err = f.eng.Markets.IsOracleAuthorized(f.ctx, oracle)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.eng.Markets.CreateBinaryMarket(f.ctx, alice, f.params())
	require.NoError(t, err)
	f.conserved()
}

func TestManagerStakeWithoutBond(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 1_000*s)
	f.fund(oracle, DefaultManagerStakeMin)

	_, err := f.eng.Markets.RegisterManagerOracle(f.ctx, oracle, DefaultManagerStakeMin)
	require.NoError(t, err)

	_, err = f.eng.Markets.CreateBinaryMarket(f.ctx, alice, f.params())
	require.ErrorIs(t, err, domain.ErrOracleNotRegistered)
}

func TestCreateCategoricalMarket(t *testing.T) {
	f := newFixture(t)
	f.authorize(oracle)
	f.fund(alice, 1_000*s)

	p := f.params()
	p.Liquidity = 20 * s
	p.Category = ""
	id, err := f.eng.Markets.CreateCategoricalMarket(f.ctx, alice, p, []string{"Red", " Green ", "Blue", "Other"})
	require.NoError(t, err)

	m, _, err := f.eng.Markets.GetMarket(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketKindCategorical, m.Kind)
	assert.Equal(t, DefaultCategory, m.Category)
	assert.Equal(t, "Green", m.Outcomes[1].Label)

	want, err := f.eng.LMSR.Subsidy(4, 20*s)
	require.NoError(t, err)
	assert.Equal(t, want, m.Subsidy)

	prices, err := f.eng.Markets.GetPrices(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int64{250_000, 250_000, 250_000, 250_000}, prices)
}

func TestCreateCategoricalMarketRejections(t *testing.T) {
	f := newFixture(t)
	f.authorize(oracle)
	f.fund(alice, 1_000*s)

	_, err := f.eng.Markets.CreateCategoricalMarket(f.ctx, alice, f.params(), []string{"Only"})
	assert.ErrorIs(t, err, domain.ErrTooFewOutcomes)

	many := make([]string, DefaultMaxOutcomes+1)
	for i := range many {
		many[i] = string(rune('A' + i))
	}
	_, err = f.eng.Markets.CreateCategoricalMarket(f.ctx, alice, f.params(), many)
	assert.ErrorIs(t, err, domain.ErrTooManyOutcomes)

	_, err = f.eng.Markets.CreateCategoricalMarket(f.ctx, alice, f.params(), []string{"A", " "})
	assert.ErrorIs(t, err, domain.ErrEmptyOutcomeLabel)
}

func TestCreateScalarMarket(t *testing.T) {
	f := newFixture(t)
	f.authorize(oracle)
	f.fund(alice, 1_000*s)

	id, err := f.eng.Markets.CreateScalarMarket(f.ctx, alice, f.params(), domain.ScalarRange{Min: 0, Max: 100, Unit: "mm", Buckets: 4})
	require.NoError(t, err)
	m, _, err := f.eng.Markets.GetMarket(f.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, m.Scalar)
	labels := make([]string, len(m.Outcomes))
	for i, o := range m.Outcomes {
		labels[i] = o.Label
	}
	assert.Equal(t, []string{"[0, 25) mm", "[25, 50) mm", "[50, 75) mm", "[75, 100] mm"}, labels)

	id, err = f.eng.Markets.CreateScalarMarket(f.ctx, alice, f.params(), domain.ScalarRange{Min: -10, Max: 10})
	require.NoError(t, err)
	m, _, err = f.eng.Markets.GetMarket(f.ctx, id)
	require.NoError(t, err)
	require.Len(t, m.Outcomes, DefaultScalarBuckets)
	assert.Equal(t, "[-10, 0)", m.Outcomes[0].Label)
	assert.Equal(t, "[0, 10]", m.Outcomes[1].Label)

	_, err = f.eng.Markets.CreateScalarMarket(f.ctx, alice, f.params(), domain.ScalarRange{Min: 5, Max: 5})
	assert.ErrorIs(t, err, domain.ErrInvalidScalarRange)

	_, err = f.eng.Markets.CreateScalarMarket(f.ctx, alice, f.params(), domain.ScalarRange{Min: 0, Max: 3, Buckets: 4})
	assert.ErrorIs(t, err, domain.ErrInvalidScalarRange)
}

func TestCanTradeLifecycle(t *testing.T) {
	f := newFixture(t)
	f.authorize(oracle)
	id := f.binaryMarket(alice)

	ok, err := f.eng.Markets.CanTrade(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	f.advance(86399)
	ok, err = f.eng.Markets.CanTrade(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	f.advance(1)
	ok, err = f.eng.Markets.CanTrade(f.ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "locked at lock height")

	ok, err = f.eng.Markets.CanTrade(f.ctx, 99)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveMarketChecks(t *testing.T) {
	f := newFixture(t)
	f.authorize(oracle)
	id := f.binaryMarket(alice)

	err := f.eng.Markets.ResolveMarket(f.ctx, oracle, 42, 0)
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)

	err = f.eng.Markets.ResolveMarket(f.ctx, alice, id, 0)
	assert.ErrorIs(t, err, domain.ErrNotResolver)

	err = f.eng.Markets.ResolveMarket(f.ctx, oracle, id, 0)
	assert.ErrorIs(t, err, domain.ErrTooEarly)

	pending, err := f.eng.Markets.GetPendingResolutions(f.ctx, oracle)
	require.NoError(t, err)
	assert.Empty(t, pending)

	f.advance(172800)
	pending, err = f.eng.Markets.GetPendingResolutions(f.ctx, oracle)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)

	err = f.eng.Markets.ResolveMarket(f.ctx, oracle, id, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	require.NoError(t, f.eng.Markets.ResolveMarket(f.ctx, oracle, id, 1))

	err = f.eng.Markets.ResolveMarket(f.ctx, oracle, id, 0)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	m, _, err := f.eng.Markets.GetMarket(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	require.NotNil(t, m.ResolvedOutcome)
	assert.Equal(t, 1, *m.ResolvedOutcome)

	pending, err = f.eng.Markets.GetPendingResolutions(f.ctx, oracle)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCancelMarketRefundsSubsidy(t *testing.T) {
	f := newFixture(t)
	f.authorize(oracle)
	id := f.binaryMarket(alice)

	err := f.eng.Markets.CancelMarket(f.ctx, bob, id)
	assert.ErrorIs(t, err, domain.ErrNotCreator)

	require.NoError(t, f.eng.Markets.CancelMarket(f.ctx, alice, id))
	assert.Equal(t, 1_000*s, f.balance(alice))

	bal, _, err := f.eng.Vault.GetMarketBalance(f.ctx, id)
	require.NoError(t, err)
	assert.Zero(t, bal)

	ok, err := f.eng.Markets.CanTrade(f.ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	err = f.eng.Markets.CancelMarket(f.ctx, alice, id)
	assert.ErrorIs(t, err, domain.ErrMarketCancelled)

	f.advance(172800)
	err = f.eng.Markets.ResolveMarket(f.ctx, oracle, id, 0)
	assert.ErrorIs(t, err, domain.ErrMarketCancelled)
	f.conserved()
}

func TestCancelMarketAfterTrade(t *testing.T) {
	f := newFixture(t)
	f.authorize(oracle)
	id := f.binaryMarket(alice)
	f.fund(bob, 10*s)

	_, err := f.eng.Orders.BuyShares(f.ctx, bob, id, 0, s, 0)
	require.NoError(t, err)

	err = f.eng.Markets.CancelMarket(f.ctx, alice, id)
	assert.ErrorIs(t, err, domain.ErrMarketHasTrades)
}

func TestPriceCacheFollowsTradeCount(t *testing.T) {
	f := newFixture(t)
	prices := f.eng.Markets.prices
	f.authorize(oracle)
	id := f.binaryMarket(alice)

	// A vector stamped with the current trade count is served as is.
	require.NoError(t, prices.SetPrices(f.ctx, id, []int64{1, 999_999}, 0))
	got, err := f.eng.Markets.GetPrices(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 999_999}, got)

	f.fund(bob, 200*s)
	_, err = f.eng.Orders.BuyShares(f.ctx, bob, id, 0, 100*s, 0)
	require.NoError(t, err)

	// Stale versions are recomputed.
	require.NoError(t, prices.SetPrices(f.ctx, id, []int64{1, 999_999}, 0))
	got, err = f.eng.Markets.GetPrices(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int64{999_973, 26}, got)

	p, err := f.eng.Markets.GetCurrentPrice(f.ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(26), p)

	_, err = f.eng.Markets.GetCurrentPrice(f.ctx, id, 5)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestListMarketsFilters(t *testing.T) {
	f := newFixture(t)
	f.authorize(oracle)
	f.fund(alice, 1_000*s)

	p := f.params()
	_, err := f.eng.Markets.CreateBinaryMarket(f.ctx, alice, p)
	require.NoError(t, err)
	p.Category = "sports"
	_, err = f.eng.Markets.CreateBinaryMarket(f.ctx, alice, p)
	require.NoError(t, err)
	_, err = f.eng.Markets.CreateCategoricalMarket(f.ctx, alice, p, []string{"A", "B", "C"})
	require.NoError(t, err)

	sports, err := f.eng.Markets.ListMarkets(f.ctx, domain.MarketFilter{Category: "sports"})
	require.NoError(t, err)
	assert.Len(t, sports, 2)

	cat, err := f.eng.Markets.ListMarkets(f.ctx, domain.MarketFilter{Kind: domain.MarketKindCategorical})
	require.NoError(t, err)
	require.Len(t, cat, 1)
	assert.Equal(t, uint64(3), cat[0].ID)

	page, err := f.eng.Markets.ListMarkets(f.ctx, domain.MarketFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, uint64(2), page[0].ID)

	_, ok, err := f.eng.Markets.GetMarket(f.ctx, 77)
	require.NoError(t, err)
	assert.False(t, ok)
}

// hookedLedger runs after once, right after the next View returns.
type hookedLedger struct {
	domain.Ledger
	after func()
}

func (l *hookedLedger) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	err := l.Ledger.View(ctx, fn)
	if h := l.after; h != nil {
		l.after = nil
		h()
	}
	return err
}

func TestGetMarketDoesNotCacheRacedRead(t *testing.T) {
	inner := storemem.NewLedger()
	ledger := &hookedLedger{Ledger: inner}
	cache := cachemem.NewMarketCache()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		ledger: inner,
		bus:    cachemem.NewSignalBus(),
		audit:  storemem.NewAuditStore(),
	}
	f.eng = NewEngine(EngineDeps{
		Ledger:      ledger,
		MarketCache: cache,
		Bus:         f.bus,
		Audit:       f.audit,
		Logger:      discardLogger(),
	}, DefaultEngineConfig())

	f.authorize(oracle)
	id := f.binaryMarket(alice)
	f.fund(bob, 100*s)
	require.NoError(t, cache.Invalidate(f.ctx, id))

	// A trade commits between the reader's ledger view and its cache fill.
	ledger.after = func() {
		_, err := f.eng.Orders.BuyShares(f.ctx, bob, id, 0, 10*s, 0)
		require.NoError(t, err)
	}
	raced, ok, err := f.eng.Markets.GetMarket(f.ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Zero(t, raced.TradeCount)

	_, err = cache.Get(f.ctx, id)
	assert.Error(t, err, "pre-trade row must not be cached")

	fresh, ok, err := f.eng.Markets.GetMarket(f.ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), fresh.TradeCount)

	cached, err := cache.Get(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cached.TradeCount)
}
