package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

func TestUpdateCommitsAllWrites(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	err := l.Update(ctx, func(tx domain.Tx) error {
		id, err := tx.Chain().NextMarketID(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id)
		require.NoError(t, tx.Markets().Insert(ctx, domain.Market{ID: id, Question: "q", Outcomes: []domain.Outcome{{Index: 0}, {Index: 1}}}))
		require.NoError(t, tx.Balances().Set(ctx, "alice", 10))
		require.NoError(t, tx.Vaults().Save(ctx, domain.VaultAccount{MarketID: id, Balance: 5}))
		return tx.Trades().Insert(ctx, domain.Trade{ID: "t1", MarketID: id, User: "alice"})
	})
	require.NoError(t, err)

	err = l.View(ctx, func(tx domain.Tx) error {
		m, err := tx.Markets().Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "q", m.Question)

		bal, _ := tx.Balances().Get(ctx, "alice")
		assert.Equal(t, int64(10), bal)

		next, _ := tx.Chain().PeekMarketID(ctx)
		assert.Equal(t, uint64(2), next)

		trades, _ := tx.Trades().ListByMarket(ctx, 1, domain.ListOpts{})
		assert.Len(t, trades, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	boom := errors.New("boom")

	err := l.Update(ctx, func(tx domain.Tx) error {
		_, _ = tx.Chain().NextMarketID(ctx)
		_ = tx.Balances().Set(ctx, "alice", 10)
		_ = tx.Chain().SetHeight(ctx, 99)
		_ = tx.Trades().Insert(ctx, domain.Trade{ID: "t1", MarketID: 1})
		return boom
	})
	require.ErrorIs(t, err, boom)

	_ = l.View(ctx, func(tx domain.Tx) error {
		bal, _ := tx.Balances().Get(ctx, "alice")
		assert.Zero(t, bal)
		h, _ := tx.Chain().Height(ctx)
		assert.Zero(t, h)
		next, _ := tx.Chain().PeekMarketID(ctx)
		assert.Equal(t, uint64(1), next)
		all, _ := tx.Trades().All(ctx)
		assert.Empty(t, all)
		return nil
	})
}

func TestTransactionSeesItsOwnWrites(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	require.NoError(t, l.Update(ctx, func(tx domain.Tx) error {
		return tx.Balances().Set(ctx, "bob", 7)
	}))

	require.NoError(t, l.Update(ctx, func(tx domain.Tx) error {
		require.NoError(t, tx.Balances().Set(ctx, "bob", 0))
		require.NoError(t, tx.Balances().Set(ctx, "carol", 3))

		bal, _ := tx.Balances().Get(ctx, "bob")
		assert.Zero(t, bal)

		list, _ := tx.Balances().List(ctx)
		assert.Equal(t, []domain.Balance{{Address: "carol", Amount: 3}}, list)
		return nil
	}))
}

func TestStoresRejectNegativeBalances(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	err := l.Update(ctx, func(tx domain.Tx) error {
		return tx.Vaults().Save(ctx, domain.VaultAccount{MarketID: 1, Balance: -1})
	})
	assert.ErrorIs(t, err, domain.ErrVaultUnderflow)

	err = l.Update(ctx, func(tx domain.Tx) error {
		return tx.Balances().Set(ctx, "x", -1)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestZeroSharePositionIsRemoved(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	p := domain.Position{User: "alice", MarketID: 1, Outcome: 0, Shares: 5}

	require.NoError(t, l.Update(ctx, func(tx domain.Tx) error { return tx.Positions().Save(ctx, p) }))
	p.Shares = 0
	require.NoError(t, l.Update(ctx, func(tx domain.Tx) error { return tx.Positions().Save(ctx, p) }))

	_ = l.View(ctx, func(tx domain.Tx) error {
		_, err := tx.Positions().Get(ctx, p.Key())
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	})
}

func TestMarketListFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	require.NoError(t, l.Update(ctx, func(tx domain.Tx) error {
		for i := uint64(1); i <= 5; i++ {
			kind := domain.MarketKindBinary
			if i%2 == 0 {
				kind = domain.MarketKindCategorical
			}
			if err := tx.Markets().Insert(ctx, domain.Market{ID: i, Kind: kind, Status: domain.MarketStatusOpen}); err != nil {
				return err
			}
		}
		return nil
	}))

	_ = l.View(ctx, func(tx domain.Tx) error {
		bin, _ := tx.Markets().List(ctx, domain.MarketFilter{Kind: domain.MarketKindBinary})
		require.Len(t, bin, 3)
		assert.Equal(t, uint64(1), bin[0].ID)

		page, _ := tx.Markets().List(ctx, domain.MarketFilter{Limit: 2, Offset: 3})
		require.Len(t, page, 2)
		assert.Equal(t, uint64(4), page[0].ID)

		n, _ := tx.Markets().Count(ctx)
		assert.Equal(t, int64(5), n)
		return nil
	})
}

func TestInsertDuplicateMarket(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	err := l.Update(ctx, func(tx domain.Tx) error {
		require.NoError(t, tx.Markets().Insert(ctx, domain.Market{ID: 1}))
		return tx.Markets().Insert(ctx, domain.Market{ID: 1})
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestAuditStoreNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	require.NoError(t, s.Log(ctx, "a", nil))
	require.NoError(t, s.Log(ctx, "b", map[string]any{"k": 1}))

	entries, err := s.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].Event)
}
