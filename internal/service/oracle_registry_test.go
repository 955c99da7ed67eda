package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

func TestRegisterOracleTiers(t *testing.T) {
	tests := []struct {
		name string
		bond int64
		tier domain.OracleTier
	}{
		{"bronze", domain.BronzeBond, domain.OracleTierBronze},
		{"between bronze and silver", 3 * s, domain.OracleTierBronze},
		{"silver", domain.SilverBond, domain.OracleTierSilver},
		{"gold", domain.GoldBond, domain.OracleTierGold},
		{"above gold", 50 * s, domain.OracleTierGold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.fund(oracle, 100*s)

			o, err := f.eng.Oracles.RegisterOracle(f.ctx, oracle, tt.bond)
			require.NoError(t, err)
			assert.Equal(t, tt.tier, o.Tier)
			assert.Equal(t, tt.bond, o.Bond)
			assert.Equal(t, 100*s-tt.bond, f.balance(oracle))
			f.conserved()
		})
	}
}

func TestRegisterOracleRejectsLowBond(t *testing.T) {
	f := newFixture(t)
	f.fund(oracle, 100*s)

	_, err := f.eng.Oracles.RegisterOracle(f.ctx, oracle, domain.BronzeBond-1)
	require.ErrorIs(t, err, domain.ErrBondTooLow)
	assert.Equal(t, 100*s, f.balance(oracle))

	_, ok, err := f.eng.Oracles.GetOracle(f.ctx, oracle)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegisterOracleNeedsFunds(t *testing.T) {
	f := newFixture(t)
	f.fund(oracle, s/2)

	_, err := f.eng.Oracles.RegisterOracle(f.ctx, oracle, domain.BronzeBond)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestRegisterOracleTopUpRaisesTier(t *testing.T) {
	f := newFixture(t)
	f.fund(oracle, 100*s)

	o, err := f.eng.Oracles.RegisterOracle(f.ctx, oracle, 2*s)
	require.NoError(t, err)
	assert.Equal(t, domain.OracleTierBronze, o.Tier)

	o, err = f.eng.Oracles.RegisterOracle(f.ctx, oracle, 3*s)
	require.NoError(t, err)
	assert.Equal(t, 5*s, o.Bond)
	assert.Equal(t, domain.OracleTierSilver, o.Tier)

	stats, err := f.eng.Oracles.GetOracleStats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalOracles)
	assert.Equal(t, int64(1), stats.Silver)
	assert.Equal(t, 5*s, stats.TotalBonded)
}

func TestRegistryAuthorization(t *testing.T) {
	f := newFixture(t)
	f.fund(oracle, 10*s)

	ok, err := f.eng.Oracles.IsOracleAuthorized(f.ctx, oracle)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.eng.Oracles.RegisterOracle(f.ctx, oracle, domain.BronzeBond)
	require.NoError(t, err)

	ok, err = f.eng.Oracles.IsOracleAuthorized(f.ctx, oracle)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.eng.Oracles.IsOracleAuthorized(f.ctx, "garbage")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolutionIsCounted(t *testing.T) {
	f := newFixture(t)
	f.authorize(oracle)
	id := f.binaryMarket(alice)
	f.advance(172800)

	require.NoError(t, f.eng.Markets.ResolveMarket(f.ctx, oracle, id, 0))

	o, ok, err := f.eng.Oracles.GetOracle(f.ctx, oracle)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), o.Resolutions)
	assert.Equal(t, s, o.SuccessRate())
}
