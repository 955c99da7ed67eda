package lmsr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerwars/internal/domain"
	"github.com/alanyoungcy/wagerwars/internal/fixedpoint"
)

const s = fixedpoint.Scale

func TestPricesUniformAtStart(t *testing.T) {
	e := New(DefaultFeeBps)

	p, err := e.Prices([]int64{0, 0}, 10*s)
	require.NoError(t, err)
	assert.Equal(t, []int64{500_000, 500_000}, p)

	p, err = e.Prices([]int64{0, 0, 0}, 10*s)
	require.NoError(t, err)
	assert.Equal(t, []int64{333_333, 333_333, 333_333}, p)

	p, err = e.Prices(make([]int64, 4), 20*s)
	require.NoError(t, err)
	assert.Equal(t, []int64{250_000, 250_000, 250_000, 250_000}, p)
}

func TestPricesSumToScale(t *testing.T) {
	e := New(DefaultFeeBps)
	states := [][]int64{
		{0, 0},
		{104_931_190, 0},
		{3 * s, 7 * s, 1 * s},
		{0, 0, 125_613_880, 0},
		{50 * s, 49 * s, 48 * s, 47 * s, 46 * s},
	}
	for _, q := range states {
		p, err := e.Prices(q, 10*s)
		require.NoError(t, err)
		var total int64
		for _, v := range p {
			assert.GreaterOrEqual(t, v, int64(0))
			assert.LessOrEqual(t, v, s)
			total += v
		}
		assert.InDelta(t, s, total, float64(len(q)), "prices %v", p)
	}
}

func TestPriceMonotonicInQuantity(t *testing.T) {
	tests := []struct {
		name   string
		q      []int64
		bought int
	}{
		{"binary", []int64{0, 0}, 0},
		{"binary second outcome", []int64{3 * s, 0}, 1},
		{"three outcomes", []int64{0, 2 * s, 4 * s}, 0},
		{"five outcomes", []int64{1 * s, 0, 3 * s, 2 * s, 5 * s}, 2},
	}
	e := New(DefaultFeeBps)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := append([]int64(nil), tt.q...)
			prev, err := e.Prices(q, 10*s)
			require.NoError(t, err)

			for step := 0; step < 12; step++ {
				q[tt.bought] += s
				next, err := e.Prices(q, 10*s)
				require.NoError(t, err)

				for j := range next {
					if j == tt.bought {
						assert.Greater(t, next[j], prev[j], "step %d outcome %d", step, j)
					} else {
						assert.Less(t, next[j], prev[j], "step %d outcome %d", step, j)
					}
				}
				prev = next
			}
		})
	}
}

func TestCostAndSubsidy(t *testing.T) {
	e := New(DefaultFeeBps)

	c, err := e.Cost([]int64{0, 0}, 10*s)
	require.NoError(t, err)
	assert.Equal(t, int64(6_931_470), c)

	c, err = e.Cost(make([]int64, 4), 20*s)
	require.NoError(t, err)
	assert.Equal(t, int64(27_725_880), c)

	sub, err := e.Subsidy(2, 10*s)
	require.NoError(t, err)
	assert.Equal(t, int64(6_931_472), sub)
}

func TestQuoteBuyBinary(t *testing.T) {
	e := New(DefaultFeeBps)
	q := []int64{0, 0}

	quote, err := e.QuoteBuy(q, 10*s, 0, 100*s)
	require.NoError(t, err)

	assert.Equal(t, 2*s, quote.Fee)
	assert.Equal(t, 100*s, quote.Total)
	assert.Equal(t, int64(104_931_190), quote.Shares)
	assert.Equal(t, int64(953_005), quote.AveragePrice)
	assert.Equal(t, int64(99_994_600), quote.PriceImpact)

	p, err := e.Prices([]int64{quote.Shares, 0}, 10*s)
	require.NoError(t, err)
	assert.Equal(t, []int64{999_973, 26}, p)
}

func TestBinaryClosedFormMatchesSearch(t *testing.T) {
	tests := []struct {
		name string
		q    []int64
		i    int
		net  int64
	}{
		{"balanced", []int64{0, 0}, 0, 98 * s},
		{"small", []int64{0, 0}, 1, 980_000},
		{"buy the cheap side", []int64{0, 30 * s}, 0, 98 * s},
		{"buy the expensive side", []int64{30 * s, 0}, 0, 98 * s},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			closed, err := binaryShares(tt.q, 10*s, tt.i, tt.net)
			require.NoError(t, err)
			searched, err := searchShares(tt.q, 10*s, tt.i, tt.net)
			require.NoError(t, err)
			assert.InDelta(t, searched, closed, 50)

			base, err := cost(tt.q, 10*s)
			require.NoError(t, err)
			spent, err := costDelta(tt.q, 10*s, tt.i, closed, base)
			require.NoError(t, err)
			assert.LessOrEqual(t, spent, tt.net)
			assert.InDelta(t, tt.net, spent, 50)
		})
	}
}

func TestQuoteBuyCategorical(t *testing.T) {
	e := New(DefaultFeeBps)
	q := make([]int64, 4)

	quote, err := e.QuoteBuy(q, 20*s, 2, 100*s)
	require.NoError(t, err)
	assert.Equal(t, int64(125_613_880), quote.Shares)

	q[2] = quote.Shares
	p, err := e.Prices(q, 20*s)
	require.NoError(t, err)
	assert.Equal(t, []int64{1_861, 1_861, 994_415, 1_861}, p)
}

func TestBuySellRoundTripLosesAtMostFees(t *testing.T) {
	e := New(DefaultFeeBps)
	q := []int64{0, 0}

	buy, err := e.QuoteBuy(q, 10*s, 0, 100*s)
	require.NoError(t, err)

	sell, err := e.QuoteSell([]int64{buy.Shares, 0}, 10*s, 0, buy.Shares)
	require.NoError(t, err)
	assert.Equal(t, int64(1_959_999), sell.Fee)
	assert.Equal(t, int64(96_039_981), sell.Total)

	loss := buy.Total - sell.Total
	assert.Positive(t, loss)
	assert.LessOrEqual(t, loss, 2*buy.Fee)
}

func TestTinyBuyStillYieldsShares(t *testing.T) {
	e := New(DefaultFeeBps)
	quote, err := e.QuoteBuy([]int64{0, 0}, 10*s, 0, 1)
	require.NoError(t, err)
	assert.Zero(t, quote.Fee)
	assert.Equal(t, int64(1), quote.Shares)
}

func TestQuoteErrors(t *testing.T) {
	e := New(DefaultFeeBps)

	_, err := e.QuoteBuy([]int64{0, 0}, 0, 0, s)
	assert.ErrorIs(t, err, domain.ErrInvalidLiquidity)

	_, err = e.QuoteBuy([]int64{0, 0}, 10*s, 2, s)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	_, err = e.QuoteBuy([]int64{0, 0}, 10*s, 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = e.QuoteBuy([]int64{0}, 10*s, 0, s)
	assert.ErrorIs(t, err, domain.ErrTooFewOutcomes)

	_, err = e.QuoteSell([]int64{5 * s, 0}, 10*s, 0, 6*s)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)

	_, err = e.Price([]int64{0, 0}, 10*s, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestQuotesAreDeterministic(t *testing.T) {
	e := New(DefaultFeeBps)
	q := []int64{3 * s, 1 * s, 7 * s}
	first, err := e.QuoteBuy(q, 15*s, 1, 42*s)
	require.NoError(t, err)
	for range 5 {
		again, err := e.QuoteBuy(q, 15*s, 1, 42*s)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
