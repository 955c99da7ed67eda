// Package lmsr prices outcome shares with Hanson's Logarithmic Market Scoring
// Rule, entirely in fixed-point arithmetic.
//
//	C(q)  = b * ln(sum_j exp(q_j / b))
//	p_i   = exp(q_i / b) / sum_j exp(q_j / b)
//
// Both are evaluated in log-sum-exp form (shifted by max q) so the exponent
// arguments are never positive and never overflow.
package lmsr

import (
	"errors"
	"fmt"

	"github.com/alanyoungcy/wagerwars/internal/domain"
	"github.com/alanyoungcy/wagerwars/internal/fixedpoint"
)

const (
	// DefaultFeeBps is the protocol fee: 2% of the traded notional.
	DefaultFeeBps int64 = 200

	// MaxShares bounds the buy-quote search interval (1e9 shares).
	MaxShares int64 = 1_000_000_000 * fixedpoint.Scale

	// MaxIterations is the fixed bisection budget; 64 halvings always shrink
	// [0, MaxShares] below Tolerance.
	MaxIterations = 64

	// Tolerance is the bracket width, in fixed-point units, at which the
	// search stops.
	Tolerance int64 = 1
)

// Engine computes prices and quotes. It holds no market state and is safe
// for concurrent use.
type Engine struct {
	feeBps int64
}

// New returns an Engine charging feeBps basis points per trade.
func New(feeBps int64) *Engine {
	if feeBps < 0 {
		feeBps = 0
	}
	return &Engine{feeBps: feeBps}
}

// FeeBps returns the configured fee in basis points.
func (e *Engine) FeeBps() int64 { return e.feeBps }

// Fee returns the protocol fee charged on amount.
func (e *Engine) Fee(amount int64) (int64, error) {
	return fixedpoint.Bps(amount, e.feeBps)
}

func validate(q []int64, b int64) error {
	if b <= 0 {
		return domain.ErrInvalidLiquidity
	}
	if len(q) < 2 {
		return domain.ErrTooFewOutcomes
	}
	return nil
}

// weights returns max(q) and exp((q_j - max q)/b) for every outcome. Every
// weight lies in [0, Scale] and the largest equals Scale exactly.
func weights(q []int64, b int64) (int64, []int64, error) {
	qmax := q[0]
	for _, v := range q[1:] {
		if v > qmax {
			qmax = v
		}
	}
	w := make([]int64, len(q))
	for j, v := range q {
		arg, err := fixedpoint.Div(v-qmax, b)
		if err != nil {
			return 0, nil, err
		}
		if w[j], err = fixedpoint.Exp(arg); err != nil {
			return 0, nil, err
		}
	}
	return qmax, w, nil
}

func sum(vals []int64) int64 {
	var s int64
	for _, v := range vals {
		s += v
	}
	return s
}

// Prices returns the instantaneous price of every outcome. Each lies in
// [0, Scale]; together they sum to Scale minus at most len(q) units of
// rounding.
func (e *Engine) Prices(q []int64, b int64) ([]int64, error) {
	if err := validate(q, b); err != nil {
		return nil, err
	}
	_, w, err := weights(q, b)
	if err != nil {
		return nil, wrapArith(err)
	}
	total := sum(w)
	prices := make([]int64, len(w))
	for i, v := range w {
		if prices[i], err = fixedpoint.Div(v, total); err != nil {
			return nil, wrapArith(err)
		}
	}
	return prices, nil
}

// Price returns the instantaneous price of outcome i.
func (e *Engine) Price(q []int64, b int64, i int) (int64, error) {
	if i < 0 || i >= len(q) {
		return 0, domain.ErrInvalidOutcome
	}
	prices, err := e.Prices(q, b)
	if err != nil {
		return 0, err
	}
	return prices[i], nil
}

// Cost evaluates the cost function C(q).
func (e *Engine) Cost(q []int64, b int64) (int64, error) {
	if err := validate(q, b); err != nil {
		return 0, err
	}
	c, err := cost(q, b)
	if err != nil {
		return 0, wrapArith(err)
	}
	return c, nil
}

func cost(q []int64, b int64) (int64, error) {
	qmax, w, err := weights(q, b)
	if err != nil {
		return 0, err
	}
	l, err := fixedpoint.Ln(sum(w))
	if err != nil {
		return 0, err
	}
	bl, err := fixedpoint.Mul(b, l)
	if err != nil {
		return 0, err
	}
	return fixedpoint.Add(qmax, bl)
}

// Subsidy returns the market maker's worst-case loss b*ln(n), rounded up by
// one unit per outcome to absorb rounding in later trades.
func (e *Engine) Subsidy(outcomes int, b int64) (int64, error) {
	if b <= 0 {
		return 0, domain.ErrInvalidLiquidity
	}
	if outcomes < 2 {
		return 0, domain.ErrTooFewOutcomes
	}
	c, err := cost(make([]int64, outcomes), b)
	if err != nil {
		return 0, wrapArith(err)
	}
	return c + int64(outcomes), nil
}

// costDelta returns C(q + d*e_i) - base.
func costDelta(q []int64, b int64, i int, d, base int64) (int64, error) {
	shifted := append([]int64(nil), q...)
	next, err := fixedpoint.Add(shifted[i], d)
	if err != nil {
		return 0, err
	}
	shifted[i] = next
	c, err := cost(shifted, b)
	if err != nil {
		return 0, err
	}
	return c - base, nil
}

// wrapArith maps fixed-point failures onto the engine's arithmetic error.
func wrapArith(err error) error {
	if errors.Is(err, fixedpoint.ErrOverflow) || errors.Is(err, fixedpoint.ErrDomain) {
		return fmt.Errorf("lmsr: %v: %w", err, domain.ErrOverflow)
	}
	return err
}
