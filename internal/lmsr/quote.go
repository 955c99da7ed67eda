package lmsr

import (
	"github.com/alanyoungcy/wagerwars/internal/domain"
	"github.com/alanyoungcy/wagerwars/internal/fixedpoint"
)

// QuoteBuy computes the shares of outcome i granted for a payment of amount
// (fee included). The fee is taken off the top and the remainder, net, buys
// the Δ that satisfies C(q + Δe_i) - C(q) = net.
func (e *Engine) QuoteBuy(q []int64, b int64, i int, amount int64) (domain.Quote, error) {
	if err := validate(q, b); err != nil {
		return domain.Quote{}, err
	}
	if i < 0 || i >= len(q) {
		return domain.Quote{}, domain.ErrInvalidOutcome
	}
	if amount <= 0 {
		return domain.Quote{}, domain.ErrInvalidAmount
	}

	fee, err := e.Fee(amount)
	if err != nil {
		return domain.Quote{}, wrapArith(err)
	}
	net := amount - fee

	var shares int64
	if len(q) == 2 {
		shares, err = binaryShares(q, b, i, net)
	} else {
		shares, err = searchShares(q, b, i, net)
	}
	if err != nil {
		return domain.Quote{}, wrapArith(err)
	}
	if shares <= 0 {
		return domain.Quote{}, domain.ErrZeroShares
	}

	return e.finishQuote(q, b, i, shares, fee, amount)
}

// QuoteSell computes the proceeds of removing shares from outcome i. The fee
// is charged on the gross amount C(q) - C(q - Δe_i).
func (e *Engine) QuoteSell(q []int64, b int64, i int, shares int64) (domain.Quote, error) {
	if err := validate(q, b); err != nil {
		return domain.Quote{}, err
	}
	if i < 0 || i >= len(q) {
		return domain.Quote{}, domain.ErrInvalidOutcome
	}
	if shares <= 0 {
		return domain.Quote{}, domain.ErrInvalidAmount
	}
	if shares > q[i] {
		return domain.Quote{}, domain.ErrInsufficientShares
	}

	base, err := cost(q, b)
	if err != nil {
		return domain.Quote{}, wrapArith(err)
	}
	delta, err := costDelta(q, b, i, -shares, base)
	if err != nil {
		return domain.Quote{}, wrapArith(err)
	}
	gross := -delta
	if gross < 0 {
		gross = 0
	}
	fee, err := e.Fee(gross)
	if err != nil {
		return domain.Quote{}, wrapArith(err)
	}

	return e.finishQuote(q, b, i, -shares, fee, gross-fee)
}

// finishQuote fills in average price and price impact for a trade that moves
// outcome i by delta shares.
func (e *Engine) finishQuote(q []int64, b int64, i int, delta, fee, total int64) (domain.Quote, error) {
	before, err := e.Price(q, b, i)
	if err != nil {
		return domain.Quote{}, err
	}
	after := append([]int64(nil), q...)
	after[i] += delta
	afterPrice, err := e.Price(after, b, i)
	if err != nil {
		return domain.Quote{}, err
	}

	shares := fixedpoint.Abs(delta)
	avg, err := fixedpoint.Div(total, shares)
	if err != nil {
		return domain.Quote{}, wrapArith(err)
	}
	var impact int64
	if before > 0 {
		if impact, err = fixedpoint.MulDiv(fixedpoint.Abs(afterPrice-before), 100*fixedpoint.Scale, before); err != nil {
			return domain.Quote{}, wrapArith(err)
		}
	}

	return domain.Quote{
		Shares:       shares,
		AveragePrice: avg,
		PriceImpact:  impact,
		Fee:          fee,
		Total:        total,
	}, nil
}

// binaryShares solves the two-outcome buy exactly. With z = e^{(q_j-q_i)/b}
// and w = e^{-net/b}:
//
//	Δ = net + b*ln(1 + z(1 - w))
//
// When q_j > q_i the factor z is pulled out of the logarithm so no exponent
// argument is ever positive:
//
//	Δ = net + b*(d + ln(e^{-d} + 1 - w)),  d = (q_j-q_i)/b
func binaryShares(q []int64, b int64, i int, net int64) (int64, error) {
	j := 1 - i
	s := fixedpoint.Scale

	netOverB, err := fixedpoint.Div(net, b)
	if err != nil {
		return 0, err
	}
	w, err := fixedpoint.Exp(-netOverB)
	if err != nil {
		return 0, err
	}
	d, err := fixedpoint.Div(q[j]-q[i], b)
	if err != nil {
		return 0, err
	}

	var logTerm int64
	if d <= 0 {
		z, err := fixedpoint.Exp(d)
		if err != nil {
			return 0, err
		}
		zw, err := fixedpoint.Mul(z, s-w)
		if err != nil {
			return 0, err
		}
		if logTerm, err = fixedpoint.Ln(s + zw); err != nil {
			return 0, err
		}
	} else {
		inv, err := fixedpoint.Exp(-d)
		if err != nil {
			return 0, err
		}
		arg := inv + s - w
		if arg <= 0 {
			return 0, nil
		}
		l, err := fixedpoint.Ln(arg)
		if err != nil {
			return 0, err
		}
		logTerm = d + l
	}

	bl, err := fixedpoint.Mul(b, logTerm)
	if err != nil {
		return 0, err
	}
	shares := net + bl
	if shares < 0 {
		shares = 0
	}
	return shares, nil
}

// searchShares finds the largest Δ (to within Tolerance) whose cost does not
// exceed net, by bisection with a fixed iteration budget. The loop invariant
// is cost(lo) <= net < cost(hi).
func searchShares(q []int64, b int64, i int, net int64) (int64, error) {
	base, err := cost(q, b)
	if err != nil {
		return 0, err
	}

	// C(q+Δe_i) >= q_i+Δ and C(q) <= max q + b*ln(n), so this upper bound
	// always costs more than net.
	qmax := q[0]
	for _, v := range q[1:] {
		if v > qmax {
			qmax = v
		}
	}
	lnN, err := fixedpoint.Ln(int64(len(q)) * fixedpoint.Scale)
	if err != nil {
		return 0, err
	}
	slack, err := fixedpoint.Mul(b, lnN)
	if err != nil {
		return 0, err
	}
	hi := net + (qmax - q[i]) + slack + fixedpoint.Scale
	if hi > MaxShares || hi < 0 {
		hi = MaxShares
	}

	top, err := costDelta(q, b, i, hi, base)
	if err != nil {
		return 0, err
	}
	if top < net {
		return 0, domain.ErrComputationFailed
	}

	lo := int64(0)
	for iter := 0; iter < MaxIterations && hi-lo > Tolerance; iter++ {
		mid := lo + (hi-lo)/2
		c, err := costDelta(q, b, i, mid, base)
		if err != nil {
			return 0, err
		}
		if c <= net {
			lo = mid
		} else {
			hi = mid
		}
	}
	if hi-lo > Tolerance {
		return 0, domain.ErrComputationFailed
	}
	return lo, nil
}
