package fixedpoint

import "math/bits"

const (
	// ExpMaxInput is the largest argument Exp accepts (20.0). e^20 * Scale
	// still leaves ample int64 headroom for downstream sums.
	ExpMaxInput int64 = 20 * Scale

	// ExpTerms and LnTerms are the fixed series lengths. Every evaluation runs
	// exactly this many iterations regardless of the argument.
	ExpTerms = 16
	LnTerms  = 12

	// Ln2 is ln(2) in fixed-point.
	Ln2 int64 = 693_147

	// precision is the internal working scale of the series (nine decimals).
	precision int64 = 1_000_000_000
	upscale   int64 = precision / Scale
	ln2Fine   int64 = 693_147_181
)

// expIntTable[n] = round(e^n * Scale) for n in [0, 20].
var expIntTable = [21]int64{
	1_000_000,
	2_718_282,
	7_389_056,
	20_085_537,
	54_598_150,
	148_413_159,
	403_428_793,
	1_096_633_158,
	2_980_957_987,
	8_103_083_928,
	22_026_465_795,
	59_874_141_715,
	162_754_791_419,
	442_413_392_009,
	1_202_604_284_165,
	3_269_017_372_472,
	8_886_110_520_508,
	24_154_952_753_575,
	65_659_969_137_331,
	178_482_300_963_187,
	485_165_195_409_790,
}

// Exp returns e^x.
//
// The argument is split into an integer part, looked up in a constant table,
// and a fractional part in [0, 1) evaluated by a Taylor series of exactly
// ExpTerms terms at nine-decimal working precision. Negative arguments are
// computed as 1/e^-x; arguments below -ExpMaxInput return 0. Arguments above
// ExpMaxInput return ErrOverflow.
func Exp(x int64) (int64, error) {
	if x == 0 {
		return Scale, nil
	}
	if x < 0 {
		if x < -ExpMaxInput {
			return 0, nil
		}
		pos, err := Exp(-x)
		if err != nil {
			return 0, err
		}
		return Div(Scale, pos)
	}
	if x > ExpMaxInput {
		return 0, ErrOverflow
	}

	n := x / Scale
	f := (x % Scale) * upscale

	term := precision
	sum := precision
	for i := int64(1); i <= ExpTerms; i++ {
		// term_i = term_{i-1} * f / i; both factors are below 1e10 so the
		// product stays inside int64.
		term = term * f / (precision * i)
		sum += term
	}
	return MulDiv(expIntTable[n], sum, precision)
}

// Ln returns the natural logarithm of x. x must be positive.
//
// x is normalised to m * 2^k with m in [1, 2), then
// ln(x) = k*ln(2) + 2*atanh((m-1)/(m+1)), the atanh series running for
// exactly LnTerms terms at nine-decimal working precision.
func Ln(x int64) (int64, error) {
	if x <= 0 {
		return 0, ErrDomain
	}

	var k int64
	var m int64 // m in [precision, 2*precision)
	switch {
	case x >= 2*Scale:
		shift := bits.Len64(uint64(x/Scale)) - 1
		k = int64(shift)
		mask := int64(1)<<shift - 1
		m = (x>>shift)*upscale + ((x&mask)*upscale)>>shift
	case x < Scale:
		shift := bits.Len64(uint64(Scale)) - bits.Len64(uint64(x))
		if x<<shift < Scale {
			shift++
		}
		k = -int64(shift)
		m = (x * upscale) << shift
	default:
		m = x * upscale
	}

	y := (m - precision) * precision / (m + precision)
	y2 := y * y / precision

	var sum int64
	term := y
	for i := int64(0); i < LnTerms; i++ {
		sum += term / (2*i + 1)
		term = term * y2 / precision
	}

	fine := k*ln2Fine + 2*sum
	return floorDiv(fine, upscale), nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
