// Package fixedpoint implements deterministic integer arithmetic on values
// scaled by Scale (six decimal places). No floating-point types are used: two
// processes evaluating the same expression always obtain the same int64.
package fixedpoint

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

// Scale is the fixed-point unit: the integer 1_000_000 represents 1.0.
const Scale int64 = 1_000_000

// Decimals is the number of decimal places represented by Scale.
const Decimals = 6

var (
	// ErrOverflow is returned when a result does not fit in an int64.
	ErrOverflow = errors.New("fixedpoint: overflow")
	// ErrDomain is returned for arguments outside a function's domain, such
	// as Ln of a non-positive value.
	ErrDomain = errors.New("fixedpoint: argument out of domain")
)

const (
	maxPosMag = uint64(math.MaxInt64)
	maxNegMag = uint64(math.MaxInt64) + 1
)

// FromInt converts a whole number into fixed-point.
func FromInt(n int64) (int64, error) {
	if n > math.MaxInt64/Scale || n < math.MinInt64/Scale {
		return 0, ErrOverflow
	}
	return n * Scale, nil
}

// ToInt truncates a fixed-point value towards zero.
func ToInt(x int64) int64 {
	return x / Scale
}

// Mul returns floor(a*b / Scale). The intermediate product is computed in
// 256 bits so it never overflows; only a result outside int64 fails.
func Mul(a, b int64) (int64, error) {
	return mulDiv(a, b, Scale)
}

// Div returns floor(a*Scale / b). Division by zero returns 0: callers that
// need to distinguish a zero denominator must check it themselves.
func Div(a, b int64) (int64, error) {
	if b == 0 {
		return 0, nil
	}
	return mulDiv(a, Scale, b)
}

// MustMul is Mul for operands the caller has already bounded.
func MustMul(a, b int64) int64 {
	v, err := Mul(a, b)
	if err != nil {
		panic(err)
	}
	return v
}

// MustDiv is Div for operands the caller has already bounded.
func MustDiv(a, b int64) int64 {
	v, err := Div(a, b)
	if err != nil {
		panic(err)
	}
	return v
}

// MulDiv returns floor(a*b / d) with a 256-bit intermediate. d must be non-zero.
func MulDiv(a, b, d int64) (int64, error) {
	if d == 0 {
		return 0, ErrDomain
	}
	return mulDiv(a, b, d)
}

func mulDiv(a, b, d int64) (int64, error) {
	neg := (a < 0) != (b < 0)
	if d < 0 {
		neg = !neg
	}
	if a == 0 || b == 0 {
		return 0, nil
	}

	prod := new(uint256.Int).Mul(uint256.NewInt(magnitude(a)), uint256.NewInt(magnitude(b)))
	quo, rem := new(uint256.Int).DivMod(prod, uint256.NewInt(magnitude(d)), new(uint256.Int))

	// Floor toward negative infinity, not toward zero.
	if neg && !rem.IsZero() {
		quo.AddUint64(quo, 1)
	}
	if !quo.IsUint64() {
		return 0, ErrOverflow
	}
	q := quo.Uint64()
	if neg {
		if q > maxNegMag {
			return 0, ErrOverflow
		}
		return int64(-q), nil
	}
	if q > maxPosMag {
		return 0, ErrOverflow
	}
	return int64(q), nil
}

// magnitude returns |v| as an unsigned value, including for math.MinInt64.
func magnitude(v int64) uint64 {
	if v < 0 {
		return uint64(^v) + 1
	}
	return uint64(v)
}

// Add returns a+b or ErrOverflow.
func Add(a, b int64) (int64, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, ErrOverflow
	}
	return s, nil
}

// Sub returns a-b or ErrOverflow.
func Sub(a, b int64) (int64, error) {
	d := a - b
	if (b > 0 && d > a) || (b < 0 && d < a) {
		return 0, ErrOverflow
	}
	return d, nil
}

// Abs returns |x|. math.MinInt64 saturates to math.MaxInt64.
func Abs(x int64) int64 {
	if x == math.MinInt64 {
		return math.MaxInt64
	}
	if x < 0 {
		return -x
	}
	return x
}

// Bps returns floor(amount * bps / 10_000).
func Bps(amount, bps int64) (int64, error) {
	return MulDiv(amount, bps, 10_000)
}
