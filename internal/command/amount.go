package command

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerwars/internal/fixedpoint"
)

var (
	maxAmount = decimal.NewFromInt(math.MaxInt64)
	minAmount = decimal.NewFromInt(math.MinInt64)
)

// ParseAmount converts a human decimal ("12.5") into fixed-point units
// (12_500_000). With raw set the input is taken as units already.
func ParseAmount(s string, raw bool) (int64, error) {
	s = strings.TrimSpace(s)
	if raw {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("command: raw amount %q: %w", s, err)
		}
		return n, nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("command: amount %q: %w", s, err)
	}
	units := d.Shift(fixedpoint.Decimals)
	if !units.IsInteger() {
		return 0, fmt.Errorf("command: amount %q has more than %d decimal places", s, fixedpoint.Decimals)
	}
	if units.GreaterThan(maxAmount) || units.LessThan(minAmount) {
		return 0, fmt.Errorf("command: amount %q out of range", s)
	}
	return units.IntPart(), nil
}

// FormatAmount renders fixed-point units as a human decimal.
func FormatAmount(units int64) string {
	return decimal.New(units, -fixedpoint.Decimals).String()
}
