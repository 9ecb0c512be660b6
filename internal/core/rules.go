package core

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// PrecisionDigits derives the truncation digit count from an exchange precision value,
// which may be a step size (0.001) or a digit count (8):
//
//	digits = |floor(log10(precision)) + 1| + 1
//
// floor(log10) is computed from the decimal coefficient and exponent, so powers of ten
// never land on the wrong side of an integer boundary.
func PrecisionDigits(precision decimal.Decimal) (int, error) {
	if precision.Sign() <= 0 {
		return 0, fmt.Errorf("%w: %w: precision must be > 0, got %s", ErrInvalidArgument, ErrInvalidPrecision, precision.String())
	}
	exp := floorLog10(precision) + 1
	if exp < 0 {
		exp = -exp
	}
	return exp + 1, nil
}

func floorLog10(v decimal.Decimal) int {
	coef := v.Coefficient()
	coef.Abs(coef)
	return int(v.Exponent()) + len(coef.String()) - 1
}

// Truncate cuts value to decimals fractional digits, toward zero.
func Truncate(value decimal.Decimal, decimals int) (decimal.Decimal, error) {
	if decimals < 0 {
		return decimal.Zero, fmt.Errorf("%w: decimal places must be >= 0, got %d", ErrInvalidArgument, decimals)
	}
	if decimals > math.MaxInt32 {
		return decimal.Zero, fmt.Errorf("%w: decimal places out of range: %d", ErrInvalidArgument, decimals)
	}
	return value.Truncate(int32(decimals)), nil
}

// TruncateFloat is Truncate for float64 callers. The value is taken at its shortest
// decimal representation, so no binary drift is amplified by the scaling.
func TruncateFloat(value float64, decimals int) (float64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: value must be finite", ErrInvalidArgument)
	}
	out, err := Truncate(decimal.NewFromFloat(value), decimals)
	if err != nil {
		return 0, err
	}
	f, _ := out.Float64()
	return f, nil
}

// RoundDown snaps value down to a multiple of step. A non-positive step leaves value untouched.
func RoundDown(value, step decimal.Decimal) decimal.Decimal {
	if step.Cmp(decimal.Zero) <= 0 {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}
