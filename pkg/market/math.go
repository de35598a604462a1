package market

import (
	"fmt"
	"math/bits"

	"validator_market/pkg/ledger"
)

// Fee and share computations must hard-abort on overflow, never saturate.

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%d + %d overflows: %w", a, b, ledger.ErrBeyondBounds)
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, fmt.Errorf("%d - %d underflows: %w", a, b, ledger.ErrBeyondBounds)
	}
	return diff, nil
}

func checkedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("%d * %d overflows: %w", a, b, ledger.ErrBeyondBounds)
	}
	return lo, nil
}

// checkedMulDiv computes a*b/den with a 128-bit intermediate, rounding down.
func checkedMulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, fmt.Errorf("division by zero: %w", ledger.ErrBeyondBounds)
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, fmt.Errorf("%d * %d / %d overflows: %w", a, b, den, ledger.ErrBeyondBounds)
	}
	quo, _ := bits.Div64(hi, lo, den)
	return quo, nil
}
