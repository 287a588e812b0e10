// Package tickmath converts between log-price ticks and linear price ratios.
//
// A tick is a signed fixed-point value with 42 fractional bits ("X42") such
// that price = 1.0001^(tick / 2^42). Conversions are bit-by-bit
// multiplicative ladders over precomputed integer constants; no floating
// point is used anywhere.
package tickmath

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// FractionBits is the number of fractional bits in an X42 tick.
	FractionBits = 42

	// MaxTickX42 is the largest supported tick: the ratio at MaxTickX42 is
	// the largest value that still fits in 64 integer bits, which bounds the
	// accumulated ladder rounding error and the Q128 product width.
	MaxTickX42 int64 = 1951133415219145403
)

// invLog2TickBase = floor(2^(42+64) / log2(1.0001)): scales a Q64 base-2 log
// into an X42 base-1.0001 tick at full precision (the product is shifted down
// by 128 bits).
var invLog2TickBase, _ = new(big.Int).SetString("562375918190788255292125632438069187", 10)

var (
	// ErrTickOutOfBounds is returned when a tick is negative or above MaxTickX42.
	ErrTickOutOfBounds = errors.New("tick out of bounds")

	// ErrRatioOutOfBounds is returned when the ratio is below one or the
	// denominator is zero.
	ErrRatioOutOfBounds = errors.New("ratio must be at least one")
)

// TickToRatio returns 1.0001^(tickX42 / 2^42) as a Q128 fixed-point ratio
// (value scaled by 2^128). The tick must lie in [0, MaxTickX42]; the sign of
// a negative tick is handled by the caller dividing by the positive ratio.
func TickToRatio(tickX42 int64) (*uint256.Int, error) {
	if tickX42 < 0 || tickX42 > MaxTickX42 {
		return nil, ErrTickOutOfBounds
	}

	ratio := new(big.Int).Lsh(big.NewInt(1), 128)
	bits := uint64(tickX42)
	for k := 0; bits != 0; k++ {
		if bits&1 != 0 {
			ratio.Mul(ratio, ratioLadder[k])
			ratio.Rsh(ratio, 128)
		}
		bits >>= 1
	}

	out, overflow := uint256.FromBig(ratio)
	if overflow {
		// Unreachable while MaxTickX42 caps the ratio at 2^192.
		return nil, ErrTickOutOfBounds
	}
	return out, nil
}

// RatioToTick returns floor(log_1.0001(num/den) * 2^42) for num >= den > 0.
// The result is always non-negative; callers reattach the sign when the true
// ratio is below one by swapping numerator and denominator.
func RatioToTick(num, den *uint256.Int) (int64, error) {
	if den.IsZero() || num.Lt(den) {
		return 0, ErrRatioOutOfBounds
	}

	// x = num * 2^64 / den, a Q64 value >= 2^64.
	x := new(big.Int).Lsh(num.ToBig(), 64)
	x.Div(x, den.ToBig())

	msb := x.BitLen() - 1
	log2 := new(big.Int).Lsh(big.NewInt(int64(msb-64)), 64)

	// Normalize to [2^63, 2^64) and extract 64 fractional bits of log2 by
	// iterated squaring.
	y := new(big.Int).Rsh(x, uint(msb-63))
	for bit := 63; bit >= 0; bit-- {
		y.Mul(y, y)
		y.Rsh(y, 63)
		if y.BitLen() > 64 {
			log2.SetBit(log2, bit, 1)
			y.Rsh(y, 1)
		}
	}

	tick := log2.Mul(log2, invLog2TickBase)
	tick.Rsh(tick, 128)
	return tick.Int64(), nil
}
