package tickmath

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func q128() *uint256.Int {
	one := uint256.NewInt(1)
	return new(uint256.Int).Lsh(one, 128)
}

func TestTickToRatioZero(t *testing.T) {
	ratio, err := TickToRatio(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ratio.Cmp(q128()) != 0 {
		t.Fatalf("ratio at tick 0 should be exactly 2^128, got %s", ratio)
	}
}

func TestTickToRatioOneWholeTick(t *testing.T) {
	// A single set bit walks exactly one ladder entry, so the result is the
	// constant for 1.0001 itself.
	ratio, err := TickToRatio(1 << FractionBits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := new(big.Int).SetString("100068db8bac710cb295e9e1b089a0275", 16)
	if ratio.ToBig().Cmp(want) != 0 {
		t.Fatalf("ratio at one whole tick mismatch: got %s want %s", ratio.ToBig(), want)
	}
}

func TestTickToRatioBounds(t *testing.T) {
	if _, err := TickToRatio(-1); err != ErrTickOutOfBounds {
		t.Fatalf("expected bounds error for negative tick, got %v", err)
	}
	if _, err := TickToRatio(MaxTickX42 + 1); err != ErrTickOutOfBounds {
		t.Fatalf("expected bounds error above MaxTickX42, got %v", err)
	}
	if _, err := TickToRatio(MaxTickX42); err != nil {
		t.Fatalf("MaxTickX42 itself must convert: %v", err)
	}
}

func TestRatioToTickDoubling(t *testing.T) {
	// log_1.0001(2) in X42 units equals the scaling constant exactly.
	tick, err := RatioToTick(uint256.NewInt(2), uint256.NewInt(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tick != 30486459612799146 {
		t.Fatalf("tick for ratio 2 mismatch: got %d", tick)
	}
}

func TestRatioToTickOneBip(t *testing.T) {
	tick, err := RatioToTick(uint256.NewInt(10001), uint256.NewInt(10000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	whole := int64(1) << FractionBits
	if tick != whole && tick != whole-1 {
		t.Fatalf("ratio 1.0001 should map to one whole tick (floor), got %d", tick)
	}
}

func TestRatioToTickEquality(t *testing.T) {
	tick, err := RatioToTick(uint256.NewInt(7), uint256.NewInt(7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tick != 0 {
		t.Fatalf("equal ratio must map to tick 0, got %d", tick)
	}
}

func TestRatioToTickRejectsBelowOne(t *testing.T) {
	if _, err := RatioToTick(uint256.NewInt(1), uint256.NewInt(2)); err != ErrRatioOutOfBounds {
		t.Fatalf("expected ratio bounds error, got %v", err)
	}
	if _, err := RatioToTick(uint256.NewInt(1), uint256.NewInt(0)); err != ErrRatioOutOfBounds {
		t.Fatalf("expected ratio bounds error for zero denominator, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	ticks := []int64{
		1,
		1 << 10,
		1 << FractionBits,
		(1 << FractionBits) * 100,
		(1 << FractionBits) * 7654,
		MaxTickX42 / 3,
		MaxTickX42,
	}
	den := q128()
	for _, tick := range ticks {
		ratio, err := TickToRatio(tick)
		if err != nil {
			t.Fatalf("TickToRatio(%d): %v", tick, err)
		}
		back, err := RatioToTick(ratio, den)
		if err != nil {
			t.Fatalf("RatioToTick(%d): %v", tick, err)
		}
		if back > tick || tick-back > 1 {
			t.Fatalf("round trip for tick %d drifted to %d", tick, back)
		}
	}
}

func TestMulDivRounding(t *testing.T) {
	a := uint256.NewInt(10)
	b := uint256.NewInt(10)
	den := uint256.NewInt(3)

	down, overflow := MulDiv(a, b, den)
	if overflow {
		t.Fatalf("unexpected overflow")
	}
	if down.Uint64() != 33 {
		t.Fatalf("MulDiv rounded wrong: %d", down.Uint64())
	}

	up, overflow := MulDivRoundingUp(a, b, den)
	if overflow {
		t.Fatalf("unexpected overflow")
	}
	if up.Uint64() != 34 {
		t.Fatalf("MulDivRoundingUp rounded wrong: %d", up.Uint64())
	}

	exact, _ := MulDivRoundingUp(uint256.NewInt(6), uint256.NewInt(4), uint256.NewInt(8))
	if exact.Uint64() != 3 {
		t.Fatalf("exact division must not round up: %d", exact.Uint64())
	}
}

func TestMulDivZeroDenominator(t *testing.T) {
	if _, overflow := MulDiv(uint256.NewInt(1), uint256.NewInt(1), uint256.NewInt(0)); !overflow {
		t.Fatalf("zero denominator must flag overflow")
	}
}

func TestDivRoundingUp(t *testing.T) {
	got := DivRoundingUp(uint256.NewInt(7), uint256.NewInt(2))
	if got.Uint64() != 4 {
		t.Fatalf("DivRoundingUp(7,2) = %d", got.Uint64())
	}
	got = DivRoundingUp(uint256.NewInt(8), uint256.NewInt(2))
	if got.Uint64() != 4 {
		t.Fatalf("DivRoundingUp(8,2) = %d", got.Uint64())
	}
}
