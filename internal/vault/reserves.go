// Package vault implements the reserve/price-zone engine: the bijection
// between a vault's persisted (total reserve, saturation tick) pair and the
// instantaneous split of the reserve between the leveraged-long side ("apes")
// and the liquidity side ("LPers") at the current price.
//
// Below the saturation price the apes' share follows a power law of the
// price ratio (power zone); at or above it the LPers' share is pegged to the
// debt token (saturation zone). All arithmetic happens in the tick domain
// through internal/tickmath; nothing here touches floating point.
package vault

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/SIR-trading/Core-sub002/internal/model"
	"github.com/SIR-trading/Core-sub002/internal/tickmath"
)

// Supported leverage tier range. The tier parameterizes both the leverage
// multiplier 1+2^tier and the collateralization factor 1+2^-tier.
const (
	MinLeverageTier int8 = -3
	MaxLeverageTier int8 = 2
)

var (
	// ErrLeverageTierOutOfRange is returned for tiers outside [-3, 2].
	ErrLeverageTierOutOfRange = errors.New("leverage tier out of range")

	// ErrTickOutOfBounds is returned when a price tick is outside the
	// representable range.
	ErrTickOutOfBounds = errors.New("price tick out of bounds")

	// ErrReserveOverflow is returned when a reserve exceeds the supported
	// 128-bit width; this is a caller contract violation.
	ErrReserveOverflow = errors.New("reserve exceeds supported width")
)

// maxReserveBits bounds TotalReserve so every intermediate product fits the
// fixed-width arithmetic.
const maxReserveBits = 128

// leverageRatio returns the leverage multiplier 1+2^tier as an exact
// fraction (num/den); den is a power of two for negative tiers.
func leverageRatio(tier int8) (num, den *uint256.Int) {
	if tier >= 0 {
		return uint256.NewInt(1 + (1 << uint(tier))), uint256.NewInt(1)
	}
	shift := uint(-tier)
	return uint256.NewInt((1 << shift) + 1), uint256.NewInt(1 << shift)
}

// collateralizationRatio returns 1+2^-tier as an exact fraction.
func collateralizationRatio(tier int8) (num, den *uint256.Int) {
	return leverageRatio(-tier)
}

// scaleTick multiplies a non-negative tick difference by 2^tier (the
// leverage-minus-one exponent), saturating at MaxTickX42 so the result stays
// inside the tick engine's domain.
func scaleTick(diff int64, tier int8) int64 {
	if diff > tickmath.MaxTickX42 {
		diff = tickmath.MaxTickX42
	}
	if tier >= 0 {
		if diff > tickmath.MaxTickX42>>uint(tier) {
			return tickmath.MaxTickX42
		}
		return diff << uint(tier)
	}
	return diff >> uint(-tier)
}

func validate(s *model.VaultState, tickPriceX42 int64) error {
	if s.LeverageTier < MinLeverageTier || s.LeverageTier > MaxLeverageTier {
		return ErrLeverageTierOutOfRange
	}
	if tickPriceX42 < -tickmath.MaxTickX42 || tickPriceX42 > tickmath.MaxTickX42 {
		return ErrTickOutOfBounds
	}
	if s.TotalReserve.BitLen() > maxReserveBits {
		return ErrReserveOverflow
	}
	return nil
}

// GetReserves derives the (apes, LPers) split of the vault's reserve at the
// given price tick. It is pure and total over its documented domain: the
// same state and price always produce the same split, and
// apes + lpers == TotalReserve holds exactly.
func GetReserves(s *model.VaultState, tickPriceX42 int64) (model.Reserves, error) {
	if err := validate(s, tickPriceX42); err != nil {
		return model.Reserves{}, err
	}

	total := s.TotalReserve
	res := model.Reserves{
		Apes:         new(uint256.Int),
		LPers:        new(uint256.Int),
		TickPriceX42: tickPriceX42,
	}
	if total.IsZero() {
		return res, nil
	}

	switch s.SaturationTickX42 {
	case model.SatTickAllApes:
		res.Apes.Set(total)
		return res, nil
	case model.SatTickAllLPers:
		res.LPers.Set(total)
		return res, nil
	}

	if tickPriceX42 < s.SaturationTickX42 {
		// Power zone: apes = ceil(total / (l * (satPrice/price)^(l-1))).
		diff := saturatingDiff(s.SaturationTickX42, tickPriceX42)
		lNum, lDen := leverageRatio(s.LeverageTier)
		apes, err := dividedShare(total, scaleTick(diff, s.LeverageTier), lNum, lDen)
		if err != nil {
			return model.Reserves{}, err
		}
		res.Apes.Set(apes)
		res.LPers.Sub(total, apes)
		rebalanceFloor(res.LPers, res.Apes, total)
		return res, nil
	}

	// Saturation zone: lpers = ceil(total / (cf * (price/satPrice))).
	diff := saturatingDiff(tickPriceX42, s.SaturationTickX42)
	if diff > tickmath.MaxTickX42 {
		diff = tickmath.MaxTickX42
	}
	cfNum, cfDen := collateralizationRatio(s.LeverageTier)
	lpers, err := dividedShare(total, diff, cfNum, cfDen)
	if err != nil {
		return model.Reserves{}, err
	}
	res.LPers.Set(lpers)
	res.Apes.Sub(total, lpers)
	rebalanceFloor(res.Apes, res.LPers, total)
	return res, nil
}

// dividedShare computes ceil(total * 2^128 * factorDen / (ratio * factorNum))
// where ratio is the Q128 price ratio at scaledTick. Rounding up here and
// deriving the complement by subtraction is what keeps the split exactly
// conserved with the directional bias on the divided side.
func dividedShare(total *uint256.Int, scaledTick int64, factorNum, factorDen *uint256.Int) (*uint256.Int, error) {
	ratio, err := tickmath.TickToRatio(scaledTick)
	if err != nil {
		return nil, err
	}

	den := new(uint256.Int).Mul(ratio, factorNum)
	num := new(uint256.Int).Lsh(factorDen, 128)
	share, overflow := tickmath.MulDivRoundingUp(total, num, den)
	if overflow {
		return nil, ErrReserveOverflow
	}
	return share, nil
}

// rebalanceFloor enforces the 1-unit minimum on the subtracted side: a fully
// starved claim is disallowed, so one unit moves over from the divided side
// whenever the reserve can afford it.
func rebalanceFloor(subtracted, divided, total *uint256.Int) {
	if subtracted.IsZero() && total.CmpUint64(1) > 0 {
		subtracted.SetUint64(1)
		divided.SubUint64(divided, 1)
	}
}

// saturatingDiff returns a-b for a >= b, capped so it stays addressable by
// the tick engine after exponent scaling.
func saturatingDiff(a, b int64) int64 {
	d := a - b
	if d < 0 {
		// a-b overflowed int64; both inputs must already be in the tick
		// domain for this to be unreachable.
		return tickmath.MaxTickX42
	}
	return d
}
