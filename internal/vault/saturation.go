package vault

import (
	"github.com/holiman/uint256"

	"github.com/SIR-trading/Core-sub002/internal/model"
	"github.com/SIR-trading/Core-sub002/internal/tickmath"
)

// UpdateSaturation re-derives the saturation tick from a vault's
// post-operation reserve split. It is the single inversion point of the two
// zone formulas: the returned tick, stored and fed back through GetReserves
// at an unchanged price, reproduces (newApes, newLPers) within the 1-unit
// rounding tolerance.
//
// The boolean reports whether the result was clamped to the representable
// tick range; clamping saturates, it never wraps.
func UpdateSaturation(s *model.VaultState, newApes, newLPers *uint256.Int, tickPriceX42 int64) (int64, bool, error) {
	if err := validate(s, tickPriceX42); err != nil {
		return 0, false, err
	}
	if newApes.BitLen() > maxReserveBits || newLPers.BitLen() > maxReserveBits {
		return 0, false, ErrReserveOverflow
	}

	// Zero sides collapse to sentinels; an empty vault parks on the
	// all-LPers sentinel until the next deposit.
	if newApes.IsZero() {
		return model.SatTickAllLPers, false, nil
	}
	if newLPers.IsZero() {
		return model.SatTickAllApes, false, nil
	}

	total := new(uint256.Int).Add(newApes, newLPers)
	tier := s.LeverageTier

	if inPowerZone(newApes, newLPers, tier) {
		// Invert apes = ceil(total / (l * r^(l-1))):
		// r^(l-1) = total*lDen / (lNum*apes), then strip the exponent.
		lNum, lDen := leverageRatio(tier)
		num := new(uint256.Int).Mul(total, lDen)
		den := new(uint256.Int).Mul(lNum, newApes)
		rt, err := tickmath.RatioToTick(num, den)
		if err != nil {
			// Rounding pushed the split onto the zone boundary.
			return tickPriceX42, false, nil
		}
		diff := unscaleTick(rt, tier)
		sat := tickPriceX42 + diff
		if sat > tickmath.MaxTickX42 {
			return tickmath.MaxTickX42, true, nil
		}
		return sat, false, nil
	}

	// Invert lpers = ceil(total / (cf * R)): R = total*cfDen / (cfNum*lpers).
	cfNum, cfDen := collateralizationRatio(tier)
	num := new(uint256.Int).Mul(total, cfDen)
	den := new(uint256.Int).Mul(cfNum, newLPers)
	rt, err := tickmath.RatioToTick(num, den)
	if err != nil {
		return tickPriceX42, false, nil
	}
	sat := tickPriceX42 - rt
	if sat < -tickmath.MaxTickX42 {
		return -tickmath.MaxTickX42, true, nil
	}
	return sat, false, nil
}

// inPowerZone classifies a reserve split: the power zone holds while
// (l-1)*apes < lpers, evaluated by bit shift since l-1 is a power of two.
func inPowerZone(apes, lpers *uint256.Int, tier int8) bool {
	if tier >= 0 {
		scaled := new(uint256.Int).Lsh(apes, uint(tier))
		return scaled.Lt(lpers)
	}
	scaled := new(uint256.Int).Lsh(lpers, uint(-tier))
	return apes.Lt(scaled)
}

// unscaleTick divides a non-negative tick by 2^tier (the inverse of
// scaleTick), saturating at twice MaxTickX42 so the subsequent range clamp
// is the only place precision is lost.
func unscaleTick(rt int64, tier int8) int64 {
	const bound = 2 * tickmath.MaxTickX42
	if tier >= 0 {
		rt >>= uint(tier)
		if rt > bound {
			return bound
		}
		return rt
	}
	shift := uint(-tier)
	if rt > bound>>shift {
		return bound
	}
	return rt << shift
}
