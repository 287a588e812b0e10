// Package fees computes the protocol fee retained from deposits and
// withdrawals. The split is purely proportional; all policy lives in the
// configured rates.
package fees

import "github.com/holiman/uint256"

// BpsDenominator is the basis-point scale for fee rates.
const BpsDenominator = 10_000

// Split divides amount into the pass-through net portion and the retained
// fee. The fee is rounded down, so the net side absorbs the remainder and
// net + fee == amount always holds.
func Split(amount *uint256.Int, rateBps uint16) (net, fee *uint256.Int) {
	fee = new(uint256.Int).Mul(amount, uint256.NewInt(uint64(rateBps)))
	fee.Div(fee, uint256.NewInt(BpsDenominator))
	net = new(uint256.Int).Sub(amount, fee)
	return net, fee
}

// ApeRateBps scales the base fee rate by the vault's leverage-minus-one
// factor (2^leverageTier), so higher leverage tiers pay proportionally more
// on mint. The result is capped at 100%.
func ApeRateBps(baseBps uint16, leverageTier int8) uint16 {
	rate := uint64(baseBps)
	if leverageTier >= 0 {
		rate <<= uint(leverageTier)
	} else {
		rate >>= uint(-leverageTier)
	}
	if rate > BpsDenominator {
		rate = BpsDenominator
	}
	return uint16(rate)
}
