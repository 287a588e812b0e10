package oracle

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/SIR-trading/Core-sub002/internal/model"
)

// MaxFeeTiers caps the registry: four canonical tiers plus up to five
// admin-added ones. Entries are append-only and keep insertion order.
const MaxFeeTiers = 9

var (
	// ErrRegistryFull is returned when the fee-tier registry is at capacity.
	ErrRegistryFull = errors.New("fee tier registry is full")

	// ErrDuplicateFeeTier is returned when a tier's fee rate is already
	// registered.
	ErrDuplicateFeeTier = errors.New("fee tier already registered")

	// ErrInvalidFeeTier is returned for a zero fee rate or non-positive
	// tick granularity.
	ErrInvalidFeeTier = errors.New("invalid fee tier")
)

// DefaultFeeTiers returns the four canonical fee tiers with their matching
// tick granularities.
func DefaultFeeTiers() []model.FeeTier {
	return []model.FeeTier{
		{FeeRate: 100, TickSpacing: 1},
		{FeeRate: 500, TickSpacing: 10},
		{FeeRate: 3000, TickSpacing: 60},
		{FeeRate: 10000, TickSpacing: 200},
	}
}

// AddFeeTier appends an admin-extensible tier to the registry. Tiers are
// added exactly once and never removed.
func (o *Oracle) AddFeeTier(tier model.FeeTier) error {
	if tier.FeeRate == 0 || tier.TickSpacing <= 0 {
		return ErrInvalidFeeTier
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.tiers) >= MaxFeeTiers {
		return ErrRegistryFull
	}
	for _, existing := range o.tiers {
		if existing.FeeRate == tier.FeeRate {
			return ErrDuplicateFeeTier
		}
	}
	o.tiers = append(o.tiers, tier)
	return nil
}

// FeeTiers returns a copy of the registry in insertion order.
func (o *Oracle) FeeTiers() []model.FeeTier {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]model.FeeTier, len(o.tiers))
	copy(out, o.tiers)
	return out
}

// tierScore ranks a fee tier by its time-weighted in-range liquidity scaled
// by feeRate/tickSpacing: deeper and more expensive-to-move pools score
// higher. With weighted set, the score is additionally multiplied by the
// window duration, favoring tiers with a full history; the probe path
// disables that to avoid biasing against newly deepened pools.
func tierScore(tier model.FeeTier, obs Observation, weighted bool) *uint256.Int {
	if obs.Window == 0 || obs.SecondsPerLiquidityDeltaX128 == nil || obs.SecondsPerLiquidityDeltaX128.IsZero() {
		return new(uint256.Int)
	}

	// avgLiquidity = window * 2^128 / secondsPerLiquidityDelta
	score := new(uint256.Int).Lsh(uint256.NewInt(uint64(obs.Window)), 128)
	score.Div(score, obs.SecondsPerLiquidityDeltaX128)

	score.Mul(score, uint256.NewInt(uint64(tier.FeeRate)))
	score.Div(score, uint256.NewInt(uint64(tier.TickSpacing)))
	if weighted {
		score.Mul(score, uint256.NewInt(uint64(obs.Window)))
	}
	return score
}
