package oracle

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/SIR-trading/Core-sub002/internal/model"
)

// Observation is the cumulative pool state over a trailing window, as
// reported by the external liquidity source. When the pool's history is too
// short for the requested window, Window carries the seconds actually
// covered; the caller is expected to work with what it got and request more
// capacity, not to fail.
type Observation struct {
	// TickCumulativeDelta is accrued tick-seconds over the window.
	TickCumulativeDelta int64

	// SecondsPerLiquidityDeltaX128 is accrued seconds per unit of in-range
	// liquidity over the window, Q128.
	SecondsPerLiquidityDeltaX128 *uint256.Int

	// Window is the seconds actually covered, at most the requested span.
	Window uint32

	// Cardinality is the pool's current number of observation slots.
	Cardinality uint16
}

// PoolSource is the oracle's only external dependency: a per-fee-tier view
// of the liquidity pools for a token pair.
type PoolSource interface {
	// Exists reports whether a pool exists for the pair at the fee tier.
	Exists(ctx context.Context, tokenA, tokenB common.Address, tier model.FeeTier) (bool, error)

	// Observe returns cumulative observations over the last secondsAgo
	// seconds, shortening the window to the available history if needed.
	Observe(ctx context.Context, tokenA, tokenB common.Address, tier model.FeeTier, secondsAgo uint32) (Observation, error)

	// GrowObservations asks the pool to extend its observation history to at
	// least minCardinality slots.
	GrowObservations(ctx context.Context, tokenA, tokenB common.Address, tier model.FeeTier, minCardinality uint16) error
}

// EventSink receives observability events; emission failures are never
// allowed to fail the operation that produced the event.
type EventSink interface {
	PutEvent(event model.Event) error
}
