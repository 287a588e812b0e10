package model

import "github.com/holiman/uint256"

// Saturation tick sentinels. AllApes marks a vault whose reserve belongs
// entirely to the leveraged side; AllLPers the opposite. Both short-circuit
// the reserve split formulas.
const (
	SatTickAllApes  int64 = -1 << 63
	SatTickAllLPers int64 = 1<<63 - 1
)

// VaultState is the persisted state of a single vault, keyed by
// (debt token, collateral token, leverage tier). Only the total reserve and
// the saturation tick are stored; the per-side split is re-derived from them
// and the current price on every operation.
type VaultState struct {
	VaultID           uint64       `json:"vault_id"`
	DebtToken         string       `json:"debt_token"`
	CollateralToken   string       `json:"collateral_token"`
	LeverageTier      int8         `json:"leverage_tier"`
	TotalReserve      *uint256.Int `json:"total_reserve"`
	SaturationTickX42 int64        `json:"saturation_tick_x42"`
}

// Reserves is the derived split of a vault's reserve at a given price. It is
// computed on demand and never persisted.
type Reserves struct {
	Apes         *uint256.Int
	LPers        *uint256.Int
	TickPriceX42 int64
}
