package vault

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/SIR-trading/Core-sub002/internal/fees"
	"github.com/SIR-trading/Core-sub002/internal/model"
)

// Side selects which claim a deposit or withdrawal acts on.
type Side int

const (
	SideApe Side = iota
	SideLP
)

var (
	// ErrZeroAmount is returned when an operation carries no collateral.
	ErrZeroAmount = errors.New("amount must be non-zero")

	// ErrInsufficientReserve is returned when a withdrawal exceeds the
	// side's share of the reserve.
	ErrInsufficientReserve = errors.New("withdrawal exceeds side reserve")
)

// Result is the outcome of a completed vault transition: the post-operation
// split the balance-accounting collaborator persists, the fee routed to the
// treasury, and whether the recomputed saturation tick hit the range clamp.
type Result struct {
	Reserves model.Reserves
	Fee      *uint256.Int
	Clamped  bool
}

// Deposit applies a collateral deposit to one side of the vault: it derives
// the pre-operation split at the supplied price, splits the fee off the
// deposit, credits the remainder to the chosen side, and recomputes the
// saturation tick from the new totals. The state is only mutated once every
// step has succeeded, so a failed deposit leaves no partial state.
func Deposit(s *model.VaultState, side Side, amount *uint256.Int, tickPriceX42 int64, rateBps uint16) (Result, error) {
	if amount == nil || amount.IsZero() {
		return Result{}, ErrZeroAmount
	}

	pre, err := GetReserves(s, tickPriceX42)
	if err != nil {
		return Result{}, err
	}

	net, fee := fees.Split(amount, rateBps)

	apes := new(uint256.Int).Set(pre.Apes)
	lpers := new(uint256.Int).Set(pre.LPers)
	if side == SideApe {
		apes.Add(apes, net)
	} else {
		lpers.Add(lpers, net)
	}

	total := new(uint256.Int).Add(apes, lpers)
	if total.BitLen() > maxReserveBits {
		return Result{}, ErrReserveOverflow
	}

	sat, clamped, err := UpdateSaturation(s, apes, lpers, tickPriceX42)
	if err != nil {
		return Result{}, err
	}

	s.TotalReserve = total
	s.SaturationTickX42 = sat
	return Result{
		Reserves: model.Reserves{Apes: apes, LPers: lpers, TickPriceX42: tickPriceX42},
		Fee:      fee,
		Clamped:  clamped,
	}, nil
}

// Withdraw removes a gross amount of collateral from one side of the vault.
// The fee is carved out of the withdrawn amount, so the caller receives the
// net portion while the reserve drops by the full amount.
func Withdraw(s *model.VaultState, side Side, amount *uint256.Int, tickPriceX42 int64, rateBps uint16) (Result, error) {
	if amount == nil || amount.IsZero() {
		return Result{}, ErrZeroAmount
	}

	pre, err := GetReserves(s, tickPriceX42)
	if err != nil {
		return Result{}, err
	}

	apes := new(uint256.Int).Set(pre.Apes)
	lpers := new(uint256.Int).Set(pre.LPers)
	if side == SideApe {
		if apes.Lt(amount) {
			return Result{}, ErrInsufficientReserve
		}
		apes.Sub(apes, amount)
	} else {
		if lpers.Lt(amount) {
			return Result{}, ErrInsufficientReserve
		}
		lpers.Sub(lpers, amount)
	}

	_, fee := fees.Split(amount, rateBps)

	sat, clamped, err := UpdateSaturation(s, apes, lpers, tickPriceX42)
	if err != nil {
		return Result{}, err
	}

	s.TotalReserve = new(uint256.Int).Add(apes, lpers)
	s.SaturationTickX42 = sat
	return Result{
		Reserves: model.Reserves{Apes: apes, LPers: lpers, TickPriceX42: tickPriceX42},
		Fee:      fee,
		Clamped:  clamped,
	}, nil
}
