// Package engine ties the ledger together: it serializes vault transitions,
// consults the governance circuit breaker, prices collateral through the
// oracle, and persists the resulting snapshots. It owns no token balances;
// the hosting ledger moves funds, the engine only accounts for them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/SIR-trading/Core-sub002/internal/fees"
	"github.com/SIR-trading/Core-sub002/internal/model"
	"github.com/SIR-trading/Core-sub002/internal/storage"
	"github.com/SIR-trading/Core-sub002/internal/system"
	"github.com/SIR-trading/Core-sub002/internal/vault"
)

var (
	// ErrVaultNotFound is returned for an unknown vault ID.
	ErrVaultNotFound = errors.New("vault not found")

	// ErrVaultExists is returned when a vault with the same debt token,
	// collateral token and leverage tier already exists.
	ErrVaultExists = errors.New("vault already exists")

	// ErrMintsHalted is returned when governance has stopped deposits.
	ErrMintsHalted = errors.New("mints halted by system state")

	// ErrBurnsHalted is returned when governance has stopped withdrawals.
	ErrBurnsHalted = errors.New("burns halted by system state")
)

// PriceSource is the oracle surface the engine needs.
type PriceSource interface {
	Initialize(ctx context.Context, tokenA, tokenB common.Address) error
	GetPrice(ctx context.Context, tokenA, tokenB common.Address) (int64, error)
	UpdateState(ctx context.Context, tokenA, tokenB common.Address) (int64, error)
}

// StatusSource answers what the governance circuit breaker allows.
type StatusSource interface {
	Status() system.State
}

// Config holds the engine's fee schedule.
type Config struct {
	// BaseFeeBps is the ape mint/burn fee before leverage scaling.
	BaseFeeBps uint16

	// LPFeeBps is the flat LPer mint/burn fee.
	LPFeeBps uint16
}

type vaultKey struct {
	debt       common.Address
	collateral common.Address
	tier       int8
}

// Engine serializes all vault transitions behind a single mutex. Operations
// either complete fully, including persistence, or leave no trace in the
// in-memory book.
type Engine struct {
	mu     sync.Mutex
	logger *zap.Logger
	prices PriceSource
	status StatusSource
	store  storage.StateStore
	sink   storage.EventSink
	cfg    Config

	vaults      map[uint64]*model.VaultState
	byKey       map[vaultKey]uint64
	nextVaultID uint64

	// treasury tallies collected fees per collateral token.
	treasury map[common.Address]*uint256.Int

	now func() uint64
}

// New builds an Engine. The store and sink may be nil, in which case
// snapshots and events are simply not recorded.
func New(prices PriceSource, status StatusSource, store storage.StateStore, sink storage.EventSink, logger *zap.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:      logger,
		prices:      prices,
		status:      status,
		store:       store,
		sink:        sink,
		cfg:         cfg,
		vaults:      make(map[uint64]*model.VaultState),
		byKey:       make(map[vaultKey]uint64),
		nextVaultID: 1,
		treasury:    make(map[common.Address]*uint256.Int),
		now:         func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// Restore seeds the in-memory book from persisted snapshots.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	states, err := e.store.LoadVaultStates(ctx)
	if err != nil {
		return fmt.Errorf("load vault states: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range states {
		st := states[i]
		e.vaults[st.VaultID] = &st
		e.byKey[keyOf(&st)] = st.VaultID
		if st.VaultID >= e.nextVaultID {
			e.nextVaultID = st.VaultID + 1
		}
	}
	if len(states) > 0 {
		e.logger.Info("restored vault book", zap.Int("vaults", len(states)))
	}
	return nil
}

func keyOf(st *model.VaultState) vaultKey {
	return vaultKey{
		debt:       common.HexToAddress(st.DebtToken),
		collateral: common.HexToAddress(st.CollateralToken),
		tier:       st.LeverageTier,
	}
}

// CreateVault registers a new vault for the (debt, collateral, tier) triple
// and initializes the oracle for its pair. The vault starts empty with the
// whole (zero) reserve on the LPer side.
func (e *Engine) CreateVault(ctx context.Context, debtToken, collateralToken common.Address, leverageTier int8) (uint64, error) {
	if leverageTier < vault.MinLeverageTier || leverageTier > vault.MaxLeverageTier {
		return 0, vault.ErrLeverageTierOutOfRange
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := vaultKey{debt: debtToken, collateral: collateralToken, tier: leverageTier}
	if _, ok := e.byKey[key]; ok {
		return 0, ErrVaultExists
	}

	if err := e.prices.Initialize(ctx, collateralToken, debtToken); err != nil {
		return 0, fmt.Errorf("initialize oracle: %w", err)
	}

	st := &model.VaultState{
		VaultID:           e.nextVaultID,
		DebtToken:         debtToken.Hex(),
		CollateralToken:   collateralToken.Hex(),
		LeverageTier:      leverageTier,
		TotalReserve:      new(uint256.Int),
		SaturationTickX42: model.SatTickAllLPers,
	}
	if err := e.persistVault(ctx, st); err != nil {
		return 0, err
	}

	e.vaults[st.VaultID] = st
	e.byKey[key] = st.VaultID
	e.nextVaultID++

	e.logger.Info("vault created",
		zap.Uint64("vault_id", st.VaultID),
		zap.String("debt_token", st.DebtToken),
		zap.String("collateral_token", st.CollateralToken),
		zap.Int8("leverage_tier", leverageTier),
	)
	return st.VaultID, nil
}

// Deposit credits collateral to one side of a vault. The full transition,
// fee split, reserve update, saturation recomputation and persistence,
// happens under the engine lock; on any failure the book is unchanged.
func (e *Engine) Deposit(ctx context.Context, vaultID uint64, side vault.Side, amount *uint256.Int) (vault.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.vaults[vaultID]
	if !ok {
		return vault.Result{}, ErrVaultNotFound
	}
	if !e.status.Status().AllowsMints() {
		return vault.Result{}, ErrMintsHalted
	}

	price, err := e.prices.UpdateState(ctx, common.HexToAddress(st.CollateralToken), common.HexToAddress(st.DebtToken))
	if err != nil {
		return vault.Result{}, fmt.Errorf("price for vault %d: %w", vaultID, err)
	}

	working := cloneState(st)
	res, err := vault.Deposit(working, side, amount, price, e.feeRate(side, st.LeverageTier))
	if err != nil {
		return vault.Result{}, err
	}
	if err := e.persistVault(ctx, working); err != nil {
		return vault.Result{}, err
	}

	*st = *working
	e.creditTreasury(common.HexToAddress(st.CollateralToken), res.Fee)
	e.emitVaultEvents(st, res)
	return res, nil
}

// Withdraw removes collateral from one side of a vault. The fee comes out
// of the withdrawn amount.
func (e *Engine) Withdraw(ctx context.Context, vaultID uint64, side vault.Side, amount *uint256.Int) (vault.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.vaults[vaultID]
	if !ok {
		return vault.Result{}, ErrVaultNotFound
	}
	if !e.status.Status().AllowsBurns() {
		return vault.Result{}, ErrBurnsHalted
	}

	price, err := e.prices.UpdateState(ctx, common.HexToAddress(st.CollateralToken), common.HexToAddress(st.DebtToken))
	if err != nil {
		return vault.Result{}, fmt.Errorf("price for vault %d: %w", vaultID, err)
	}

	working := cloneState(st)
	res, err := vault.Withdraw(working, side, amount, price, e.feeRate(side, st.LeverageTier))
	if err != nil {
		return vault.Result{}, err
	}
	if err := e.persistVault(ctx, working); err != nil {
		return vault.Result{}, err
	}

	*st = *working
	e.creditTreasury(common.HexToAddress(st.CollateralToken), res.Fee)
	e.emitVaultEvents(st, res)
	return res, nil
}

// Reserves returns the vault's current split at the oracle's recorded price
// without mutating anything.
func (e *Engine) Reserves(ctx context.Context, vaultID uint64) (model.Reserves, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.vaults[vaultID]
	if !ok {
		return model.Reserves{}, ErrVaultNotFound
	}

	price, err := e.prices.GetPrice(ctx, common.HexToAddress(st.CollateralToken), common.HexToAddress(st.DebtToken))
	if err != nil {
		return model.Reserves{}, fmt.Errorf("price for vault %d: %w", vaultID, err)
	}
	return vault.GetReserves(st, price)
}

// VaultStates returns a snapshot of all vaults, ordered by ID.
func (e *Engine) VaultStates() []model.VaultState {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.VaultState, 0, len(e.vaults))
	for id := uint64(1); id < e.nextVaultID; id++ {
		if st, ok := e.vaults[id]; ok {
			out = append(out, *cloneState(st))
		}
	}
	return out
}

// TreasuryBalance returns the fees collected so far in the given token.
func (e *Engine) TreasuryBalance(token common.Address) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if bal, ok := e.treasury[token]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

func (e *Engine) feeRate(side vault.Side, leverageTier int8) uint16 {
	if side == vault.SideApe {
		return fees.ApeRateBps(e.cfg.BaseFeeBps, leverageTier)
	}
	return e.cfg.LPFeeBps
}

func (e *Engine) creditTreasury(token common.Address, fee *uint256.Int) {
	if fee == nil || fee.IsZero() {
		return
	}
	bal, ok := e.treasury[token]
	if !ok {
		bal = new(uint256.Int)
		e.treasury[token] = bal
	}
	bal.Add(bal, fee)
}

func (e *Engine) persistVault(ctx context.Context, st *model.VaultState) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.UpsertVaultStates(ctx, []model.VaultState{*st}); err != nil {
		return fmt.Errorf("persist vault %d: %w", st.VaultID, err)
	}
	return nil
}

func (e *Engine) emitVaultEvents(st *model.VaultState, res vault.Result) {
	now := e.now()
	e.emit(model.Event{
		Kind:         model.EventVaultUpdated,
		Timestamp:    now,
		VaultID:      st.VaultID,
		TickX42:      res.Reserves.TickPriceX42,
		TotalReserve: st.TotalReserve.Dec(),
		ReserveApes:  res.Reserves.Apes.Dec(),
		ReserveLPers: res.Reserves.LPers.Dec(),
	})
	if res.Clamped {
		e.emit(model.Event{
			Kind:      model.EventSaturationClamp,
			Timestamp: now,
			VaultID:   st.VaultID,
			TickX42:   st.SaturationTickX42,
			Detail:    "saturation tick clamped to tick range",
		})
	}
}

func (e *Engine) emit(event model.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.PutEvent(event); err != nil {
		e.logger.Warn("event emission failed", zap.String("kind", event.Kind), zap.Error(err))
	}
}

func cloneState(st *model.VaultState) *model.VaultState {
	cp := *st
	cp.TotalReserve = new(uint256.Int).Set(st.TotalReserve)
	return &cp
}
