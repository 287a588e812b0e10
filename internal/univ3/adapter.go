// Package univ3 adapts Uniswap v3 factory and pool contracts to the pool
// source interface the oracle consumes. All reads go through eth_call; the
// adapter holds no keys and submits no transactions.
package univ3

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/SIR-trading/Core-sub002/internal/chain"
	"github.com/SIR-trading/Core-sub002/internal/model"
	"github.com/SIR-trading/Core-sub002/internal/oracle"
)

// minObserveWindow is the shortest span worth observing when a pool's
// history cannot cover the requested window.
const minObserveWindow = 60

// splModulus is 2^160; cumulative seconds-per-liquidity counters wrap at
// uint160 width and deltas must be taken modulo it.
var splModulus = new(big.Int).Lsh(big.NewInt(1), 160)

// Caller is the subset of the chain client the adapter reads through.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ Caller = (*chain.Client)(nil)

// PoolAdapter resolves pools through the factory and reads their observation
// history. It caches pool addresses, which are immutable once deployed.
type PoolAdapter struct {
	client  Caller
	factory common.Address
	logger  *zap.Logger

	mu    sync.RWMutex
	pools map[poolKey]common.Address
}

type poolKey struct {
	token0  common.Address
	token1  common.Address
	feeRate uint32
}

var _ oracle.PoolSource = (*PoolAdapter)(nil)

// NewPoolAdapter builds an adapter over the given factory contract.
func NewPoolAdapter(client Caller, factory common.Address, logger *zap.Logger) *PoolAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolAdapter{
		client:  client,
		factory: factory,
		logger:  logger,
		pools:   make(map[poolKey]common.Address),
	}
}

// Exists reports whether the factory has a pool for the pair at the tier
// with in-range liquidity. A deployed but empty pool cannot price anything
// and is treated as absent.
func (a *PoolAdapter) Exists(ctx context.Context, tokenA, tokenB common.Address, tier model.FeeTier) (bool, error) {
	pool, err := a.poolAddress(ctx, tokenA, tokenB, tier)
	if err != nil {
		return false, err
	}
	if pool == (common.Address{}) {
		return false, nil
	}

	parsed, err := PoolABI()
	if err != nil {
		return false, fmt.Errorf("parse pool abi: %w", err)
	}
	liquidity, err := a.poolLiquidity(ctx, pool, parsed)
	if err != nil {
		return false, err
	}
	return liquidity.Sign() > 0, nil
}

// Observe reads the pool's cumulative observations over the trailing window.
// When the pool's stored history is too short the contract reverts; the
// adapter then halves the window until the observation succeeds and reports
// the span actually covered.
func (a *PoolAdapter) Observe(ctx context.Context, tokenA, tokenB common.Address, tier model.FeeTier, secondsAgo uint32) (oracle.Observation, error) {
	pool, err := a.poolAddress(ctx, tokenA, tokenB, tier)
	if err != nil {
		return oracle.Observation{}, err
	}
	if pool == (common.Address{}) {
		return oracle.Observation{}, fmt.Errorf("no pool for pair at fee rate %d", tier.FeeRate)
	}

	parsed, err := PoolABI()
	if err != nil {
		return oracle.Observation{}, fmt.Errorf("parse pool abi: %w", err)
	}

	cardinality, err := a.observationCardinality(ctx, pool, parsed)
	if err != nil {
		return oracle.Observation{}, err
	}

	window := secondsAgo
	for {
		obs, err := a.observeWindow(ctx, pool, parsed, window)
		if err == nil {
			obs.Cardinality = cardinality
			return obs, nil
		}
		if !isHistoryTooShort(err) || window <= minObserveWindow {
			return oracle.Observation{}, err
		}
		window /= 2
		if window < minObserveWindow {
			window = minObserveWindow
		}
	}
}

// GrowObservations simulates increaseObservationCardinalityNext against the
// pool and logs the target. The adapter has no signer; submitting the
// transaction is the operator's job, the simulation confirms it would
// succeed.
func (a *PoolAdapter) GrowObservations(ctx context.Context, tokenA, tokenB common.Address, tier model.FeeTier, minCardinality uint16) error {
	pool, err := a.poolAddress(ctx, tokenA, tokenB, tier)
	if err != nil {
		return err
	}
	if pool == (common.Address{}) {
		return fmt.Errorf("no pool for pair at fee rate %d", tier.FeeRate)
	}

	parsed, err := PoolABI()
	if err != nil {
		return fmt.Errorf("parse pool abi: %w", err)
	}
	data, err := parsed.Pack("increaseObservationCardinalityNext", minCardinality)
	if err != nil {
		return fmt.Errorf("pack increaseObservationCardinalityNext: %w", err)
	}
	msg := ethereum.CallMsg{To: &pool, Data: data}
	if _, err := a.client.CallContract(ctx, msg, nil); err != nil {
		return fmt.Errorf("simulate cardinality growth: %w", err)
	}

	a.logger.Info("pool needs observation cardinality growth",
		zap.String("pool", pool.Hex()),
		zap.Uint32("fee_rate", tier.FeeRate),
		zap.Uint16("min_cardinality", minCardinality),
	)
	return nil
}

func (a *PoolAdapter) poolAddress(ctx context.Context, tokenA, tokenB common.Address, tier model.FeeTier) (common.Address, error) {
	token0, token1 := tokenA, tokenB
	if strings.ToLower(token0.Hex()) > strings.ToLower(token1.Hex()) {
		token0, token1 = token1, token0
	}
	key := poolKey{token0: token0, token1: token1, feeRate: tier.FeeRate}

	a.mu.RLock()
	pool, ok := a.pools[key]
	a.mu.RUnlock()
	if ok {
		return pool, nil
	}

	parsed, err := FactoryABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse factory abi: %w", err)
	}
	data, err := parsed.Pack("getPool", token0, token1, new(big.Int).SetUint64(uint64(tier.FeeRate)))
	if err != nil {
		return common.Address{}, fmt.Errorf("pack getPool: %w", err)
	}
	msg := ethereum.CallMsg{To: &a.factory, Data: data}
	resp, err := a.client.CallContract(ctx, msg, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("call getPool: %w", err)
	}
	values, err := parsed.Unpack("getPool", resp)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack getPool: %w", err)
	}
	pool, err = asAddress(values[0])
	if err != nil {
		return common.Address{}, fmt.Errorf("getPool: %w", err)
	}

	// A zero address is cached too: the factory answer only changes when a
	// pool is deployed, and the probe loop re-creates adapters rarely
	// enough that staleness resolves on restart.
	a.mu.Lock()
	a.pools[key] = pool
	a.mu.Unlock()
	return pool, nil
}

func (a *PoolAdapter) observeWindow(ctx context.Context, pool common.Address, parsed abi.ABI, window uint32) (oracle.Observation, error) {
	data, err := parsed.Pack("observe", []uint32{window, 0})
	if err != nil {
		return oracle.Observation{}, fmt.Errorf("pack observe: %w", err)
	}
	msg := ethereum.CallMsg{To: &pool, Data: data}
	resp, err := a.client.CallContract(ctx, msg, nil)
	if err != nil {
		return oracle.Observation{}, fmt.Errorf("call observe: %w", err)
	}
	values, err := parsed.Unpack("observe", resp)
	if err != nil {
		return oracle.Observation{}, fmt.Errorf("unpack observe: %w", err)
	}
	if len(values) < 2 {
		return oracle.Observation{}, fmt.Errorf("observe returned %d values", len(values))
	}

	tickCumulatives, err := asBigIntSlice(values[0])
	if err != nil {
		return oracle.Observation{}, fmt.Errorf("tick cumulatives: %w", err)
	}
	splCumulatives, err := asBigIntSlice(values[1])
	if err != nil {
		return oracle.Observation{}, fmt.Errorf("seconds per liquidity cumulatives: %w", err)
	}
	if len(tickCumulatives) != 2 || len(splCumulatives) != 2 {
		return oracle.Observation{}, fmt.Errorf("observe returned %d/%d entries, want 2/2",
			len(tickCumulatives), len(splCumulatives))
	}

	tickDelta := new(big.Int).Sub(tickCumulatives[1], tickCumulatives[0])
	if !tickDelta.IsInt64() {
		return oracle.Observation{}, fmt.Errorf("tick cumulative delta %s out of range", tickDelta)
	}

	splDelta := new(big.Int).Sub(splCumulatives[1], splCumulatives[0])
	if splDelta.Sign() < 0 {
		splDelta.Add(splDelta, splModulus)
	}
	spl, overflow := uint256.FromBig(splDelta)
	if overflow {
		return oracle.Observation{}, fmt.Errorf("seconds per liquidity delta %s out of range", splDelta)
	}

	return oracle.Observation{
		TickCumulativeDelta:          tickDelta.Int64(),
		SecondsPerLiquidityDeltaX128: spl,
		Window:                       window,
	}, nil
}

func (a *PoolAdapter) poolLiquidity(ctx context.Context, pool common.Address, parsed abi.ABI) (*big.Int, error) {
	data, err := parsed.Pack("liquidity")
	if err != nil {
		return nil, fmt.Errorf("pack liquidity: %w", err)
	}
	msg := ethereum.CallMsg{To: &pool, Data: data}
	resp, err := a.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call liquidity: %w", err)
	}
	values, err := parsed.Unpack("liquidity", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack liquidity: %w", err)
	}
	if len(values) < 1 {
		return nil, fmt.Errorf("liquidity returned no values")
	}
	liquidity, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unsupported liquidity type %T", values[0])
	}
	return liquidity, nil
}

func (a *PoolAdapter) observationCardinality(ctx context.Context, pool common.Address, parsed abi.ABI) (uint16, error) {
	data, err := parsed.Pack("slot0")
	if err != nil {
		return 0, fmt.Errorf("pack slot0: %w", err)
	}
	msg := ethereum.CallMsg{To: &pool, Data: data}
	resp, err := a.client.CallContract(ctx, msg, nil)
	if err != nil {
		return 0, fmt.Errorf("call slot0: %w", err)
	}
	values, err := parsed.Unpack("slot0", resp)
	if err != nil {
		return 0, fmt.Errorf("unpack slot0: %w", err)
	}
	if len(values) < 4 {
		return 0, fmt.Errorf("slot0 returned %d values", len(values))
	}
	cardinality, ok := values[3].(uint16)
	if !ok {
		return 0, fmt.Errorf("unsupported cardinality type %T", values[3])
	}
	return cardinality, nil
}

// isHistoryTooShort matches the pool's revert when asked for a window older
// than its oldest stored observation.
func isHistoryTooShort(err error) bool {
	return err != nil && strings.Contains(err.Error(), "OLD")
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigIntSlice(value interface{}) ([]*big.Int, error) {
	switch v := value.(type) {
	case []*big.Int:
		return v, nil
	case []big.Int:
		out := make([]*big.Int, len(v))
		for i := range v {
			out[i] = new(big.Int).Set(&v[i])
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported integer slice type %T", value)
	}
}
