// Package oracle maintains a manipulation-resistant spot price per token
// pair, sourced from external liquidity pools. For each pair it tracks the
// best-scoring fee tier, refreshes a time-weighted price at most once per
// timestamp, and clamps how fast the recorded price may move so that a
// short-lived manipulation of the source pool is truncated instead of
// followed.
package oracle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/SIR-trading/Core-sub002/internal/model"
	"github.com/SIR-trading/Core-sub002/internal/tickmath"
)

// Defaults for the refresh and probe machinery.
const (
	DefaultTWAPWindow  = 30 * time.Minute
	DefaultProbePeriod = time.Hour

	// DefaultMaxTickRateX42 allows the recorded price to move one whole
	// tick (one basis point of price) per second.
	DefaultMaxTickRateX42 int64 = 1 << tickmath.FractionBits

	// maxCardinality caps how much history the oracle will ever request
	// from a single pool.
	maxCardinality = 512
)

var (
	// ErrNotInitialized is returned when a pair was never initialized.
	ErrNotInitialized = errors.New("oracle not initialized for pair")

	// ErrNoPool is returned by Initialize when no fee tier has a pool for
	// the pair.
	ErrNoPool = errors.New("no pool exists for pair")
)

// Config carries the oracle's tunables. The rate clamp is deliberately a
// parameter: its safe value is tied to the protocol fee by an economic
// inequality, not a hard invariant (see RateClampSafe).
type Config struct {
	TWAPWindow     time.Duration
	ProbePeriod    time.Duration
	MaxTickRateX42 int64

	// Now supplies the current unix timestamp. The host wires the chain
	// head time here so refreshes follow ledger time; nil falls back to
	// the wall clock.
	Now func() uint64
}

func (c *Config) applyDefaults() {
	if c.TWAPWindow <= 0 {
		c.TWAPWindow = DefaultTWAPWindow
	}
	if c.ProbePeriod <= 0 {
		c.ProbePeriod = DefaultProbePeriod
	}
	if c.MaxTickRateX42 <= 0 {
		c.MaxTickRateX42 = DefaultMaxTickRateX42
	}
}

// Oracle is the per-pair price state machine. All mutating entry points are
// safe for concurrent use; the host is still expected to serialize ledger
// operations, the lock only protects the in-memory maps.
type Oracle struct {
	mu     sync.RWMutex
	states map[string]*model.OracleState
	tiers  []model.FeeTier

	source PoolSource
	sink   EventSink
	logger *zap.Logger
	cfg    Config

	// now returns the current unix timestamp, taken from Config.Now.
	now func() uint64
}

// New builds an Oracle over the given pool source. A nil sink drops events;
// a nil logger is replaced with a no-op one.
func New(source PoolSource, sink EventSink, logger *zap.Logger, cfg Config) *Oracle {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = func() uint64 { return uint64(time.Now().Unix()) }
	}
	return &Oracle{
		states: make(map[string]*model.OracleState),
		tiers:  DefaultFeeTiers(),
		source: source,
		sink:   sink,
		logger: logger,
		cfg:    cfg,
		now:    now,
	}
}

// canonicalPair sorts the two tokens so each unordered pair maps to one
// state entry. The second return is true when the caller's order was
// flipped, in which case the price sign flips too.
func canonicalPair(tokenA, tokenB common.Address) (common.Address, common.Address, bool) {
	if strings.ToLower(tokenA.Hex()) <= strings.ToLower(tokenB.Hex()) {
		return tokenA, tokenB, false
	}
	return tokenB, tokenA, true
}

func pairKey(token0, token1 common.Address) string {
	return strings.ToLower(token0.Hex()) + "/" + strings.ToLower(token1.Hex())
}

// Initialize probes every registered fee tier for the pair and activates the
// best-scoring pool. It is idempotent: a pair that is already initialized is
// left untouched. Pools whose history has a single slot are asked to grow it
// and sit out the scoring round. Initialize fails only when no pool exists
// for the pair at any tier.
func (o *Oracle) Initialize(ctx context.Context, tokenA, tokenB common.Address) error {
	token0, token1, _ := canonicalPair(tokenA, tokenB)
	key := pairKey(token0, token1)

	o.mu.Lock()
	defer o.mu.Unlock()

	if st, ok := o.states[key]; ok && st.Initialized {
		return nil
	}

	window := uint32(o.cfg.TWAPWindow / time.Second)
	bestIndex := -1
	bestScore := uint256.NewInt(0)
	anyPool := false

	for i, tier := range o.tiers {
		exists, err := o.source.Exists(ctx, token0, token1, tier)
		if err != nil {
			o.logger.Warn("fee tier probe failed",
				zap.Uint32("fee_rate", tier.FeeRate), zap.Error(err))
			continue
		}
		if !exists {
			continue
		}
		anyPool = true
		if bestIndex < 0 {
			bestIndex = i
		}

		obs, err := o.source.Observe(ctx, token0, token1, tier, window)
		if err != nil {
			o.logger.Warn("observe failed",
				zap.Uint32("fee_rate", tier.FeeRate), zap.Error(err))
			continue
		}
		if obs.Cardinality <= 1 {
			o.requestGrowth(ctx, token0, token1, tier, obs, window)
			continue
		}

		score := tierScore(tier, obs, true)
		if score.Gt(bestScore) {
			bestScore = score
			bestIndex = i
		}
	}

	if !anyPool {
		return ErrNoPool
	}

	st := &model.OracleState{
		TokenA:             token0.Hex(),
		TokenB:             token1.Hex(),
		ActiveFeeTierIndex: bestIndex,
		ActiveFeeTier:      o.tiers[bestIndex],
		NextProbeIndex:     (bestIndex + 1) % len(o.tiers),
		ProbeTimestamp:     o.now(),
		Initialized:        true,
	}
	o.states[key] = st
	o.refreshPrice(ctx, token0, token1, st)

	o.logger.Info("oracle initialized",
		zap.String("pair", key),
		zap.Uint32("fee_rate", st.ActiveFeeTier.FeeRate),
		zap.Int64("tick_x42", st.TickPriceX42),
	)
	return nil
}

// GetPrice returns the recorded price for the pair as a signed X42 tick of
// tokenB per tokenA, refreshing it first when it has not been sampled at the
// current timestamp.
func (o *Oracle) GetPrice(ctx context.Context, tokenA, tokenB common.Address) (int64, error) {
	token0, token1, flipped := canonicalPair(tokenA, tokenB)
	key := pairKey(token0, token1)

	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.states[key]
	if !ok || !st.Initialized {
		return 0, ErrNotInitialized
	}

	o.refreshPrice(ctx, token0, token1, st)

	if flipped {
		return -st.TickPriceX42, nil
	}
	return st.TickPriceX42, nil
}

// UpdateState is the mutating counterpart of GetPrice: the same refresh,
// plus at most once per probe period a round-robin check of whether another
// fee tier has overtaken the active one.
func (o *Oracle) UpdateState(ctx context.Context, tokenA, tokenB common.Address) (int64, error) {
	token0, token1, flipped := canonicalPair(tokenA, tokenB)
	key := pairKey(token0, token1)

	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.states[key]
	if !ok || !st.Initialized {
		return 0, ErrNotInitialized
	}

	o.refreshPrice(ctx, token0, token1, st)

	if now := o.now(); now-st.ProbeTimestamp >= uint64(o.cfg.ProbePeriod/time.Second) {
		o.probeFeeTier(ctx, token0, token1, st)
		st.ProbeTimestamp = now
	}

	if flipped {
		return -st.TickPriceX42, nil
	}
	return st.TickPriceX42, nil
}

// State returns a copy of the persisted state for the pair, for snapshots.
func (o *Oracle) State(tokenA, tokenB common.Address) (model.OracleState, error) {
	token0, token1, _ := canonicalPair(tokenA, tokenB)

	o.mu.RLock()
	defer o.mu.RUnlock()

	st, ok := o.states[pairKey(token0, token1)]
	if !ok {
		return model.OracleState{}, ErrNotInitialized
	}
	return *st, nil
}

// RestoreState seeds the in-memory map from a persisted snapshot.
func (o *Oracle) RestoreState(st model.OracleState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	copied := st
	o.states[strings.ToLower(st.TokenA)+"/"+strings.ToLower(st.TokenB)] = &copied
}

// refreshPrice samples the active pool's TWAP and records it under the rate
// clamp. It records at most once per distinct timestamp and never fails the
// caller: on source degradation the previous price simply stays in place.
func (o *Oracle) refreshPrice(ctx context.Context, token0, token1 common.Address, st *model.OracleState) {
	now := o.now()
	if st.PriceTimestamp == now {
		return
	}

	window := uint32(o.cfg.TWAPWindow / time.Second)
	obs, err := o.source.Observe(ctx, token0, token1, st.ActiveFeeTier, window)
	if err != nil {
		o.logger.Warn("price refresh failed, keeping previous sample",
			zap.String("token0", token0.Hex()),
			zap.String("token1", token1.Hex()),
			zap.Error(err))
		return
	}
	if obs.Window == 0 {
		return
	}
	if obs.Window < window {
		o.requestGrowth(ctx, token0, token1, st.ActiveFeeTier, obs, window)
	}

	candidate := twapTickX42(obs.TickCumulativeDelta, obs.Window)
	candidate = clampTickRange(candidate)

	if st.PriceTimestamp != 0 {
		bound := rateBound(o.cfg.MaxTickRateX42, now-st.PriceTimestamp)
		truncated := false
		if candidate > st.TickPriceX42+bound {
			candidate = st.TickPriceX42 + bound
			truncated = true
		} else if candidate < st.TickPriceX42-bound {
			candidate = st.TickPriceX42 - bound
			truncated = true
		}
		if truncated {
			o.emit(model.Event{
				Kind:        model.EventPriceTruncated,
				Timestamp:   now,
				TokenA:      token0.Hex(),
				TokenB:      token1.Hex(),
				FeeRate:     st.ActiveFeeTier.FeeRate,
				TickX42:     candidate,
				PrevTickX42: st.TickPriceX42,
				Detail:      "sample clamped to rate envelope",
			})
		}
	}

	st.TickPriceX42 = candidate
	st.PriceTimestamp = now
}

// probeFeeTier advances the round-robin probe index and switches the active
// tier only when the probed pool strictly outscores it over a fully
// populated window; anything short of that turns into a history-growth
// request instead.
func (o *Oracle) probeFeeTier(ctx context.Context, token0, token1 common.Address, st *model.OracleState) {
	idx := st.NextProbeIndex % len(o.tiers)
	st.NextProbeIndex = (idx + 1) % len(o.tiers)
	if idx == st.ActiveFeeTierIndex {
		return
	}

	tier := o.tiers[idx]
	exists, err := o.source.Exists(ctx, token0, token1, tier)
	if err != nil || !exists {
		return
	}

	window := uint32(o.cfg.TWAPWindow / time.Second)
	probed, err := o.source.Observe(ctx, token0, token1, tier, window)
	if err != nil {
		return
	}
	active, err := o.source.Observe(ctx, token0, token1, st.ActiveFeeTier, window)
	if err != nil {
		return
	}

	if probed.Window < window {
		o.requestGrowth(ctx, token0, token1, tier, probed, window)
		return
	}
	if active.Window < window {
		o.requestGrowth(ctx, token0, token1, st.ActiveFeeTier, active, window)
		return
	}

	probedScore := tierScore(tier, probed, false)
	activeScore := tierScore(st.ActiveFeeTier, active, false)
	if !probedScore.Gt(activeScore) {
		return
	}

	o.emit(model.Event{
		Kind:      model.EventFeeTierSwitched,
		Timestamp: o.now(),
		TokenA:    token0.Hex(),
		TokenB:    token1.Hex(),
		FeeRate:   tier.FeeRate,
		Detail:    "probed tier outscored active tier",
	})
	o.logger.Info("fee tier switched",
		zap.Uint32("from", st.ActiveFeeTier.FeeRate),
		zap.Uint32("to", tier.FeeRate))

	st.ActiveFeeTierIndex = idx
	st.ActiveFeeTier = tier
}

// requestGrowth asks a pool for observation capacity proportional to its
// history shortfall, capped so a single pair can never demand unbounded
// slots.
func (o *Oracle) requestGrowth(ctx context.Context, token0, token1 common.Address, tier model.FeeTier, obs Observation, window uint32) {
	current := uint32(obs.Cardinality)
	if current == 0 {
		current = 1
	}
	covered := obs.Window
	if covered == 0 {
		covered = 1
	}
	needed := uint64(current) * uint64(window) / uint64(covered)
	if needed <= uint64(obs.Cardinality) {
		needed = uint64(obs.Cardinality) + 1
	}
	if needed > maxCardinality {
		needed = maxCardinality
	}

	if err := o.source.GrowObservations(ctx, token0, token1, tier, uint16(needed)); err != nil {
		o.logger.Warn("cardinality growth request failed",
			zap.Uint32("fee_rate", tier.FeeRate), zap.Error(err))
		return
	}
	o.emit(model.Event{
		Kind:      model.EventCardinalityGrow,
		Timestamp: o.now(),
		TokenA:    token0.Hex(),
		TokenB:    token1.Hex(),
		FeeRate:   tier.FeeRate,
		Detail:    "requested larger observation history",
	})
}

func (o *Oracle) emit(event model.Event) {
	if o.sink == nil {
		return
	}
	if err := o.sink.PutEvent(event); err != nil {
		o.logger.Warn("event emission failed", zap.String("kind", event.Kind), zap.Error(err))
	}
}

// twapTickX42 converts accrued tick-seconds over a window into an X42 tick,
// keeping the fractional precision of the division.
func twapTickX42(tickCumulativeDelta int64, window uint32) int64 {
	w := int64(window)
	whole := tickCumulativeDelta / w
	rem := tickCumulativeDelta % w
	return whole<<tickmath.FractionBits + (rem<<tickmath.FractionBits)/w
}

func clampTickRange(tick int64) int64 {
	if tick > tickmath.MaxTickX42 {
		return tickmath.MaxTickX42
	}
	if tick < -tickmath.MaxTickX42 {
		return -tickmath.MaxTickX42
	}
	return tick
}

// rateBound returns maxTickRate*dt, saturating at the full tick span so the
// multiplication can never wrap.
func rateBound(maxTickRateX42 int64, dt uint64) int64 {
	const span = 2 * tickmath.MaxTickX42
	if dt == 0 {
		return 0
	}
	if dt > uint64(span/maxTickRateX42) {
		return span
	}
	return maxTickRateX42 * int64(dt)
}
