package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/SIR-trading/Core-sub002/internal/model"
	"github.com/SIR-trading/Core-sub002/internal/tickmath"
)

var (
	tokenA = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

type fakePool struct {
	tick        int64
	liquidity   uint64
	cardinality uint16
	history     uint32
}

type fakeSource struct {
	pools        map[uint32]*fakePool
	growRequests []uint16
	observeCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{pools: make(map[uint32]*fakePool)}
}

func (s *fakeSource) Exists(_ context.Context, _, _ common.Address, tier model.FeeTier) (bool, error) {
	_, ok := s.pools[tier.FeeRate]
	return ok, nil
}

func (s *fakeSource) Observe(_ context.Context, _, _ common.Address, tier model.FeeTier, secondsAgo uint32) (Observation, error) {
	s.observeCalls++
	p, ok := s.pools[tier.FeeRate]
	if !ok {
		return Observation{}, errors.New("no pool")
	}
	window := secondsAgo
	if p.history < window {
		window = p.history
	}
	if window == 0 {
		return Observation{Cardinality: p.cardinality}, nil
	}
	spl := new(uint256.Int).Lsh(uint256.NewInt(uint64(window)), 128)
	spl.Div(spl, uint256.NewInt(p.liquidity))
	return Observation{
		TickCumulativeDelta:          p.tick * int64(window),
		SecondsPerLiquidityDeltaX128: spl,
		Window:                       window,
		Cardinality:                  p.cardinality,
	}, nil
}

func (s *fakeSource) GrowObservations(_ context.Context, _, _ common.Address, _ model.FeeTier, minCardinality uint16) error {
	s.growRequests = append(s.growRequests, minCardinality)
	return nil
}

type memorySink struct {
	events []model.Event
}

func (m *memorySink) PutEvent(event model.Event) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memorySink) byKind(kind string) []model.Event {
	var out []model.Event
	for _, ev := range m.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newTestOracle(src *fakeSource, sink *memorySink, ts *uint64) *Oracle {
	o := New(src, sink, nil, Config{})
	o.now = func() uint64 { return *ts }
	return o
}

func TestConfigClockDrivesRefresh(t *testing.T) {
	src := newFakeSource()
	src.pools[500] = &fakePool{tick: 100, liquidity: 1_000, cardinality: 50, history: 7200}

	ts := uint64(2_000_000)
	o := New(src, nil, nil, Config{Now: func() uint64 { return ts }})

	if err := o.Initialize(context.Background(), tokenA, tokenB); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	st, err := o.State(tokenA, tokenB)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st.PriceTimestamp != ts {
		t.Fatalf("price timestamp = %d, want injected %d", st.PriceTimestamp, ts)
	}

	// While the injected clock stands still, the pool moving must not
	// produce a new sample.
	src.pools[500].tick = 999
	got, err := o.GetPrice(context.Background(), tokenA, tokenB)
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if want := int64(100) << tickmath.FractionBits; got != want {
		t.Fatalf("price moved without the clock: %d, want %d", got, want)
	}

	ts++
	got, err = o.GetPrice(context.Background(), tokenA, tokenB)
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if want := int64(101) << tickmath.FractionBits; got != want {
		t.Fatalf("price after clock tick = %d, want %d", got, want)
	}
}

func TestInitializePicksDeepestTier(t *testing.T) {
	src := newFakeSource()
	// Tiers 500 and 3000 score with the same feeRate/tickSpacing multiplier,
	// so the one with ten times the liquidity must win.
	src.pools[500] = &fakePool{tick: 100, liquidity: 1_000, cardinality: 50, history: 7200}
	src.pools[3000] = &fakePool{tick: 100, liquidity: 10_000, cardinality: 50, history: 7200}

	ts := uint64(1_000_000)
	o := newTestOracle(src, &memorySink{}, &ts)

	if err := o.Initialize(context.Background(), tokenA, tokenB); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	st, err := o.State(tokenA, tokenB)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st.ActiveFeeTier.FeeRate != 3000 {
		t.Fatalf("active fee rate = %d, want 3000", st.ActiveFeeTier.FeeRate)
	}
	if want := int64(100) << tickmath.FractionBits; st.TickPriceX42 != want {
		t.Fatalf("initial tick = %d, want %d", st.TickPriceX42, want)
	}
}

func TestInitializeIdempotent(t *testing.T) {
	src := newFakeSource()
	src.pools[500] = &fakePool{tick: 0, liquidity: 1_000, cardinality: 50, history: 7200}

	ts := uint64(1_000_000)
	o := newTestOracle(src, &memorySink{}, &ts)

	if err := o.Initialize(context.Background(), tokenA, tokenB); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	src.pools[500].tick = 9999
	ts++
	if err := o.Initialize(context.Background(), tokenA, tokenB); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	st, _ := o.State(tokenA, tokenB)
	if st.TickPriceX42 != 0 {
		t.Fatalf("second Initialize re-sampled the price: tick = %d", st.TickPriceX42)
	}
}

func TestInitializeNoPool(t *testing.T) {
	ts := uint64(1)
	o := newTestOracle(newFakeSource(), &memorySink{}, &ts)
	if err := o.Initialize(context.Background(), tokenA, tokenB); !errors.Is(err, ErrNoPool) {
		t.Fatalf("err = %v, want ErrNoPool", err)
	}
}

func TestInitializeSingleSlotPoolRequestsGrowth(t *testing.T) {
	src := newFakeSource()
	src.pools[3000] = &fakePool{tick: 50, liquidity: 1_000, cardinality: 1, history: 1}

	ts := uint64(1_000_000)
	o := newTestOracle(src, &memorySink{}, &ts)

	if err := o.Initialize(context.Background(), tokenA, tokenB); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(src.growRequests) == 0 {
		t.Fatal("no cardinality growth requested for single-slot pool")
	}
	st, _ := o.State(tokenA, tokenB)
	if st.ActiveFeeTier.FeeRate != 3000 {
		t.Fatalf("active fee rate = %d, want 3000", st.ActiveFeeTier.FeeRate)
	}
}

func TestGetPriceNotInitialized(t *testing.T) {
	ts := uint64(1)
	o := newTestOracle(newFakeSource(), &memorySink{}, &ts)
	if _, err := o.GetPrice(context.Background(), tokenA, tokenB); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}

func TestGetPriceFlippedPairNegatesTick(t *testing.T) {
	src := newFakeSource()
	src.pools[500] = &fakePool{tick: 1234, liquidity: 1_000, cardinality: 50, history: 7200}

	ts := uint64(1_000_000)
	o := newTestOracle(src, &memorySink{}, &ts)
	if err := o.Initialize(context.Background(), tokenA, tokenB); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	fwd, err := o.GetPrice(context.Background(), tokenA, tokenB)
	if err != nil {
		t.Fatalf("GetPrice forward: %v", err)
	}
	rev, err := o.GetPrice(context.Background(), tokenB, tokenA)
	if err != nil {
		t.Fatalf("GetPrice reversed: %v", err)
	}
	if fwd != -rev {
		t.Fatalf("forward %d and reversed %d are not negations", fwd, rev)
	}
}

func TestRefreshOncePerTimestamp(t *testing.T) {
	src := newFakeSource()
	src.pools[500] = &fakePool{tick: 100, liquidity: 1_000, cardinality: 50, history: 7200}

	ts := uint64(1_000_000)
	o := newTestOracle(src, &memorySink{}, &ts)
	if err := o.Initialize(context.Background(), tokenA, tokenB); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Same timestamp: the pool moving must not change the recorded price.
	src.pools[500].tick = 200
	got, err := o.GetPrice(context.Background(), tokenA, tokenB)
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if want := int64(100) << tickmath.FractionBits; got != want {
		t.Fatalf("price re-sampled within one timestamp: %d, want %d", got, want)
	}

	// One second later the new sample lands, clamped to the rate envelope.
	ts++
	got, err = o.GetPrice(context.Background(), tokenA, tokenB)
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if want := int64(101) << tickmath.FractionBits; got != want {
		t.Fatalf("price after one second = %d, want %d", got, want)
	}
}

func TestPriceJumpTruncated(t *testing.T) {
	src := newFakeSource()
	src.pools[500] = &fakePool{tick: 0, liquidity: 1_000, cardinality: 50, history: 7200}
	sink := &memorySink{}

	ts := uint64(1_000_000)
	o := newTestOracle(src, sink, &ts)
	if err := o.Initialize(context.Background(), tokenA, tokenB); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// A 50% price gain is about 4055 whole ticks. Ten seconds at the
	// default clamp admit only ten.
	src.pools[500].tick = 4055
	ts += 10
	got, err := o.GetPrice(context.Background(), tokenA, tokenB)
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if want := int64(10) << tickmath.FractionBits; got != want {
		t.Fatalf("clamped tick = %d, want %d", got, want)
	}

	truncations := sink.byKind(model.EventPriceTruncated)
	if len(truncations) != 1 {
		t.Fatalf("truncation events = %d, want 1", len(truncations))
	}
	if truncations[0].TickX42 != got {
		t.Fatalf("event tick = %d, want %d", truncations[0].TickX42, got)
	}

	// Downward moves clamp symmetrically.
	src.pools[500].tick = -4055
	ts += 5
	got, err = o.GetPrice(context.Background(), tokenA, tokenB)
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if want := int64(5) << tickmath.FractionBits; got != want {
		t.Fatalf("downward clamped tick = %d, want %d", got, want)
	}
}

func TestShortWindowFallback(t *testing.T) {
	src := newFakeSource()
	// Ten minutes of history against a thirty-minute window.
	src.pools[500] = &fakePool{tick: 0, liquidity: 1_000, cardinality: 20, history: 600}
	sink := &memorySink{}

	ts := uint64(1_000_000)
	o := newTestOracle(src, sink, &ts)
	if err := o.Initialize(context.Background(), tokenA, tokenB); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	src.pools[500].tick = 3
	ts += 3600
	got, err := o.GetPrice(context.Background(), tokenA, tokenB)
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if want := int64(3) << tickmath.FractionBits; got != want {
		t.Fatalf("short-window price = %d, want %d", got, want)
	}

	// Growth proportional to the shortfall: 20 slots covering 600s need
	// 60 to cover 1800s.
	found := false
	for _, n := range src.growRequests {
		if n == 60 {
			found = true
		}
	}
	if !found {
		t.Fatalf("growth requests %v missing proportional target 60", src.growRequests)
	}
	if len(sink.byKind(model.EventCardinalityGrow)) == 0 {
		t.Fatal("no cardinality_grow event emitted")
	}
}

func TestProbeSwitchesToStrictlyBetterTier(t *testing.T) {
	src := newFakeSource()
	src.pools[500] = &fakePool{tick: 100, liquidity: 1_000, cardinality: 50, history: 7200}
	src.pools[3000] = &fakePool{tick: 100, liquidity: 10_000, cardinality: 50, history: 7200}
	sink := &memorySink{}

	ts := uint64(1_000_000)
	o := newTestOracle(src, sink, &ts)
	if err := o.Initialize(context.Background(), tokenA, tokenB); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Liquidity migrates to the 500 tier. The round-robin starts after the
	// active index, so it takes three hourly updates to reach index 1.
	src.pools[500].liquidity = 1_000_000
	for i := 0; i < 3; i++ {
		ts += uint64(time.Hour / time.Second)
		if _, err := o.UpdateState(context.Background(), tokenA, tokenB); err != nil {
			t.Fatalf("UpdateState %d: %v", i, err)
		}
	}

	st, _ := o.State(tokenA, tokenB)
	if st.ActiveFeeTier.FeeRate != 500 {
		t.Fatalf("active fee rate = %d, want 500 after migration", st.ActiveFeeTier.FeeRate)
	}
	if len(sink.byKind(model.EventFeeTierSwitched)) != 1 {
		t.Fatal("expected exactly one fee_tier_switched event")
	}
}

func TestProbeStableOnEqualScore(t *testing.T) {
	src := newFakeSource()
	// Equal liquidity and equal feeRate/tickSpacing multiplier: scores tie,
	// and a tie must never switch.
	src.pools[500] = &fakePool{tick: 100, liquidity: 5_000, cardinality: 50, history: 7200}
	src.pools[3000] = &fakePool{tick: 100, liquidity: 5_000, cardinality: 50, history: 7200}
	sink := &memorySink{}

	ts := uint64(1_000_000)
	o := newTestOracle(src, sink, &ts)
	if err := o.Initialize(context.Background(), tokenA, tokenB); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	st, _ := o.State(tokenA, tokenB)
	initial := st.ActiveFeeTier.FeeRate

	for i := 0; i < 8; i++ {
		ts += uint64(time.Hour / time.Second)
		if _, err := o.UpdateState(context.Background(), tokenA, tokenB); err != nil {
			t.Fatalf("UpdateState %d: %v", i, err)
		}
	}

	st, _ = o.State(tokenA, tokenB)
	if st.ActiveFeeTier.FeeRate != initial {
		t.Fatalf("tier flapped from %d to %d on equal scores", initial, st.ActiveFeeTier.FeeRate)
	}
	if len(sink.byKind(model.EventFeeTierSwitched)) != 0 {
		t.Fatal("fee_tier_switched emitted on equal scores")
	}
}

func TestProbeRateLimitedToPeriod(t *testing.T) {
	src := newFakeSource()
	src.pools[500] = &fakePool{tick: 100, liquidity: 1_000, cardinality: 50, history: 7200}
	src.pools[3000] = &fakePool{tick: 100, liquidity: 10_000, cardinality: 50, history: 7200}

	ts := uint64(1_000_000)
	o := newTestOracle(src, &memorySink{}, &ts)
	if err := o.Initialize(context.Background(), tokenA, tokenB); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	st, _ := o.State(tokenA, tokenB)
	probeBefore := st.NextProbeIndex

	// Updates inside the probe period must not advance the round-robin.
	ts += 60
	if _, err := o.UpdateState(context.Background(), tokenA, tokenB); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	st, _ = o.State(tokenA, tokenB)
	if st.NextProbeIndex != probeBefore {
		t.Fatal("probe advanced before the probe period elapsed")
	}
}

func TestAddFeeTierValidation(t *testing.T) {
	ts := uint64(1)
	o := newTestOracle(newFakeSource(), &memorySink{}, &ts)

	if err := o.AddFeeTier(model.FeeTier{FeeRate: 0, TickSpacing: 1}); !errors.Is(err, ErrInvalidFeeTier) {
		t.Fatalf("zero fee rate: err = %v, want ErrInvalidFeeTier", err)
	}
	if err := o.AddFeeTier(model.FeeTier{FeeRate: 42, TickSpacing: 0}); !errors.Is(err, ErrInvalidFeeTier) {
		t.Fatalf("zero tick spacing: err = %v, want ErrInvalidFeeTier", err)
	}
	if err := o.AddFeeTier(model.FeeTier{FeeRate: 3000, TickSpacing: 60}); !errors.Is(err, ErrDuplicateFeeTier) {
		t.Fatalf("duplicate: err = %v, want ErrDuplicateFeeTier", err)
	}

	// Five admin slots on top of the four canonical tiers, then full.
	for i := 0; i < 5; i++ {
		tier := model.FeeTier{FeeRate: 20_000 + uint32(i), TickSpacing: 200}
		if err := o.AddFeeTier(tier); err != nil {
			t.Fatalf("AddFeeTier %d: %v", i, err)
		}
	}
	if err := o.AddFeeTier(model.FeeTier{FeeRate: 99_999, TickSpacing: 200}); !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("err = %v, want ErrRegistryFull", err)
	}
	if got := len(o.FeeTiers()); got != MaxFeeTiers {
		t.Fatalf("registry size = %d, want %d", got, MaxFeeTiers)
	}
}

func TestTwapTickFractional(t *testing.T) {
	// 3 tick-seconds over 2 seconds is one and a half ticks.
	if got, want := twapTickX42(3, 2), int64(3)<<tickmath.FractionBits/2; got != want {
		t.Fatalf("twap = %d, want %d", got, want)
	}
	if got, want := twapTickX42(-3, 2), -(int64(3) << tickmath.FractionBits / 2); got != want {
		t.Fatalf("negative twap = %d, want %d", got, want)
	}
}

// The default clamp admits one whole tick per second, a 0.01% price move.
// Capturing that drift through the cheapest canonical pool costs its 0.01%
// fee, so per-second manipulation gains can never exceed the fee paid.
func TestDefaultClampCoveredByCheapestFeeTier(t *testing.T) {
	ratio, err := tickmath.TickToRatio(DefaultMaxTickRateX42)
	if err != nil {
		t.Fatalf("TickToRatio: %v", err)
	}
	one := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	drift := new(uint256.Int).Sub(ratio, one)

	// Fee rates are in hundredths of a basis point: fraction = rate / 1e6.
	cheapest := DefaultFeeTiers()[0]
	feeFrac := new(uint256.Int).Mul(one, uint256.NewInt(uint64(cheapest.FeeRate)))
	feeFrac.Div(feeFrac, uint256.NewInt(1_000_000))

	if drift.Gt(feeFrac) {
		t.Fatalf("per-second drift %s exceeds cheapest fee fraction %s", drift.Dec(), feeFrac.Dec())
	}
}

func TestRateBoundSaturates(t *testing.T) {
	if got := rateBound(DefaultMaxTickRateX42, 0); got != 0 {
		t.Fatalf("bound at dt=0 = %d, want 0", got)
	}
	huge := rateBound(DefaultMaxTickRateX42, 1<<40)
	if huge != 2*tickmath.MaxTickX42 {
		t.Fatalf("saturated bound = %d, want %d", huge, 2*tickmath.MaxTickX42)
	}
}
