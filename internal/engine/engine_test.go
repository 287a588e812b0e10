package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/SIR-trading/Core-sub002/internal/model"
	"github.com/SIR-trading/Core-sub002/internal/storage"
	"github.com/SIR-trading/Core-sub002/internal/system"
	"github.com/SIR-trading/Core-sub002/internal/tickmath"
	"github.com/SIR-trading/Core-sub002/internal/vault"
)

var (
	debtToken       = common.HexToAddress("0xa000000000000000000000000000000000000001")
	collateralToken = common.HexToAddress("0xb000000000000000000000000000000000000002")
)

type fakePrices struct {
	tick        int64
	initialized int
	failInit    bool
}

func (f *fakePrices) Initialize(_ context.Context, _, _ common.Address) error {
	if f.failInit {
		return errors.New("no pool")
	}
	f.initialized++
	return nil
}

func (f *fakePrices) GetPrice(_ context.Context, _, _ common.Address) (int64, error) {
	return f.tick, nil
}

func (f *fakePrices) UpdateState(_ context.Context, _, _ common.Address) (int64, error) {
	return f.tick, nil
}

type memorySink struct {
	events []model.Event
}

func (m *memorySink) PutEvent(event model.Event) error {
	m.events = append(m.events, event)
	return nil
}

func newTestEngine(t *testing.T, prices *fakePrices, machine *system.Machine, store storage.StateStore) (*Engine, *memorySink) {
	t.Helper()
	sink := &memorySink{}
	eng := New(prices, machine, store, sink, nil, Config{BaseFeeBps: 10, LPFeeBps: 5})
	return eng, sink
}

func TestCreateVault(t *testing.T) {
	prices := &fakePrices{tick: 500 << tickmath.FractionBits}
	eng, _ := newTestEngine(t, prices, system.NewMachine(system.Unrestricted), nil)
	ctx := context.Background()

	id, err := eng.CreateVault(ctx, debtToken, collateralToken, 1)
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}
	if id != 1 {
		t.Fatalf("vault id = %d, want 1", id)
	}
	if prices.initialized != 1 {
		t.Fatalf("oracle initialized %d times, want 1", prices.initialized)
	}

	if _, err := eng.CreateVault(ctx, debtToken, collateralToken, 1); !errors.Is(err, ErrVaultExists) {
		t.Fatalf("duplicate: err = %v, want ErrVaultExists", err)
	}

	// Same pair at another tier is a distinct vault.
	id2, err := eng.CreateVault(ctx, debtToken, collateralToken, -2)
	if err != nil {
		t.Fatalf("second CreateVault: %v", err)
	}
	if id2 != 2 {
		t.Fatalf("second vault id = %d, want 2", id2)
	}

	if _, err := eng.CreateVault(ctx, debtToken, collateralToken, 5); !errors.Is(err, vault.ErrLeverageTierOutOfRange) {
		t.Fatalf("tier 5: err = %v, want ErrLeverageTierOutOfRange", err)
	}
}

func TestCreateVaultOracleFailure(t *testing.T) {
	prices := &fakePrices{failInit: true}
	eng, _ := newTestEngine(t, prices, system.NewMachine(system.Unrestricted), nil)

	if _, err := eng.CreateVault(context.Background(), debtToken, collateralToken, 0); err == nil {
		t.Fatal("CreateVault succeeded without a pool")
	}
	if got := len(eng.VaultStates()); got != 0 {
		t.Fatalf("vaults registered after failed create: %d", got)
	}
}

func TestDepositBothSidesConserves(t *testing.T) {
	prices := &fakePrices{tick: 500 << tickmath.FractionBits}
	eng, sink := newTestEngine(t, prices, system.NewMachine(system.Unrestricted), nil)
	ctx := context.Background()

	id, err := eng.CreateVault(ctx, debtToken, collateralToken, 1)
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}

	// LP deposit: flat 5 bps.
	res, err := eng.Deposit(ctx, id, vault.SideLP, uint256.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("LP deposit: %v", err)
	}
	if res.Fee.Uint64() != 500 {
		t.Fatalf("LP fee = %d, want 500", res.Fee.Uint64())
	}

	// Ape deposit: 10 bps scaled by 2^1 for tier 1.
	res, err = eng.Deposit(ctx, id, vault.SideApe, uint256.NewInt(500_000))
	if err != nil {
		t.Fatalf("ape deposit: %v", err)
	}
	if res.Fee.Uint64() != 1_000 {
		t.Fatalf("ape fee = %d, want 1000", res.Fee.Uint64())
	}

	total := new(uint256.Int).Add(res.Reserves.Apes, res.Reserves.LPers)
	if want := uint64(999_500 + 499_000); total.Uint64() != want {
		t.Fatalf("total reserve = %d, want %d", total.Uint64(), want)
	}

	if want := uint64(1_500); eng.TreasuryBalance(collateralToken).Uint64() != want {
		t.Fatalf("treasury = %d, want %d", eng.TreasuryBalance(collateralToken).Uint64(), want)
	}

	updated := 0
	for _, ev := range sink.events {
		if ev.Kind == model.EventVaultUpdated {
			updated++
		}
	}
	if updated != 2 {
		t.Fatalf("vault_updated events = %d, want 2", updated)
	}
}

func TestGovernanceGates(t *testing.T) {
	prices := &fakePrices{tick: 500 << tickmath.FractionBits}
	machine := system.NewMachine(system.Unrestricted)
	eng, _ := newTestEngine(t, prices, machine, nil)
	ctx := context.Background()

	id, err := eng.CreateVault(ctx, debtToken, collateralToken, 0)
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}
	if _, err := eng.Deposit(ctx, id, vault.SideLP, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	machine.SetStatus(system.Emergency)
	if _, err := eng.Deposit(ctx, id, vault.SideLP, uint256.NewInt(100)); !errors.Is(err, ErrMintsHalted) {
		t.Fatalf("emergency deposit: err = %v, want ErrMintsHalted", err)
	}
	if _, err := eng.Withdraw(ctx, id, vault.SideLP, uint256.NewInt(100)); err != nil {
		t.Fatalf("emergency withdraw refused: %v", err)
	}

	machine.SetStatus(system.Shutdown)
	if _, err := eng.Withdraw(ctx, id, vault.SideLP, uint256.NewInt(100)); !errors.Is(err, ErrBurnsHalted) {
		t.Fatalf("shutdown withdraw: err = %v, want ErrBurnsHalted", err)
	}
}

func TestWithdrawInsufficientLeavesBookUntouched(t *testing.T) {
	prices := &fakePrices{tick: 500 << tickmath.FractionBits}
	eng, _ := newTestEngine(t, prices, system.NewMachine(system.Unrestricted), nil)
	ctx := context.Background()

	id, err := eng.CreateVault(ctx, debtToken, collateralToken, 0)
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}
	if _, err := eng.Deposit(ctx, id, vault.SideLP, uint256.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	before := eng.VaultStates()[0]

	if _, err := eng.Withdraw(ctx, id, vault.SideLP, uint256.NewInt(10_000_000)); !errors.Is(err, vault.ErrInsufficientReserve) {
		t.Fatalf("err = %v, want ErrInsufficientReserve", err)
	}

	after := eng.VaultStates()[0]
	if !after.TotalReserve.Eq(before.TotalReserve) || after.SaturationTickX42 != before.SaturationTickX42 {
		t.Fatal("failed withdrawal mutated the vault state")
	}
}

func TestRestoreFromFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := storage.NewFileStore(path)
	prices := &fakePrices{tick: 500 << tickmath.FractionBits}
	ctx := context.Background()

	eng, _ := newTestEngine(t, prices, system.NewMachine(system.Unrestricted), store)
	id, err := eng.CreateVault(ctx, debtToken, collateralToken, 1)
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}
	if _, err := eng.Deposit(ctx, id, vault.SideLP, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	wantTotal := eng.VaultStates()[0].TotalReserve.Uint64()

	restored, _ := newTestEngine(t, prices, system.NewMachine(system.Unrestricted), store)
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	states := restored.VaultStates()
	if len(states) != 1 {
		t.Fatalf("restored vaults = %d, want 1", len(states))
	}
	if states[0].TotalReserve.Uint64() != wantTotal {
		t.Fatalf("restored total = %d, want %d", states[0].TotalReserve.Uint64(), wantTotal)
	}

	// The next vault continues from the restored ID sequence.
	id2, err := restored.CreateVault(ctx, debtToken, collateralToken, 2)
	if err != nil {
		t.Fatalf("CreateVault after restore: %v", err)
	}
	if id2 != id+1 {
		t.Fatalf("next vault id = %d, want %d", id2, id+1)
	}
}
