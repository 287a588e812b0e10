package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/SIR-trading/Core-sub002/internal/model"
	"github.com/SIR-trading/Core-sub002/internal/storage"
)

// OracleSnapshotter extends PriceSource with access to the persisted
// per-pair state.
type OracleSnapshotter interface {
	PriceSource
	State(tokenA, tokenB common.Address) (model.OracleState, error)
}

// RunConfig holds runtime settings for the refresh loop.
type RunConfig struct {
	Interval     time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Runner keeps oracle prices fresh for every vault pair and snapshots the
// book on each pass. A pair that fails to refresh is logged and skipped;
// the loop never stops on source degradation.
type Runner struct {
	cfg    RunConfig
	engine *Engine
	oracle OracleSnapshotter
	store  storage.StateStore
	logger *zap.Logger
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, eng *Engine, source OracleSnapshotter, store storage.StateStore, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		engine: eng,
		oracle: source,
		store:  store,
		logger: logger,
	}
}

// Run executes the refresh loop until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if r.engine == nil {
		return fmt.Errorf("engine is nil")
	}
	if r.oracle == nil {
		return fmt.Errorf("oracle is nil")
	}
	if r.cfg.Interval <= 0 {
		return fmt.Errorf("refresh interval must be greater than zero")
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.refreshAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

func (r *Runner) refreshAll(ctx context.Context) {
	states := r.engine.VaultStates()
	seen := make(map[string]struct{}, len(states))
	var oracleStates []model.OracleState

	for _, st := range states {
		collateral := common.HexToAddress(st.CollateralToken)
		debt := common.HexToAddress(st.DebtToken)
		pair := st.CollateralToken + "/" + st.DebtToken
		if _, ok := seen[pair]; ok {
			continue
		}
		seen[pair] = struct{}{}

		err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
			_, err := r.oracle.UpdateState(ctx, collateral, debt)
			return err
		})
		if err != nil {
			r.logger.Warn("pair refresh failed", zap.String("pair", pair), zap.Error(err))
			continue
		}

		snap, err := r.oracle.State(collateral, debt)
		if err != nil {
			r.logger.Warn("pair snapshot failed", zap.String("pair", pair), zap.Error(err))
			continue
		}
		oracleStates = append(oracleStates, snap)
	}

	if r.store == nil {
		return
	}
	if err := r.store.UpsertOracleStates(ctx, oracleStates); err != nil {
		r.logger.Warn("oracle snapshot persist failed", zap.Error(err))
	}
	if err := r.store.UpsertVaultStates(ctx, states); err != nil {
		r.logger.Warn("vault snapshot persist failed", zap.Error(err))
	}
}
