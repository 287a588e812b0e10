// Package postgres persists vault and oracle snapshots. The ledger state is
// authoritative in memory; the store exists so a restart resumes from the
// last committed snapshot instead of an empty book.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SIR-trading/Core-sub002/internal/model"
)

// Store provides Postgres persistence for engine state.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertVaultStates inserts or updates vault snapshots. Reserves are stored
// as decimal strings so 256-bit totals survive the round trip.
func (s *Store) UpsertVaultStates(ctx context.Context, states []model.VaultState) error {
	if len(states) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, st := range states {
		batch.Queue(`
			INSERT INTO vault_states (
				vault_id, debt_token, collateral_token, leverage_tier,
				total_reserve, saturation_tick_x42, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			ON CONFLICT (vault_id)
			DO UPDATE SET
				debt_token = EXCLUDED.debt_token,
				collateral_token = EXCLUDED.collateral_token,
				leverage_tier = EXCLUDED.leverage_tier,
				total_reserve = EXCLUDED.total_reserve,
				saturation_tick_x42 = EXCLUDED.saturation_tick_x42,
				updated_at = now()
		`,
			int64(st.VaultID),
			st.DebtToken,
			st.CollateralToken,
			int16(st.LeverageTier),
			st.TotalReserve.Dec(),
			st.SaturationTickX42,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range states {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertOracleStates inserts or updates oracle pair snapshots.
func (s *Store) UpsertOracleStates(ctx context.Context, states []model.OracleState) error {
	if len(states) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, st := range states {
		batch.Queue(`
			INSERT INTO oracle_states (
				token_a, token_b, tick_price_x42, price_timestamp,
				active_fee_tier_index, next_probe_index, probe_timestamp,
				initialized, fee_rate, tick_spacing, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
			ON CONFLICT (token_a, token_b)
			DO UPDATE SET
				tick_price_x42 = EXCLUDED.tick_price_x42,
				price_timestamp = EXCLUDED.price_timestamp,
				active_fee_tier_index = EXCLUDED.active_fee_tier_index,
				next_probe_index = EXCLUDED.next_probe_index,
				probe_timestamp = EXCLUDED.probe_timestamp,
				initialized = EXCLUDED.initialized,
				fee_rate = EXCLUDED.fee_rate,
				tick_spacing = EXCLUDED.tick_spacing,
				updated_at = now()
		`,
			st.TokenA,
			st.TokenB,
			st.TickPriceX42,
			int64(st.PriceTimestamp),
			st.ActiveFeeTierIndex,
			st.NextProbeIndex,
			int64(st.ProbeTimestamp),
			st.Initialized,
			int64(st.ActiveFeeTier.FeeRate),
			st.ActiveFeeTier.TickSpacing,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range states {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadVaultStates returns all vault snapshots.
func (s *Store) LoadVaultStates(ctx context.Context) ([]model.VaultState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT vault_id, debt_token, collateral_token, leverage_tier,
		       total_reserve, saturation_tick_x42
		FROM vault_states
		ORDER BY vault_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []model.VaultState
	for rows.Next() {
		var (
			st       model.VaultState
			vaultID  int64
			tier     int16
			totalDec string
		)
		if err := rows.Scan(&vaultID, &st.DebtToken, &st.CollateralToken, &tier, &totalDec, &st.SaturationTickX42); err != nil {
			return nil, err
		}
		st.VaultID = uint64(vaultID)
		st.LeverageTier = int8(tier)
		total, err := uint256.FromDecimal(totalDec)
		if err != nil {
			return nil, fmt.Errorf("vault %d total reserve %q: %w", vaultID, totalDec, err)
		}
		st.TotalReserve = total
		states = append(states, st)
	}
	return states, rows.Err()
}

// LoadOracleStates returns all oracle pair snapshots.
func (s *Store) LoadOracleStates(ctx context.Context) ([]model.OracleState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token_a, token_b, tick_price_x42, price_timestamp,
		       active_fee_tier_index, next_probe_index, probe_timestamp,
		       initialized, fee_rate, tick_spacing
		FROM oracle_states
		ORDER BY token_a, token_b
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []model.OracleState
	for rows.Next() {
		var (
			st      model.OracleState
			priceTs int64
			probeTs int64
			feeRate int64
		)
		if err := rows.Scan(
			&st.TokenA, &st.TokenB, &st.TickPriceX42, &priceTs,
			&st.ActiveFeeTierIndex, &st.NextProbeIndex, &probeTs,
			&st.Initialized, &feeRate, &st.ActiveFeeTier.TickSpacing,
		); err != nil {
			return nil, err
		}
		st.PriceTimestamp = uint64(priceTs)
		st.ProbeTimestamp = uint64(probeTs)
		st.ActiveFeeTier.FeeRate = uint32(feeRate)
		states = append(states, st)
	}
	return states, rows.Err()
}

// SaveSystemStatus upserts the circuit-breaker status.
func (s *Store) SaveSystemStatus(ctx context.Context, status string) error {
	if status == "" {
		return fmt.Errorf("status required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_state (name, status, updated_at)
		VALUES ('core', $1, now())
		ON CONFLICT (name) DO UPDATE
		SET status = EXCLUDED.status, updated_at = now()
	`, status)
	return err
}

// LoadSystemStatus returns the persisted circuit-breaker status.
func (s *Store) LoadSystemStatus(ctx context.Context) (string, bool, error) {
	var status string
	row := s.pool.QueryRow(ctx, `SELECT status FROM system_state WHERE name='core'`)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return status, true, nil
}
