package storage

import (
	"context"

	"github.com/SIR-trading/Core-sub002/internal/model"
)

// EventSink is an append-only sink for observability events.
type EventSink interface {
	PutEvent(event model.Event) error
}

// StateStore persists vault and oracle snapshots between runs.
type StateStore interface {
	UpsertVaultStates(ctx context.Context, states []model.VaultState) error
	UpsertOracleStates(ctx context.Context, states []model.OracleState) error
	LoadVaultStates(ctx context.Context) ([]model.VaultState, error)
	LoadOracleStates(ctx context.Context) ([]model.OracleState, error)
	SaveSystemStatus(ctx context.Context, status string) error
	LoadSystemStatus(ctx context.Context) (string, bool, error)
}
