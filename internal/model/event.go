package model

// Event kinds emitted by the core for observability. Numeric boundary
// conditions are clamped rather than rejected, so the clamp itself must be
// visible downstream.
const (
	EventPriceTruncated  = "price_truncated"
	EventFeeTierSwitched = "fee_tier_switched"
	EventCardinalityGrow = "cardinality_grow"
	EventVaultUpdated    = "vault_updated"
	EventSaturationClamp = "saturation_clamped"
)

// Event is a single observability record. Amount fields are decimal strings
// so records stay storage- and JSON-friendly at full integer width.
type Event struct {
	Kind      string `json:"kind"`
	Timestamp uint64 `json:"timestamp"`

	TokenA  string `json:"token_a,omitempty"`
	TokenB  string `json:"token_b,omitempty"`
	FeeRate uint32 `json:"fee_rate,omitempty"`

	TickX42     int64 `json:"tick_x42,omitempty"`
	PrevTickX42 int64 `json:"prev_tick_x42,omitempty"`

	VaultID      uint64 `json:"vault_id,omitempty"`
	TotalReserve string `json:"total_reserve,omitempty"`
	ReserveApes  string `json:"reserve_apes,omitempty"`
	ReserveLPers string `json:"reserve_lpers,omitempty"`

	Detail string `json:"detail,omitempty"`
}
