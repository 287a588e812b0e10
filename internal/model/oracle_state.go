package model

// FeeTier describes one external liquidity pool usable as a price source: a
// fee rate in hundredths of a basis point and its matching tick granularity.
type FeeTier struct {
	FeeRate     uint32 `json:"fee_rate"`
	TickSpacing int32  `json:"tick_spacing"`
}

// OracleState is the persisted per-token-pair state of the price oracle.
type OracleState struct {
	TokenA             string  `json:"token_a"`
	TokenB             string  `json:"token_b"`
	TickPriceX42       int64   `json:"tick_price_x42"`
	PriceTimestamp     uint64  `json:"price_timestamp"`
	ActiveFeeTierIndex int     `json:"active_fee_tier_index"`
	NextProbeIndex     int     `json:"next_probe_index"`
	ProbeTimestamp     uint64  `json:"probe_timestamp"`
	Initialized        bool    `json:"initialized"`
	ActiveFeeTier      FeeTier `json:"active_fee_tier"`
}
