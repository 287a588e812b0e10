package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestEventJSONRoundTrip(t *testing.T) {
	original := Event{
		Kind:        EventPriceTruncated,
		Timestamp:   1700000000,
		TokenA:      "0x1111111111111111111111111111111111111111",
		TokenB:      "0x2222222222222222222222222222222222222222",
		FeeRate:     3000,
		TickX42:     123456789,
		PrevTickX42: 123000000,
		Detail:      "clamped to rate envelope",
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("round-trip mismatch: %+v != %+v", original, decoded)
	}
}
