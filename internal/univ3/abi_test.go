package univ3

import "testing"

func TestFactoryABIParses(t *testing.T) {
	parsed, err := FactoryABI()
	if err != nil {
		t.Fatalf("FactoryABI: %v", err)
	}
	if _, ok := parsed.Methods["getPool"]; !ok {
		t.Fatal("factory ABI missing getPool")
	}
}

func TestPoolABIParses(t *testing.T) {
	parsed, err := PoolABI()
	if err != nil {
		t.Fatalf("PoolABI: %v", err)
	}
	for _, method := range []string{"observe", "slot0", "liquidity", "increaseObservationCardinalityNext"} {
		if _, ok := parsed.Methods[method]; !ok {
			t.Fatalf("pool ABI missing %s", method)
		}
	}
}

func TestIsHistoryTooShort(t *testing.T) {
	if isHistoryTooShort(nil) {
		t.Fatal("nil error classified as short history")
	}
	if !isHistoryTooShort(errOld{}) {
		t.Fatal("OLD revert not classified as short history")
	}
}

type errOld struct{}

func (errOld) Error() string { return "execution reverted: OLD" }
