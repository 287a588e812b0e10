package system

import "testing"

func TestPermissionsByState(t *testing.T) {
	cases := []struct {
		state State
		mints bool
		burns bool
	}{
		{Unrestricted, true, true},
		{TrainingWheels, true, true},
		{Emergency, false, true},
		{Shutdown, false, false},
	}
	for _, tc := range cases {
		if got := tc.state.AllowsMints(); got != tc.mints {
			t.Errorf("%s: AllowsMints = %v, want %v", tc.state, got, tc.mints)
		}
		if got := tc.state.AllowsBurns(); got != tc.burns {
			t.Errorf("%s: AllowsBurns = %v, want %v", tc.state, got, tc.burns)
		}
	}
}

func TestParseStateRoundTrip(t *testing.T) {
	for _, state := range []State{Unrestricted, TrainingWheels, Emergency, Shutdown} {
		parsed, err := ParseState(state.String())
		if err != nil {
			t.Fatalf("ParseState(%q): %v", state.String(), err)
		}
		if parsed != state {
			t.Fatalf("round trip %s -> %s", state, parsed)
		}
	}
	if _, err := ParseState("bogus"); err == nil {
		t.Fatal("unknown state parsed without error")
	}
}

func TestMachineTransitions(t *testing.T) {
	m := NewMachine(TrainingWheels)
	if m.Status() != TrainingWheels {
		t.Fatalf("initial status = %s", m.Status())
	}
	m.SetStatus(Emergency)
	if m.Status() != Emergency {
		t.Fatalf("status after transition = %s", m.Status())
	}
}
