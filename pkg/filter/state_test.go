package filter

import (
	"errors"
	"testing"
)

func TestLegalTable(t *testing.T) {
	want := map[State]map[Op]bool{
		StateUnconfigured:      {OpConfigure: true},
		StateInvalidParameters: {OpConfigure: true},
		StateReady:             {OpConfigure: true, OpStart: true},
		StateRunning:           {OpStop: true, OpRead: true},
	}
	states := []State{StateUnconfigured, StateInvalidParameters, StateReady, StateRunning}
	ops := []Op{OpConfigure, OpStart, OpStop, OpRead}

	for _, s := range states {
		for _, op := range ops {
			if got := Legal(op, s); got != want[s][op] {
				t.Errorf("Legal(%s, %s) = %v, want %v", op, s, got, want[s][op])
			}
		}
	}
}

func TestLegalUnknownValues(t *testing.T) {
	if Legal(OpConfigure, State(7)) {
		t.Error("Legal(configure, State(7)) = true, want false")
	}
	if Legal(Op(9), StateReady) {
		t.Error("Legal(Op(9), Ready) = true, want false")
	}
}

func TestCheckLegalWrapsWrongState(t *testing.T) {
	err := checkLegal(OpStart, StateUnconfigured)
	if !errors.Is(err, ErrWrongState) {
		t.Fatalf("checkLegal(start, Unconfigured) = %v, want ErrWrongState", err)
	}
	if err := checkLegal(OpStart, StateReady); err != nil {
		t.Errorf("checkLegal(start, Ready) = %v, want nil", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnconfigured, "Unconfigured"},
		{StateInvalidParameters, "InvalidParameters"},
		{StateReady, "Ready"},
		{StateRunning, "Running"},
		{State(42), "State(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
