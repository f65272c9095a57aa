package model

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		delivered bool
		terminal  bool
		want      State
	}{
		{false, false, StateQueued},
		{false, true, StateQueued},
		{true, false, StateActive},
		{true, true, StateDone},
	}
	for _, tt := range tests {
		if got := Classify(tt.delivered, tt.terminal); got != tt.want {
			t.Errorf("Classify(delivered=%v, terminal=%v) = %v, want %v",
				tt.delivered, tt.terminal, got, tt.want)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateQueued, "QUEUED"},
		{StateActive, "ACTIVE"},
		{StateDone, "DONE"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State.String() = %q, want %q", got, tt.want)
		}
	}
}
