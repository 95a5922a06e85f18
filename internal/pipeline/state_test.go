package pipeline

import "testing"

func TestAllowedTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{Pending, Translating, true},
		{Pending, Done, true}, // up-to-date skip
		{Translating, Compiling, true},
		{Compiling, Linking, true},
		{Linking, Done, true},
		{Pending, Failed, true},
		{Translating, Failed, true},
		{Compiling, Failed, true},
		{Linking, Failed, true},
		{Done, Failed, false},
		{Failed, Failed, false},
		{Pending, Compiling, false},
		{Translating, Linking, false},
		{Done, Translating, false},
	}
	for _, tt := range tests {
		if got := allowedTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("allowedTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{Pending, Translating, Compiling, Linking} {
		if s.IsTerminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
	for _, s := range []State{Done, Failed} {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}
