package models

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from LifecycleState
		to   LifecycleState
		want bool
	}{
		{"uploading to processing", StateUploading, StateProcessing, true},
		{"processing to ready", StateProcessing, StateReady, true},
		{"ready to reviewing", StateReady, StateReviewing, true},
		{"reviewing to completed", StateReviewing, StateCompleted, true},
		{"reviewing reverts to ready", StateReviewing, StateReady, true},
		{"uploading fails", StateUploading, StateFailed, true},
		{"processing fails", StateProcessing, StateFailed, true},
		{"ready fails", StateReady, StateFailed, true},
		{"reviewing fails", StateReviewing, StateFailed, true},

		{"no skip to ready", StateUploading, StateReady, false},
		{"no skip to reviewing", StateProcessing, StateReviewing, false},
		{"no skip to completed", StateProcessing, StateCompleted, false},
		{"no backwards to uploading", StateProcessing, StateUploading, false},
		{"ready does not revert", StateReady, StateProcessing, false},
		{"completed accepts nothing", StateCompleted, StateReady, false},
		{"completed cannot fail", StateCompleted, StateFailed, false},
		{"failed accepts nothing", StateFailed, StateUploading, false},
		{"failed cannot complete", StateFailed, StateCompleted, false},
		{"self transition rejected", StateProcessing, StateProcessing, false},
		{"unknown target rejected", StateReady, LifecycleState("archived"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestFailedReachableFromEveryNonTerminal(t *testing.T) {
	for _, s := range AllLifecycleStates {
		got := s.CanTransition(StateFailed)
		want := !s.Terminal()
		if got != want {
			t.Errorf("%s.CanTransition(failed) = %v, want %v", s, got, want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range AllLifecycleStates {
		want := s == StateCompleted || s == StateFailed
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, s.Terminal(), want)
		}
	}
}

func TestValid(t *testing.T) {
	for _, s := range AllLifecycleStates {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if LifecycleState("").Valid() {
		t.Error("empty state should not be valid")
	}
	if LifecycleState("archived").Valid() {
		t.Error("unknown state should not be valid")
	}
}
