package pipeline

import (
	"testing"

	"github.com/vuongtran/cardetl/internal/core/domain"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateNotStarted, StateDownloading, true},
		{StateDownloading, StateExtracting, true},
		{StateExtracting, StateTransforming, true},
		{StateTransforming, StatePublishing, true},
		{StatePublishing, StateDone, true},
		{StateDownloading, StateFailed, true},
		{StatePublishing, StateFailed, true},
		// No skipping and no going back.
		{StateNotStarted, StateExtracting, false},
		{StateExtracting, StateDownloading, false},
		{StateDone, StateDownloading, false},
		{StateFailed, StateDownloading, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStageStateCoversAllStages(t *testing.T) {
	seen := make(map[State]bool)
	for _, stage := range domain.Stages() {
		s := StageState(stage)
		if s == StateNotStarted {
			t.Errorf("stage %s has no working state", stage)
		}
		if seen[s] {
			t.Errorf("stage %s shares state %s", stage, s)
		}
		seen[s] = true
	}
}
