package pipeline

import (
	"github.com/vuongtran/cardetl/internal/core/domain"
)

// State is where a unit currently sits inside the pipeline.
type State string

const (
	StateNotStarted   State = "not_started"
	StateDownloading  State = "downloading"
	StateExtracting   State = "extracting"
	StateTransforming State = "transforming"
	StatePublishing   State = "publishing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// ValidTransitions defines the allowed moves. A unit advances one
// stage at a time and any working state may fall to failed.
var ValidTransitions = map[State][]State{
	StateNotStarted:   {StateDownloading, StateFailed},
	StateDownloading:  {StateExtracting, StateFailed},
	StateExtracting:   {StateTransforming, StateFailed},
	StateTransforming: {StatePublishing, StateFailed},
	StatePublishing:   {StateDone, StateFailed},
}

// CanTransition checks if a move from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// StageState maps a pipeline stage to its working state.
func StageState(stage domain.Stage) State {
	switch stage {
	case domain.StageDownload:
		return StateDownloading
	case domain.StageExtract:
		return StateExtracting
	case domain.StageTransform:
		return StateTransforming
	case domain.StagePublish:
		return StatePublishing
	}
	return StateNotStarted
}
