package engine

// Phase identifies where a run is in its lifecycle. Transitions only move
// forward: Idle, Preparing, Dispatching, Aggregating, then exactly one of
// the terminal phases.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePreparing
	PhaseDispatching
	PhaseAggregating
	PhaseFinished
	PhaseStopped
	PhaseErrored
)

// Terminal reports whether the run has ended.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseFinished, PhaseStopped, PhaseErrored:
		return true
	}
	return false
}

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePreparing:
		return "preparing"
	case PhaseDispatching:
		return "dispatching"
	case PhaseAggregating:
		return "aggregating"
	case PhaseFinished:
		return "finished"
	case PhaseStopped:
		return "stopped"
	case PhaseErrored:
		return "errored"
	default:
		return "unknown"
	}
}
