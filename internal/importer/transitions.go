package importer

// transitions is the static table of legal run state changes.
var transitions = map[RunState][]RunState{
	RunIdle:       {RunLoading, RunReady},
	RunLoading:    {RunReady, RunFailed},
	RunReady:      {RunProcessing, RunCancelled},
	RunProcessing: {RunPaused, RunCompleted, RunFailed, RunCancelled},
	RunPaused:     {RunProcessing, RunCancelled},
	RunCompleted:  {RunIdle},
	RunFailed:     {RunIdle, RunReady},
	RunCancelled:  {RunIdle},
}

// CanTransition reports whether from -> to appears in the transition table.
func CanTransition(from, to RunState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedTransitions lists the legal next states for from.
func AllowedTransitions(from RunState) []RunState {
	return append([]RunState(nil), transitions[from]...)
}
