package dispatch

// State is a step of the conversion state machine.
type State int

const (
	StateStart State = iota
	StateCacheCheck
	StateSelectProvider
	StateInvoke
	StateScore
	StateCacheWrite
	StateNextCandidate
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateStart:          "start",
	StateCacheCheck:     "cache_check",
	StateSelectProvider: "select_provider",
	StateInvoke:         "invoke",
	StateScore:          "score",
	StateCacheWrite:     "cache_write",
	StateNextCandidate:  "next_candidate",
	StateDone:           "done",
	StateFailed:         "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
