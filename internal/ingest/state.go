package ingest

// State is a pipeline lifecycle state.
//
//	Idle -> Connecting -> QueueReady -> Consuming -> Draining -> Closed
//	                 \____________\___________\_______-> Faulted
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateQueueReady
	StateConsuming
	StateDraining
	StateClosed
	StateFaulted
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateConnecting: "connecting",
	StateQueueReady: "queue_ready",
	StateConsuming:  "consuming",
	StateDraining:   "draining",
	StateClosed:     "closed",
	StateFaulted:    "faulted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFaulted
}

// Stage names where a delivery failed.
type Stage string

const (
	StageDecode Stage = "decode"
	StageSink   Stage = "sink"
	StageAck    Stage = "ack"
)
