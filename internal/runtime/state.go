package runtime

// State is the lifecycle position of a capture session.
//
//	Idle -> Capturing -> Stopping -> Persisted -> Evaluated|Skipped -> Terminated
//
// Failed is terminal and is only reached when the device cannot be opened,
// the device is lost, or the transcript cannot be written.
type State int32

const (
	StateIdle State = iota
	StateCapturing
	StateStopping
	StatePersisted
	StateEvaluated
	StateSkipped
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateStopping:
		return "stopping"
	case StatePersisted:
		return "persisted"
	case StateEvaluated:
		return "evaluated"
	case StateSkipped:
		return "skipped"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
