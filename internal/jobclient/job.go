package jobclient

// Status is what the remote service reports for a job.
type Status string

const (
	StatusRunning Status = "running"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// State is the client-side progress of one submit/poll/fetch sequence.
// States only move forward.
type State int

const (
	StateIdle State = iota
	StateSubmitted
	StatePolling
	StateCompleted
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitted:
		return "submitted"
	case StatePolling:
		return "polling"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s >= StateCompleted
}

type Job struct {
	ID     string
	Status Status
	Reason string
}

// sequence tracks one run of the state machine.
type sequence struct {
	job      Job
	state    State
	observer func(Job, State)
}

func (s *sequence) advance(next State) {
	if next <= s.state || s.state.Terminal() {
		return
	}
	s.state = next
	if s.observer != nil {
		s.observer(s.job, next)
	}
}
