package runner

import uuid "github.com/hashicorp/go-uuid"

// TraceEvent is one internally-recorded decision or error. Init and
// Iterate never surface ErrInvalidArgument et al. to the caller, but a
// Trace func, when set, observes them.
type TraceEvent struct {
	IterationID   string
	ScheduleIndex int
	Event         string
	Err           error
}

// newIterationID generates a fresh identifier for one Iterate call, used to
// correlate every TraceEvent emitted during that call.
func newIterationID() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "unknown"
	}
	return id
}
