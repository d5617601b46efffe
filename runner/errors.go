package runner

import "errors"

// Error kinds surfaced by core entry points. Init and Iterate never return
// these to callers; they are recorded as structured log fields and trace
// records. Task bodies observe ErrTimeout and ErrTerminateRequested
// directly through WaitWithTermination.
var (
	// ErrInvalidArgument: a schedule referenced an unknown task id, or a
	// periodicity predecessor index was out of range.
	ErrInvalidArgument = errors.New("taskrunner: invalid argument")

	// ErrUnavailable: the bound device failed its readiness predicate;
	// the task is marked skip and its schedules never start.
	ErrUnavailable = errors.New("taskrunner: device unavailable")

	// ErrBusy: an attempt was made to start a task already running from
	// another schedule.
	ErrBusy = errors.New("taskrunner: task busy")

	// ErrStorageCorrupt: a KV slot returned the wrong number of bytes;
	// the slot is zeroed and ignored.
	ErrStorageCorrupt = errors.New("taskrunner: storage corrupt")

	// ErrTimeout: returned by WaitWithTermination when the wait's
	// deadline elapses before a wake or a terminate request.
	ErrTimeout = errors.New("taskrunner: wait timed out")

	// ErrTerminateRequested: returned by WaitWithTermination when the
	// runner has asked the task to exit.
	ErrTerminateRequested = errors.New("taskrunner: terminate requested")
)
