package runner

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// SMax is the maximum number of schedule slots.
const SMax = 32

// taskIDKnown reports whether id is bound by some compile-time task
// definition.
func taskIDKnown(tasks []TaskDefinition, id uint8) bool {
	for _, t := range tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

// Validate checks a schedule against every structural rule and returns
// the violated ones via go-multierror rather than only the first, so a
// caller debugging a bad default schedule sees the whole picture at once.
// A nil return means the schedule is valid.
func Validate(s *Schedule, tasks []TaskDefinition) error {
	var result *multierror.Error

	switch s.Validity.Mode {
	case Never, Active, Inactive, Always, PermanentlyRuns:
	default:
		result = multierror.Append(result, fmt.Errorf("%w: unknown validity mode %d", ErrInvalidArgument, s.Validity.Mode))
	}

	if s.BatteryStartThreshold > 100 {
		result = multierror.Append(result, fmt.Errorf("%w: battery_start_threshold %d > 100", ErrInvalidArgument, s.BatteryStartThreshold))
	}
	if s.BatteryTerminateThreshold > 100 {
		result = multierror.Append(result, fmt.Errorf("%w: battery_terminate_threshold %d > 100", ErrInvalidArgument, s.BatteryTerminateThreshold))
	}

	switch s.Periodicity.Kind {
	case Fixed:
		if s.Periodicity.PeriodS == 0 && s.Validity.Mode != PermanentlyRuns {
			result = multierror.Append(result, fmt.Errorf("%w: fixed period_s == 0 is a runaway task", ErrInvalidArgument))
		}
	case After:
		if int(s.Periodicity.PredecessorIndex) >= SMax {
			result = multierror.Append(result, fmt.Errorf("%w: after predecessor_index %d >= S_MAX", ErrInvalidArgument, s.Periodicity.PredecessorIndex))
		}
	case Lockout, Event:
		// no additional constraints
	default:
		result = multierror.Append(result, fmt.Errorf("%w: unknown periodicity kind %d", ErrInvalidArgument, s.Periodicity.Kind))
	}

	if !taskIDKnown(tasks, s.TaskID) {
		result = multierror.Append(result, fmt.Errorf("%w: task id %d is not bound by any definition", ErrInvalidArgument, s.TaskID))
	}

	if len(s.Logging) > MaxTaskLogging {
		result = multierror.Append(result, fmt.Errorf("%w: %d task_logging entries exceeds max %d", ErrInvalidArgument, len(s.Logging), MaxTaskLogging))
	}
	if len(s.TaskArgs) > MaxTaskArgsLen {
		result = multierror.Append(result, fmt.Errorf("%w: task_args length %d exceeds max %d", ErrInvalidArgument, len(s.TaskArgs), MaxTaskArgsLen))
	}

	return result.ErrorOrNil()
}
