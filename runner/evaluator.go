package runner

import "github.com/infuse-iot/taskrunner/appstate"

// EvalInputs bundles the per-tick inputs to the evaluator.
type EvalInputs struct {
	AppStates      *appstate.States
	UptimeS        uint64
	GPSTimeS       uint64
	BatteryPercent uint8
}

// validityOpen reports whether the validity gate currently passes,
// ignoring PermanentlyRuns (handled separately by the caller).
func validityOpen(v Validity, states *appstate.States) bool {
	switch v.Mode {
	case Always:
		return true
	case Active:
		return states != nil && states.Is(v.State)
	case Inactive:
		return states == nil || !states.Is(v.State)
	case Never:
		return false
	default:
		return false
	}
}

// periodicityOpen evaluates the fixed/lockout/after/event periodicity gate
// for a should-start decision.
func periodicityOpen(p Periodicity, state *ScheduleState, in EvalInputs) bool {
	switch p.Kind {
	case Fixed:
		// First run is always allowed. A run that genuinely started at
		// uptime 0 also has LastRun == 0, so never-ran is LastRun and
		// LastTerminate both zero.
		if state.LastRun == 0 && state.LastTerminate == 0 {
			return true
		}
		return in.UptimeS-state.LastRun >= uint64(p.PeriodS)
	case Lockout:
		if state.LastTerminate == 0 {
			return true
		}
		return in.UptimeS-state.LastTerminate >= uint64(p.LockoutS)
	case After:
		pred := state.predecessor
		if pred == nil || pred.LastTerminate == 0 {
			return false
		}
		if pred.LastTerminate == state.consumedPredecessorTerminate {
			return false
		}
		if pred.LastTerminate == pred.predecessorTerminateClaimed {
			// Another, lower-indexed dependent already claimed this
			// predecessor termination instant.
			return false
		}
		if in.UptimeS < pred.LastTerminate {
			return false
		}
		elapsed := in.UptimeS - pred.LastTerminate
		return elapsed <= uint64(p.GapS)
	case Event:
		return state.eventPending
	default:
		return false
	}
}

// ShouldStart decides whether a single schedule's task should start this
// tick. taskState is the TaskState the schedule is bound to.
func ShouldStart(sched *Schedule, state *ScheduleState, taskState *TaskState, in EvalInputs) bool {
	if taskState.Running() {
		return false
	}
	if taskState.Skip() {
		return false
	}
	if sched.Validity.Mode == PermanentlyRuns {
		return true
	}
	if !validityOpen(sched.Validity, in.AppStates) {
		return false
	}
	if sched.BatteryStartThreshold > 0 && in.BatteryPercent < sched.BatteryStartThreshold {
		return false
	}
	return periodicityOpen(sched.Periodicity, state, in)
}

// ShouldTerminate decides whether a running task should be asked to exit.
// unloadAll forces every running task to terminate regardless of its own
// gates. Iterate passes false: it handles the terminating-all reload phase
// itself, before any schedule is evaluated.
func ShouldTerminate(sched *Schedule, state *ScheduleState, taskState *TaskState, in EvalInputs, unloadAll bool) bool {
	if !taskState.Running() {
		return false
	}
	if sched.Validity.Mode == PermanentlyRuns {
		return unloadAll
	}
	if unloadAll {
		return true
	}
	if sched.TimeoutS > 0 && in.UptimeS-state.LastRun >= uint64(sched.TimeoutS) {
		return true
	}
	if !validityOpen(sched.Validity, in.AppStates) {
		return true
	}
	if sched.BatteryTerminateThreshold > 0 && in.BatteryPercent <= sched.BatteryTerminateThreshold {
		return true
	}
	return false
}

// consumeAfterEdge marks state (and its predecessor) as having consumed the
// predecessor's current LastTerminate, called by the executor immediately
// after a successful After-periodicity start.
func consumeAfterEdge(state *ScheduleState) {
	if state.predecessor == nil {
		return
	}
	state.consumedPredecessorTerminate = state.predecessor.LastTerminate
	state.predecessor.predecessorTerminateClaimed = state.predecessor.LastTerminate
}
