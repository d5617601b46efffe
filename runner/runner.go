package runner

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	gometrics "github.com/hashicorp/go-metrics"

	"github.com/infuse-iot/taskrunner/bus"
	"github.com/infuse-iot/taskrunner/clock"
	"github.com/infuse-iot/taskrunner/kv"
	"github.com/infuse-iot/taskrunner/metrics"
)

// reloadPhase tracks the schedule-reload state machine: a KV change
// requests a reload, every running task is asked to terminate, and only a
// fully quiescent runner rebuilds the schedule set.
type reloadPhase int

const (
	idle reloadPhase = iota
	reloadRequested
	terminatingAll
)

// Runner ties the schedule store, evaluator and executor together and
// implements the main iterate loop.
type Runner struct {
	KV           kv.Store
	Clock        clock.Source
	Tasks        []TaskDefinition
	AppDefaultID uint16
	Watchdog     Watchdog
	Queue        WorkQueue
	Metrics      *metrics.Recorder
	Logger       hclog.Logger
	Trace        func(TraceEvent)

	taskStates []*TaskState
	schedules  [SMax]*Schedule
	states     [SMax]*ScheduleState
	numEval    int

	executor *Executor

	mu          sync.Mutex
	phase       reloadPhase
	cancelWatch func()

	watchdogChan *bus.Channel[struct{}]
}

// Init validates task definitions, checks device readiness, loads the
// schedule set, links after-predecessors, and registers for KV change
// notifications. Init must complete before the first Iterate. Faults are
// recovered locally: duplicate identifiers and unready devices are
// surfaced through the logger and trace records, invalid default
// schedules are dropped by the loader without a log line, and corrupt
// persisted slots are logged by the loader. Init never fails.
func (r *Runner) Init(defaults []*Schedule, tasks []TaskDefinition, deviceReady DeviceReady) {
	r.Tasks = tasks
	r.Logger = r.logger()
	r.watchdogChan = bus.New[struct{}]("watchdog", r.Clock)

	seen := make(map[uint8]bool, len(tasks))
	for _, t := range tasks {
		if seen[t.ID] {
			r.Logger.Error("duplicate task id in definitions", "id", t.ID, "task", t.Name)
			r.trace("init", -1, "duplicate-task-id", fmt.Errorf("%w: duplicate task id %d", ErrInvalidArgument, t.ID))
		}
		seen[t.ID] = true
	}

	r.taskStates = make([]*TaskState, len(tasks))
	for i, t := range tasks {
		ts := NewTaskState()
		if t.Arg.IsDevice() && deviceReady != nil && !deviceReady(t.Arg.Value()) {
			ts.skip = true
			r.Logger.Warn("task device not ready, skipping permanently", "task", t.Name)
			r.trace("init", -1, "device-not-ready", fmt.Errorf("%w: device not ready for task %q", ErrUnavailable, t.Name))
		}
		r.taskStates[i] = ts
	}

	loader := &Loader{
		KV:           r.KV,
		Tasks:        tasks,
		AppDefaultID: r.AppDefaultID,
		Logger:       r.Logger.Named("schedule_store"),
	}
	r.schedules, r.numEval = loader.Load(defaults)

	for i := 0; i < r.numEval; i++ {
		if r.states[i] == nil {
			r.states[i] = NewScheduleState()
		}
		if sched := r.schedules[i]; sched != nil {
			if idx := r.taskIndex(sched.TaskID); idx >= 0 {
				r.states[i].TaskIndex = idx
			}
		}
	}
	r.linkPredecessors()

	r.executor = &Executor{Tasks: tasks, Queue: r.Queue, Metrics: r.Metrics, Logger: r.Logger.Named("executor")}

	r.cancelWatch = r.KV.Watch(ReservedKeyPrefix, func(string) {
		r.mu.Lock()
		if r.phase == idle {
			r.phase = reloadRequested
		}
		r.mu.Unlock()
	})
}

func (r *Runner) logger() hclog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return hclog.NewNullLogger()
}

func (r *Runner) taskIndex(id uint8) int {
	for i, t := range r.Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (r *Runner) linkPredecessors() {
	for i := 0; i < r.numEval; i++ {
		sched := r.schedules[i]
		if sched == nil || sched.Periodicity.Kind != After {
			continue
		}
		pi := int(sched.Periodicity.PredecessorIndex)
		if pi < 0 || pi >= SMax || r.states[pi] == nil {
			continue
		}
		r.states[i].predecessor = r.states[pi]
	}
}

// ScheduleState returns the mutable state for slot idx, or nil if idx is
// out of range. Task bodies use it to reach their schedule's runtime-state
// blob.
func (r *Runner) ScheduleState(idx int) *ScheduleState {
	if idx < 0 || idx >= SMax {
		return nil
	}
	return r.states[idx]
}

// WatchdogChannel exposes the per-iteration liveness feed as a bus
// channel: external liveness monitors subscribe the same way any other
// data-channel consumer does.
func (r *Runner) WatchdogChannel() *bus.Channel[struct{}] {
	return r.watchdogChan
}

func (r *Runner) trace(iterationID string, idx int, event string, err error) {
	if r.Trace != nil {
		r.Trace(TraceEvent{IterationID: iterationID, ScheduleIndex: idx, Event: event, Err: err})
	}
}

// Iterate runs one scheduling quantum: it feeds the watchdog, reaps
// terminated tasks, advances the reload state machine, then evaluates
// schedules in index order.
func (r *Runner) Iterate(in EvalInputs) {
	defer r.Metrics.MeasureSince([]string{"taskrunner", "iterate"}, time.Now())
	iterationID := newIterationID()

	if r.Watchdog != nil {
		r.Watchdog.Feed()
	}
	r.watchdogChan.Publish(struct{}{})

	anyRunning := r.reapAll(in.UptimeS)

	r.mu.Lock()
	phase := r.phase
	r.mu.Unlock()

	switch phase {
	case reloadRequested:
		r.mu.Lock()
		r.phase = terminatingAll
		r.mu.Unlock()
		r.requestTerminateAll()
		r.trace(iterationID, -1, "reload-requested", nil)
		return
	case terminatingAll:
		if anyRunning {
			// Re-issue terminates: raises are idempotent, and the
			// repeat zero-delay reschedule covers a work item whose own
			// long reschedule raced the first request.
			r.requestTerminateAll()
			r.trace(iterationID, -1, "terminating-all-pending", nil)
			return
		}
		r.reload()
		r.mu.Lock()
		r.phase = idle
		r.mu.Unlock()
		r.trace(iterationID, -1, "reloaded", nil)
	}

	for i := 0; i < r.numEval; i++ {
		sched := r.schedules[i]
		if sched == nil {
			continue
		}
		state := r.states[i]
		taskIdx := state.TaskIndex
		if taskIdx < 0 || taskIdx >= len(r.taskStates) {
			continue
		}
		taskState := r.taskStates[taskIdx]
		def := &r.Tasks[taskIdx]

		if taskState.Running() && taskState.ScheduleIndex() != i {
			// The task is running on behalf of another schedule; only
			// the booting schedule may terminate or restart it.
			r.Metrics.IncrCounter([]string{"taskrunner", "evaluator", "busy"}, gometrics.Label{Name: "task", Value: def.Name})
			r.trace(iterationID, i, "busy", ErrBusy)
			continue
		}

		if ShouldTerminate(sched, state, taskState, in, false) {
			r.executor.RequestTerminate(i, state, taskState)
			r.Metrics.IncrCounter([]string{"taskrunner", "evaluator", "terminate"}, gometrics.Label{Name: "task", Value: def.Name})
			r.trace(iterationID, i, "terminate-requested", nil)
			continue
		}

		if ShouldStart(sched, state, taskState, in) {
			MarkStarted(state, in.UptimeS)
			r.executor.Start(i, def, state, taskState)
			r.Metrics.IncrCounter([]string{"taskrunner", "evaluator", "start"}, gometrics.Label{Name: "task", Value: def.Name})
			r.trace(iterationID, i, "started", nil)
		}
	}
}

func (r *Runner) reapAll(uptimeS uint64) (anyRunning bool) {
	for i := 0; i < r.numEval; i++ {
		sched := r.schedules[i]
		if sched == nil {
			continue
		}
		state := r.states[i]
		taskIdx := state.TaskIndex
		if taskIdx < 0 || taskIdx >= len(r.taskStates) {
			continue
		}
		taskState := r.taskStates[taskIdx]
		def := &r.Tasks[taskIdx]

		if taskState.Running() && taskState.ScheduleIndex() == i {
			if !r.executor.Reap(i, def, state, taskState, uptimeS) {
				anyRunning = true
			}
		}
	}
	return anyRunning
}

func (r *Runner) requestTerminateAll() {
	for i := 0; i < r.numEval; i++ {
		sched := r.schedules[i]
		if sched == nil {
			continue
		}
		state := r.states[i]
		taskIdx := state.TaskIndex
		if taskIdx < 0 || taskIdx >= len(r.taskStates) {
			continue
		}
		taskState := r.taskStates[taskIdx]
		if taskState.Running() && taskState.ScheduleIndex() == i {
			r.executor.RequestTerminate(i, state, taskState)
		}
	}
}

func (r *Runner) reload() {
	loader := &Loader{
		KV:           r.KV,
		Tasks:        r.Tasks,
		AppDefaultID: r.AppDefaultID,
		Logger:       r.logger().Named("schedule_store"),
	}
	// Defaults are not retained by Runner past Init; a reload re-reads
	// whatever is persisted, with only the currently loaded locked
	// schedules passed back as defaults. A non-locked slot absent from
	// persistence stays invalid.
	r.schedules, r.numEval = loader.Load(r.lastDefaults())

	for i := 0; i < r.numEval; i++ {
		if r.states[i] == nil {
			r.states[i] = NewScheduleState()
		}
		if sched := r.schedules[i]; sched != nil {
			if idx := r.taskIndex(sched.TaskID); idx >= 0 {
				r.states[i].TaskIndex = idx
			}
		}
	}
	r.linkPredecessors()
}

// lastDefaults stands in for the default set Init was called with, which is
// not retained: reload only re-reads KV-persisted, non-locked slots and leaves
// previously loaded locked defaults in place by passing the current
// in-memory schedules back through as the "defaults" the loader compares
// locked-ness against.
func (r *Runner) lastDefaults() []*Schedule {
	out := make([]*Schedule, r.numEval)
	for i := 0; i < r.numEval; i++ {
		if r.schedules[i] != nil && r.schedules[i].Validity.Locked {
			out[i] = r.schedules[i]
		}
	}
	return out
}

// Close releases the runner's KV watch registration.
func (r *Runner) Close() {
	if r.cancelWatch != nil {
		r.cancelWatch()
	}
}
