package runner

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	gometrics "github.com/hashicorp/go-metrics"
	"github.com/infuse-iot/taskrunner/metrics"
)

// threadHandle tracks a ThreadKind task's goroutine.
type threadHandle struct {
	finished atomic.Bool
}

func (h *threadHandle) done() bool { return h.finished.Load() }

// workItemHandle tracks a WorkItemKind task's self-rescheduling run.
type workItemHandle struct {
	finished atomic.Bool
	item     *WorkItem
}

func (h *workItemHandle) done() bool { return h.finished.Load() }

// Executor starts and reaps task runs, and drives the STARTED,
// TERMINATE_REQUEST and STOPPED callbacks.
type Executor struct {
	Tasks   []TaskDefinition
	Queue   WorkQueue
	Metrics *metrics.Recorder
	Logger  hclog.Logger
}

func (e *Executor) logger() hclog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return hclog.NewNullLogger()
}

// Start begins running def's body for the schedule at scheduleIndex,
// transitioning taskState to running and firing STARTED.
func (e *Executor) Start(scheduleIndex int, def *TaskDefinition, state *ScheduleState, taskState *TaskState) {
	term := NewTermSignal()

	taskState.mu.Lock()
	taskState.running = true
	taskState.scheduleIndex = scheduleIndex
	taskState.term = term
	taskState.rescheduleCnt = 0
	taskState.mu.Unlock()

	if state != nil {
		if state.predecessor != nil {
			consumeAfterEdge(state)
		}
		state.eventPending = false
	}

	labels := []gometrics.Label{{Name: "task", Value: def.Name}}
	e.Metrics.IncrCounter([]string{"taskrunner", "task", "started"}, labels...)

	switch def.Kind {
	case ThreadKind:
		e.startThread(scheduleIndex, def, taskState, term)
	case WorkItemKind:
		e.startWorkItem(scheduleIndex, def, taskState, term)
	}

	if state != nil && state.OnTransition != nil {
		state.OnTransition(scheduleIndex, Started)
	}
}

func (e *Executor) startThread(scheduleIndex int, def *TaskDefinition, taskState *TaskState, term *TermSignal) {
	h := &threadHandle{}
	taskState.mu.Lock()
	taskState.handle = h
	taskState.mu.Unlock()

	entry := def.ThreadEntry
	arg := def.Arg
	name := def.Name

	go func() {
		defer h.finished.Store(true)
		defer func() {
			if r := recover(); r != nil {
				e.logger().Error("task panicked", "task", name, "panic", r)
			}
		}()
		entry(scheduleIndex, term, arg)
	}()
}

func (e *Executor) startWorkItem(scheduleIndex int, def *TaskDefinition, taskState *TaskState, term *TermSignal) {
	h := &workItemHandle{}
	item := &WorkItem{Name: def.Name}
	h.item = item

	workFn := def.WorkFn
	arg := def.Arg

	item.Fn = func() {
		if term.Raised() {
			h.finished.Store(true)
			return
		}
		result := workFn(scheduleIndex, term, arg)
		if result.done || term.Raised() {
			h.finished.Store(true)
			return
		}
		taskState.mu.Lock()
		taskState.rescheduleCnt++
		taskState.mu.Unlock()
		delay := time.Duration(result.delayMS) * time.Millisecond
		if term.Raised() {
			// Cap to zero so a raise that arrived mid-step still gets
			// observed promptly rather than after the full delay.
			delay = 0
		}
		e.Queue.Reschedule(item, delay)
	}

	taskState.mu.Lock()
	taskState.handle = h
	taskState.mu.Unlock()

	e.Queue.Enqueue(item)
}

// RequestTerminate raises the task's termination signal and fires
// TERMINATE_REQUEST. A work item pending on a long reschedule delay is
// re-queued with zero delay so it observes the signal promptly instead of
// waiting out its timer. Safe to call repeatedly; Raise is idempotent.
func (e *Executor) RequestTerminate(scheduleIndex int, state *ScheduleState, taskState *TaskState) {
	taskState.mu.Lock()
	term := taskState.term
	handle := taskState.handle
	taskState.mu.Unlock()

	if term == nil {
		return
	}
	term.Raise()

	if h, ok := handle.(*workItemHandle); ok && !h.done() {
		e.Queue.Reschedule(h.item, 0)
	}

	if state != nil && state.OnTransition != nil {
		state.OnTransition(scheduleIndex, TerminateRequest)
	}
}

// Reap polls a running task for completion. If the task has finished, Reap
// clears its running state, records Runtime/LastTerminate on state, fires
// STOPPED and returns true.
func (e *Executor) Reap(scheduleIndex int, def *TaskDefinition, state *ScheduleState, taskState *TaskState, uptimeS uint64) bool {
	taskState.mu.Lock()
	if !taskState.running || taskState.handle == nil {
		taskState.mu.Unlock()
		return false
	}
	h := taskState.handle
	taskState.mu.Unlock()

	if !h.done() {
		return false
	}

	taskState.mu.Lock()
	taskState.running = false
	taskState.scheduleIndex = -1
	taskState.handle = nil
	taskState.term = nil
	taskState.mu.Unlock()

	if state != nil {
		state.Runtime += uptimeS - state.LastRun
		state.LastTerminate = uptimeS
	}

	var labels []gometrics.Label
	if def != nil {
		labels = []gometrics.Label{{Name: "task", Value: def.Name}}
	}
	e.Metrics.IncrCounter([]string{"taskrunner", "task", "stopped"}, labels...)

	if state != nil && state.OnTransition != nil {
		state.OnTransition(scheduleIndex, Stopped)
	}

	return true
}

// MarkStarted records the uptime a schedule began running, called by the
// runner immediately before Start.
func MarkStarted(state *ScheduleState, uptimeS uint64) {
	if state != nil {
		state.LastRun = uptimeS
	}
}
