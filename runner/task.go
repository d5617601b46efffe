package runner

import "sync"

// ExecKind distinguishes the two task execution shapes.
type ExecKind int

const (
	// ThreadKind runs the task body as a dedicated goroutine.
	ThreadKind ExecKind = iota
	// WorkItemKind runs the task body as a cooperative work item that
	// re-enqueues itself via Reschedule until done.
	WorkItemKind
)

func (k ExecKind) String() string {
	if k == ThreadKind {
		return "thread"
	}
	return "work-item"
}

// DeviceHandle is an opaque collaborator handle passed to DeviceReady.
type DeviceHandle any

// DeviceReady is the device-readiness predicate, polymorphic over whatever
// concrete driver handle the application defines.
type DeviceReady func(DeviceHandle) bool

// TaskArg is a task's argument: either a constant, opaque value handed to
// the task body unchanged, or a device handle that must pass DeviceReady
// before the task is eligible to run.
type TaskArg struct {
	isDevice bool
	value    any
}

// ConstArg wraps a plain, always-ready argument.
func ConstArg(v any) TaskArg { return TaskArg{value: v} }

// DeviceArg wraps a device handle that must be proven ready at Init.
func DeviceArg(h DeviceHandle) TaskArg { return TaskArg{isDevice: true, value: h} }

// IsDevice reports whether this argument must pass a readiness predicate.
func (a TaskArg) IsDevice() bool { return a.isDevice }

// Value returns the wrapped argument, device handle or constant alike.
func (a TaskArg) Value() any { return a.value }

// ThreadEntry is the entry point for a ThreadKind task. It is handed the
// schedule index it was started from, its termination signal, and its
// argument.
type ThreadEntry func(scheduleIndex int, term *TermSignal, arg TaskArg)

// WorkResult is the step-function return value for WorkItemKind tasks: a
// worker either finishes or asks to be invoked again after a delay, and
// the queue loop stays pure dispatch.
type WorkResult struct {
	done    bool
	delayMS uint64
}

// Done signals the work item has finished this run.
func Done() WorkResult { return WorkResult{done: true} }

// RescheduleIn asks the work queue to invoke the worker again after delayMS
// milliseconds.
func RescheduleIn(delayMS uint64) WorkResult {
	return WorkResult{delayMS: delayMS}
}

// WorkFn is the worker callback for a WorkItemKind task.
type WorkFn func(scheduleIndex int, term *TermSignal, arg TaskArg) WorkResult

// TaskDefinition is the compile-time, immutable description of a task.
// Definitions are supplied by the application in a static slice and the
// core never allocates or mutates them.
type TaskDefinition struct {
	// ID is the task's 8-bit identifier; must be unique within a task
	// set.
	ID uint8
	// Name is a human-readable label used for thread naming and traces.
	Name string
	// Kind selects the execution shape.
	Kind ExecKind
	// Arg is the task's argument, constant or device-backed.
	Arg TaskArg
	// ThreadEntry is required when Kind == ThreadKind.
	ThreadEntry ThreadEntry
	// WorkFn is required when Kind == WorkItemKind.
	WorkFn WorkFn
}

// TaskState is the mutable, per-definition state the runner tracks, one
// per TaskDefinition.
type TaskState struct {
	mu sync.Mutex

	running       bool
	scheduleIndex int // index of the schedule this task booted from, -1 if not running
	skip          bool
	term          *TermSignal
	rescheduleCnt uint64

	handle executionHandle
}

// executionHandle abstracts over the thread and work-item execution
// mechanics the executor needs to poll for completion.
type executionHandle interface {
	// done reports whether the task body has returned.
	done() bool
}

// NewTaskState returns a freshly initialized, not-running TaskState.
func NewTaskState() *TaskState {
	return &TaskState{scheduleIndex: -1}
}

// Running reports whether the task is currently executing.
func (s *TaskState) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Skip reports whether the task was marked unavailable at Init and must
// never be started.
func (s *TaskState) Skip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skip
}

// ScheduleIndex returns the schedule index the task is bound to, or -1.
func (s *TaskState) ScheduleIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleIndex
}

// RescheduleCount returns the number of times a WorkItemKind task has
// yielded back into the queue during its current run.
func (s *TaskState) RescheduleCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rescheduleCnt
}
