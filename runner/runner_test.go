package runner

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shoenig/test/must"
	"github.com/shoenig/test/wait"

	"github.com/infuse-iot/taskrunner/clock"
	"github.com/infuse-iot/taskrunner/kv"
	"github.com/infuse-iot/taskrunner/metrics"
)

func newTestRunner(t *testing.T) (*Runner, *kv.Mem) {
	t.Helper()
	store := kv.NewMem()
	r := &Runner{
		KV:      store,
		Clock:   clock.NewFake(1),
		Queue:   NewQueue(),
		Metrics: metrics.New("test"),
	}
	t.Cleanup(r.Close)
	return r, store
}

func blockingThread(counter *atomic.Int32) ThreadEntry {
	return func(scheduleIndex int, term *TermSignal, arg TaskArg) {
		counter.Add(1)
		<-term.C()
	}
}

// Scenario 1: periodic run.
func TestScenario_PeriodicRun(t *testing.T) {
	var runs atomic.Int32
	tasks := []TaskDefinition{{ID: 1, Name: "T_A", Kind: ThreadKind, ThreadEntry: blockingThread(&runs)}}
	defaults := []*Schedule{{
		TaskID:      1,
		Validity:    Validity{Mode: Always},
		Periodicity: Periodicity{Kind: Fixed, PeriodS: 5},
		TimeoutS:    4,
	}}

	r, _ := newTestRunner(t)
	r.Init(defaults, tasks, nil)

	// Ten seconds, t=0..9: starts at t=0 and t=5, each terminated by the
	// 4 s timeout.
	for uptime := uint64(0); uptime < 10; uptime++ {
		r.Iterate(EvalInputs{UptimeS: uptime})
		time.Sleep(5 * time.Millisecond)
	}

	must.Eq(t, int32(2), runs.Load())
}

// Scenario 2: lockout.
func TestScenario_Lockout(t *testing.T) {
	var runs atomic.Int32
	tasks := []TaskDefinition{{ID: 1, Name: "T_A", Kind: ThreadKind, ThreadEntry: blockingThread(&runs)}}
	defaults := []*Schedule{{
		TaskID:      1,
		Validity:    Validity{Mode: Always},
		Periodicity: Periodicity{Kind: Lockout, LockoutS: 60},
		TimeoutS:    10,
	}}

	r, _ := newTestRunner(t)
	r.Init(defaults, tasks, nil)

	for uptime := uint64(0); uptime <= 11; uptime++ {
		r.Iterate(EvalInputs{UptimeS: uptime})
		time.Sleep(5 * time.Millisecond)
	}
	must.Eq(t, int32(1), runs.Load())

	// Terminate was requested at t=10 and the reap at t=11 recorded
	// last_terminate, so the lockout window runs to t=71.
	for uptime := uint64(12); uptime <= 70; uptime++ {
		r.Iterate(EvalInputs{UptimeS: uptime})
	}
	must.Eq(t, int32(1), runs.Load())

	r.Iterate(EvalInputs{UptimeS: 71})
	time.Sleep(5 * time.Millisecond)
	must.Eq(t, int32(2), runs.Load())
}

// Scenario 3: after-chain.
func TestScenario_AfterChain(t *testing.T) {
	var runsA, runsB atomic.Int32
	tasks := []TaskDefinition{
		{ID: 1, Name: "A", Kind: ThreadKind, ThreadEntry: blockingThread(&runsA)},
		{ID: 2, Name: "B", Kind: ThreadKind, ThreadEntry: blockingThread(&runsB)},
	}
	defaults := []*Schedule{
		{TaskID: 1, Validity: Validity{Mode: Always}, Periodicity: Periodicity{Kind: Fixed, PeriodS: 30}, TimeoutS: 5},
		{TaskID: 2, Validity: Validity{Mode: Always}, Periodicity: Periodicity{Kind: After, PredecessorIndex: 0, GapS: 2}, TimeoutS: 5},
	}

	r, _ := newTestRunner(t)
	r.Init(defaults, tasks, nil)

	for uptime := uint64(0); uptime <= 8; uptime++ {
		r.Iterate(EvalInputs{UptimeS: uptime})
		time.Sleep(5 * time.Millisecond)
	}

	must.Eq(t, int32(1), runsA.Load())
	must.Eq(t, int32(1), runsB.Load())
}

// Scenario 4: locked default wins.
func TestScenario_LockedDefaultWins(t *testing.T) {
	tasks := []TaskDefinition{{ID: 1, Name: "T_A", Kind: WorkItemKind, WorkFn: func(int, *TermSignal, TaskArg) WorkResult { return Done() }}}
	defaults := []*Schedule{{
		TaskID:      1,
		Validity:    Validity{Mode: Always, Locked: true},
		Periodicity: Periodicity{Kind: Fixed, PeriodS: 10},
	}}

	r, store := newTestRunner(t)
	r.Init(defaults, tasks, nil)

	other := &Schedule{
		TaskID:      1,
		Validity:    Validity{Mode: Always},
		Periodicity: Periodicity{Kind: Fixed, PeriodS: 3},
	}
	must.NoError(t, store.Write(slotKey(0), EncodeSchedule(other)))

	r.reload()

	must.Eq(t, uint32(10), r.schedules[0].Periodicity.PeriodS)
}

// Scenario 5: KV change triggers quiescence then reload.
func TestScenario_KVChangeTriggersQuiescenceThenReload(t *testing.T) {
	var runs atomic.Int32
	tasks := []TaskDefinition{{ID: 1, Name: "T_A", Kind: ThreadKind, ThreadEntry: blockingThread(&runs)}}
	defaults := []*Schedule{{
		TaskID:      1,
		Validity:    Validity{Mode: Always},
		Periodicity: Periodicity{Kind: Fixed, PeriodS: 1},
		TimeoutS:    1000,
	}}

	r, store := newTestRunner(t)
	r.Init(defaults, tasks, nil)

	r.Iterate(EvalInputs{UptimeS: 0})
	time.Sleep(5 * time.Millisecond)
	must.Eq(t, int32(1), runs.Load())
	must.True(t, r.taskStates[0].Running())

	must.NoError(t, store.Write(slotKey(0), EncodeSchedule(defaults[0])))

	r.Iterate(EvalInputs{UptimeS: 1})
	r.mu.Lock()
	phase := r.phase
	r.mu.Unlock()
	must.Eq(t, terminatingAll, phase)
	must.True(t, r.taskStates[0].Running())

	must.Wait(t, wait.InitialSuccess(
		wait.BoolFunc(func() bool {
			r.Iterate(EvalInputs{UptimeS: 2})
			r.mu.Lock()
			defer r.mu.Unlock()
			return r.phase == idle
		}),
		wait.Timeout(time.Second),
		wait.Gap(5*time.Millisecond),
	))

	// The iteration that rebuilt the set was free to restart the task
	// under the new schedule.
	must.Wait(t, wait.InitialSuccess(
		wait.BoolFunc(func() bool { return runs.Load() == 2 }),
		wait.Timeout(time.Second),
		wait.Gap(5*time.Millisecond),
	))
}

// Scenario 6: device-not-ready skip.
func TestScenario_DeviceNotReadySkip(t *testing.T) {
	var runs atomic.Int32
	tasks := []TaskDefinition{{
		ID:          1,
		Name:        "T_A",
		Kind:        ThreadKind,
		Arg:         DeviceArg("imu"),
		ThreadEntry: blockingThread(&runs),
	}}
	defaults := []*Schedule{{
		TaskID:      1,
		Validity:    Validity{Mode: Always},
		Periodicity: Periodicity{Kind: Fixed, PeriodS: 1},
	}}

	r, _ := newTestRunner(t)
	var traced []TraceEvent
	r.Trace = func(ev TraceEvent) { traced = append(traced, ev) }
	r.Init(defaults, tasks, func(DeviceHandle) bool { return false })

	// Init recovers the fault locally and records it as a trace event.
	found := false
	for _, ev := range traced {
		if errors.Is(ev.Err, ErrUnavailable) {
			found = true
		}
	}
	must.True(t, found)

	for uptime := uint64(0); uptime <= 5; uptime++ {
		r.Iterate(EvalInputs{UptimeS: uptime})
	}
	must.Eq(t, int32(0), runs.Load())
}

// Universal property: unique execution / lowest-index-wins arbitration.
func TestEvaluator_LowestIndexWins(t *testing.T) {
	var runs atomic.Int32
	tasks := []TaskDefinition{{ID: 1, Name: "shared", Kind: ThreadKind, ThreadEntry: blockingThread(&runs)}}
	defaults := []*Schedule{
		{TaskID: 1, Validity: Validity{Mode: Always}, Periodicity: Periodicity{Kind: Fixed, PeriodS: 1}, TimeoutS: 1000},
		{TaskID: 1, Validity: Validity{Mode: Always}, Periodicity: Periodicity{Kind: Fixed, PeriodS: 1}, TimeoutS: 1000},
	}

	r, _ := newTestRunner(t)
	r.Init(defaults, tasks, nil)

	r.Iterate(EvalInputs{UptimeS: 0})
	time.Sleep(5 * time.Millisecond)

	must.Eq(t, int32(1), runs.Load())
	must.Eq(t, 0, r.taskStates[0].ScheduleIndex())
}

// A schedule whose task is running on behalf of a different schedule may
// neither restart nor terminate it.
func TestIterate_BusyScheduleLeavesOthersTaskAlone(t *testing.T) {
	var runs atomic.Int32
	tasks := []TaskDefinition{{ID: 1, Name: "shared", Kind: ThreadKind, ThreadEntry: blockingThread(&runs)}}
	defaults := []*Schedule{
		{TaskID: 1, Validity: Validity{Mode: Always}, Periodicity: Periodicity{Kind: Fixed, PeriodS: 1}, TimeoutS: 1000},
		// Closed validity gate and a tiny timeout: if this schedule were
		// allowed to evaluate the running task, it would terminate it.
		{TaskID: 1, Validity: Validity{Mode: Active, State: "never-set"}, Periodicity: Periodicity{Kind: Fixed, PeriodS: 1}, TimeoutS: 1},
	}

	r, _ := newTestRunner(t)
	r.Init(defaults, tasks, nil)

	r.Iterate(EvalInputs{UptimeS: 0})
	time.Sleep(5 * time.Millisecond)
	must.Eq(t, int32(1), runs.Load())
	must.Eq(t, 0, r.taskStates[0].ScheduleIndex())

	for uptime := uint64(1); uptime <= 5; uptime++ {
		r.Iterate(EvalInputs{UptimeS: uptime})
		time.Sleep(time.Millisecond)
	}
	must.True(t, r.taskStates[0].Running())
	must.Eq(t, int32(1), runs.Load())
}

// Universal property: merge stability.
func TestProperty_MergeStability(t *testing.T) {
	tasks := []TaskDefinition{{ID: 1, Name: "T_A", Kind: WorkItemKind, WorkFn: func(int, *TermSignal, TaskArg) WorkResult { return Done() }}}
	defaults := []*Schedule{
		{TaskID: 1, Validity: Validity{Mode: Always}, Periodicity: Periodicity{Kind: Fixed, PeriodS: 5}},
		{TaskID: 1, Validity: Validity{Mode: Always, Locked: true}, Periodicity: Periodicity{Kind: Fixed, PeriodS: 10}},
	}

	r, store := newTestRunner(t)
	r.Init(defaults, tasks, nil)

	unlocked := &Schedule{TaskID: 1, Validity: Validity{Mode: Always}, Periodicity: Periodicity{Kind: Fixed, PeriodS: 3}}
	must.NoError(t, store.Write(slotKey(0), EncodeSchedule(unlocked)))
	locked := &Schedule{TaskID: 1, Validity: Validity{Mode: Always, Locked: true}, Periodicity: Periodicity{Kind: Fixed, PeriodS: 99}}
	must.NoError(t, store.Write(slotKey(1), EncodeSchedule(locked)))

	r.reload()

	must.Eq(t, uint32(3), r.schedules[0].Periodicity.PeriodS)
	must.Eq(t, uint32(10), r.schedules[1].Periodicity.PeriodS)
}

// Universal property: reset on id change.
func TestProperty_ResetOnIDChange(t *testing.T) {
	tasks := []TaskDefinition{{ID: 1, Name: "T_A", Kind: WorkItemKind, WorkFn: func(int, *TermSignal, TaskArg) WorkResult { return Done() }}}
	defaults := []*Schedule{{TaskID: 1, Validity: Validity{Mode: Always}, Periodicity: Periodicity{Kind: Fixed, PeriodS: 5}}}

	r, store := newTestRunner(t)
	r.Init(defaults, tasks, nil)

	must.NoError(t, store.Write(slotKey(0), EncodeSchedule(&Schedule{TaskID: 1, Validity: Validity{Mode: Always}, Periodicity: Periodicity{Kind: Fixed, PeriodS: 3}})))

	r2, _ := newTestRunner(t)
	r2.KV = store
	r2.AppDefaultID = 7
	r2.Init(defaults, tasks, nil)

	must.Eq(t, uint32(5), r2.schedules[0].Periodicity.PeriodS)
}

// Universal property: watchdog liveness.
func TestProperty_WatchdogLiveness(t *testing.T) {
	var fired bool
	r, _ := newTestRunner(t)
	r.Watchdog = NewTimerWatchdog(50*time.Millisecond, func() { fired = true })
	defer r.Watchdog.(*TimerWatchdog).Stop()

	r.Init(nil, nil, nil)

	for i := 0; i < 10; i++ {
		r.Iterate(EvalInputs{UptimeS: uint64(i)})
		time.Sleep(10 * time.Millisecond)
	}
	must.False(t, fired)
}

// Universal property: cooperative termination.
func TestProperty_CooperativeTermination(t *testing.T) {
	var runs atomic.Int32
	tasks := []TaskDefinition{{ID: 1, Name: "T_A", Kind: ThreadKind, ThreadEntry: blockingThread(&runs)}}
	// A period longer than the test keeps the reaping iteration from
	// restarting the task right after it is reaped.
	defaults := []*Schedule{{TaskID: 1, Validity: Validity{Mode: Always}, Periodicity: Periodicity{Kind: Fixed, PeriodS: 60}, TimeoutS: 1}}

	r, _ := newTestRunner(t)
	r.Init(defaults, tasks, nil)

	r.Iterate(EvalInputs{UptimeS: 0})
	time.Sleep(5 * time.Millisecond)
	must.True(t, r.taskStates[0].Running())

	r.Iterate(EvalInputs{UptimeS: 1}) // timeout reached, terminate requested
	time.Sleep(5 * time.Millisecond)

	must.Wait(t, wait.InitialSuccess(
		wait.BoolFunc(func() bool {
			r.Iterate(EvalInputs{UptimeS: 2})
			return !r.taskStates[0].Running()
		}),
		wait.Timeout(time.Second),
		wait.Gap(5*time.Millisecond),
	))

	must.Eq(t, uint64(2), r.states[0].LastTerminate)
}
