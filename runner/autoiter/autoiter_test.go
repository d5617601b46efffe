package autoiter

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/shoenig/test/must"
	"github.com/shoenig/test/wait"

	"github.com/infuse-iot/taskrunner/clock"
	"github.com/infuse-iot/taskrunner/kv"
	"github.com/infuse-iot/taskrunner/metrics"
	"github.com/infuse-iot/taskrunner/runner"
)

func TestStart_IteratesRepeatedly(t *testing.T) {
	r := &runner.Runner{
		KV:      kv.NewMem(),
		Clock:   clock.NewFake(1),
		Queue:   runner.NewQueue(),
		Metrics: metrics.New("test"),
	}
	r.Init(nil, nil, nil)
	defer r.Close()

	var ticks atomic.Int32
	stop := Start(Config{
		Runner: r,
		Queue:  r.Queue,
		Inputs: func() runner.EvalInputs {
			ticks.Add(1)
			return runner.EvalInputs{UptimeS: uint64(ticks.Load())}
		},
		Period: 5 * time.Millisecond,
	})
	defer stop()

	must.Wait(t, wait.InitialSuccess(
		wait.BoolFunc(func() bool { return ticks.Load() >= 3 }),
		wait.Timeout(time.Second),
		wait.Gap(5*time.Millisecond),
	))
}

func TestStart_StopHaltsFutureIterations(t *testing.T) {
	r := &runner.Runner{
		KV:      kv.NewMem(),
		Clock:   clock.NewFake(1),
		Queue:   runner.NewQueue(),
		Metrics: metrics.New("test"),
	}
	r.Init(nil, nil, nil)
	defer r.Close()

	var ticks atomic.Int32
	stop := Start(Config{
		Runner: r,
		Queue:  r.Queue,
		Inputs: func() runner.EvalInputs {
			ticks.Add(1)
			return runner.EvalInputs{}
		},
		Period: 5 * time.Millisecond,
	})

	time.Sleep(20 * time.Millisecond)
	stop()
	after := ticks.Load()
	time.Sleep(50 * time.Millisecond)

	must.Eq(t, after, ticks.Load())
}
