// Package autoiter drives a runner.Runner at a fixed cadence from the work
// queue itself, rather than a free-running goroutine timer, so iteration
// shares the same cooperative dispatch path as every task the runner
// schedules.
package autoiter

import (
	"sync/atomic"
	"time"

	"github.com/infuse-iot/taskrunner/runner"
)

// DefaultPeriod is the one-second cadence the runner is driven at.
const DefaultPeriod = time.Second

// Config configures the auto-iterator.
type Config struct {
	Runner *runner.Runner
	Queue  runner.WorkQueue
	// Inputs is called once per tick to gather the current app_states,
	// uptime, GPS time and battery percent. It must not block.
	Inputs func() runner.EvalInputs
	// Period is the iteration cadence; DefaultPeriod is used if zero.
	Period time.Duration
}

// Start enqueues the first iteration and arranges for each iteration to
// reschedule itself at an absolute instant `period` after the previous
// target, so queue latency never accumulates into clock drift. Stop halts
// future iterations; an iteration already in flight still runs to
// completion.
func Start(cfg Config) (stop func()) {
	period := cfg.Period
	if period <= 0 {
		period = DefaultPeriod
	}

	var stopped atomic.Bool
	item := &runner.WorkItem{Name: "auto-iterate"}
	var next time.Time

	item.Fn = func() {
		if stopped.Load() {
			return
		}
		cfg.Runner.Iterate(cfg.Inputs())
		if stopped.Load() {
			return
		}
		if next.IsZero() {
			next = time.Now()
		}
		next = next.Add(period)
		cfg.Queue.RescheduleAbs(item, next)
	}

	cfg.Queue.Enqueue(item)

	return func() {
		stopped.Store(true)
	}
}
