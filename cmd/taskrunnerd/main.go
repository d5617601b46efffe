// Command taskrunnerd is the reference daemon: it wires runner.Runner to
// real collaborators (a persistent KV store, the system clock, a software
// watchdog, a cooperative work queue) and drives it with the one-second
// auto-iterator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/infuse-iot/taskrunner/appstate"
	"github.com/infuse-iot/taskrunner/clock"
	"github.com/infuse-iot/taskrunner/kv"
	"github.com/infuse-iot/taskrunner/metrics"
	"github.com/infuse-iot/taskrunner/runner"
	"github.com/infuse-iot/taskrunner/runner/autoiter"
)

func main() {
	os.Exit(Run(os.Args[1:]))
}

// Run is factored out of main so tests (and `go run`) share one exit-code
// path.
func Run(args []string) int {
	fs := flag.NewFlagSet("taskrunnerd", flag.ContinueOnError)
	store := fs.String("store", "bolt", "persistence backend: memory|bolt")
	boltPath := fs.String("bolt-path", "taskrunner.db", "bbolt database path when -store=bolt")
	logLevel := fs.String("log-level", "info", "log level: trace|debug|info|warn|error")
	watchdogS := fs.Int("watchdog-seconds", 5, "watchdog expiry window in seconds")
	appID := fs.Uint("app-id", 1, "application-supplied schema identifier")
	trace := fs.Bool("trace", false, "log a msgpack-encoded schedule snapshot every iteration")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "taskrunnerd",
		Level: hclog.LevelFromString(*logLevel),
	})

	kvStore, closeStore, err := openStore(*store, *boltPath)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return 1
	}
	defer closeStore()

	clk := clock.NewSystem(1000)
	queue := runner.NewQueue()
	rec := metrics.New("taskrunnerd")

	r := &runner.Runner{
		KV:           kvStore,
		Clock:        clk,
		AppDefaultID: uint16(*appID),
		Queue:        queue,
		Metrics:      rec,
		Logger:       logger.Named("runner"),
	}

	var heartbeats atomic.Int64
	tasks := []runner.TaskDefinition{
		{
			ID:   1,
			Name: "heartbeat",
			Kind: runner.WorkItemKind,
			WorkFn: func(scheduleIndex int, term *runner.TermSignal, arg runner.TaskArg) runner.WorkResult {
				heartbeats.Add(1)
				logger.Debug("heartbeat", "count", heartbeats.Load())
				return runner.Done()
			},
		},
	}
	defaults := []*runner.Schedule{{
		TaskID:      1,
		Validity:    runner.Validity{Mode: runner.Always},
		Periodicity: runner.Periodicity{Kind: runner.Fixed, PeriodS: 30},
	}}

	r.Init(defaults, tasks, nil)
	defer r.Close()

	wd := runner.NewTimerWatchdog(time.Duration(*watchdogS)*time.Second, func() {
		logger.Error("watchdog expired, exiting")
		os.Exit(2)
	})
	defer wd.Stop()
	r.Watchdog = wd

	states := appstate.New()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stopIter := autoiter.Start(autoiter.Config{
		Runner: r,
		Queue:  queue,
		Inputs: func() runner.EvalInputs {
			in := runner.EvalInputs{
				AppStates: states,
				UptimeS:   clk.UptimeSeconds(),
			}
			if *trace {
				if b, err := runner.EncodeSnapshot(r.Snapshot()); err == nil {
					logger.Trace("schedule snapshot", "bytes", len(b), "msgpack", fmt.Sprintf("%x", b))
				}
			}
			return in
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		stopIter()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("exiting with error", "error", err)
		return 1
	}
	return 0
}

func openStore(kind, boltPath string) (kv.Store, func(), error) {
	switch kind {
	case "memory":
		return kv.NewMem(), func() {}, nil
	case "bolt":
		b, err := kv.OpenBolt(boltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt store: %w", err)
		}
		return b, func() { _ = b.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", kind)
	}
}
