// Package metrics wraps github.com/hashicorp/go-metrics with the small
// surface the task runner core needs: counters for evaluator decisions and
// executor transitions, iteration timing, and a gauge setter. The sink is
// injectable, so tests use an in-memory sink and the reference daemon can
// point at a real one.
package metrics

import (
	"time"

	gometrics "github.com/hashicorp/go-metrics"
)

// Recorder is a thin, nil-safe wrapper so components can accept a *Recorder
// without every call site needing a nil check.
type Recorder struct {
	m *gometrics.Metrics
}

// New returns a Recorder backed by an in-memory sink, suitable for the
// reference daemon and for tests that want to assert on counters.
func New(serviceName string) *Recorder {
	sink := gometrics.NewInmemSink(10*time.Second, time.Minute)
	cfg := gometrics.DefaultConfig(serviceName)
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false

	m, err := gometrics.New(cfg, sink)
	if err != nil {
		// DefaultConfig+InmemSink cannot fail; guard anyway rather than
		// letting a nil Metrics panic deep in the hot path.
		return &Recorder{}
	}
	return &Recorder{m: m}
}

// IncrCounter increments the named counter by 1, tagged with labels.
func (r *Recorder) IncrCounter(key []string, labels ...gometrics.Label) {
	if r == nil || r.m == nil {
		return
	}
	r.m.IncrCounterWithLabels(key, 1, labels)
}

// SetGauge records an instantaneous value, such as the count of currently
// running tasks.
func (r *Recorder) SetGauge(key []string, val float32) {
	if r == nil || r.m == nil {
		return
	}
	r.m.SetGauge(key, val)
}

// MeasureSince records the elapsed time since start under key, used for
// iteration duration and schedule-start latency.
func (r *Recorder) MeasureSince(key []string, start time.Time) {
	if r == nil || r.m == nil {
		return
	}
	r.m.MeasureSince(key, start)
}

// Label is re-exported so callers don't need to import go-metrics directly.
type Label = gometrics.Label
