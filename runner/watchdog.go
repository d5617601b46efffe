package runner

import (
	"sync"
	"time"
)

// Watchdog is the liveness gate: the runner feeds it once per iteration,
// and it independently enforces a hardware or platform reset if the feed
// stops arriving.
type Watchdog interface {
	// Feed resets the watchdog's expiry window.
	Feed()
	// Stop releases any resources the watchdog holds, without firing its
	// expiry handler.
	Stop()
}

// TimerWatchdog is a software watchdog built on time.AfterFunc, standing
// in for a hardware watchdog peripheral: Expired is invoked when Feed fails
// to arrive within window. A Feed after expiry re-arms the timer, so
// Expired can run again if feeding stops again.
type TimerWatchdog struct {
	mu      sync.Mutex
	window  time.Duration
	timer   *time.Timer
	Expired func()
}

// NewTimerWatchdog returns a watchdog armed for window, calling expired if
// Feed is not called again before it elapses.
func NewTimerWatchdog(window time.Duration, expired func()) *TimerWatchdog {
	w := &TimerWatchdog{window: window, Expired: expired}
	w.timer = time.AfterFunc(window, w.fire)
	return w
}

func (w *TimerWatchdog) fire() {
	w.mu.Lock()
	expired := w.Expired
	w.mu.Unlock()
	if expired != nil {
		expired()
	}
}

// Feed resets the expiry window.
func (w *TimerWatchdog) Feed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Reset(w.window)
	}
}

// Stop disarms the watchdog permanently.
func (w *TimerWatchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
