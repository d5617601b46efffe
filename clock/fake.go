package clock

import "sync"

// Fake is a Source driven entirely by test code, so schedule tests assert
// at exact instants instead of sleeping in real time. Advance moves uptime
// forward; SetCivilTime controls wall-clock validity independently, since
// a device can have uptime without a fixed GNSS or RPC time yet.
type Fake struct {
	mu       sync.Mutex
	uptimeS  uint64
	hz       uint64
	civilS   uint64
	civilVal Validity
}

// NewFake returns a Fake clock starting at uptime 0 with no civil time set,
// ticking at hz ticks per second.
func NewFake(hz uint64) *Fake {
	if hz == 0 {
		hz = 1000
	}
	return &Fake{hz: hz, civilVal: None}
}

// Advance moves uptime forward by delta seconds.
func (f *Fake) Advance(delta uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uptimeS += delta
}

// Set pins uptime to an absolute value, useful for table-driven scenario
// tests that assert behavior at specific instants.
func (f *Fake) Set(uptimeS uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uptimeS = uptimeS
}

// SetCivilTime sets the wall-clock seconds and validity reported by
// CivilTime.
func (f *Fake) SetCivilTime(seconds uint64, valid Validity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.civilS = seconds
	f.civilVal = valid
}

func (f *Fake) UptimeSeconds() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uptimeS
}

func (f *Fake) UptimeTicks() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uptimeS * f.hz
}

func (f *Fake) TicksPerSecond() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hz
}

func (f *Fake) TicksToMS(ticks uint64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hz == 0 {
		return 0
	}
	return ticks * 1000 / f.hz
}

func (f *Fake) CivilTime() (uint64, Validity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.civilS, f.civilVal
}
