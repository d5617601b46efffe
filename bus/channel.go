// Package bus implements the task-data bus: statically defined, typed,
// single-message channels with a priority-ordered observer list and
// publish-time bookkeeping. Tasks publish their outputs here; algorithms
// and logger adapters observe. A channel holds only the latest message, so
// a slow observer never creates backpressure on a producer.
package bus

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/infuse-iot/taskrunner/clock"
)

// ErrAlreadyClaimed is returned by Claim when another writer holds the
// channel's claim.
var ErrAlreadyClaimed = errors.New("bus: channel already claimed")

// ErrNotClaimed is returned by Finish when the caller does not hold the
// claim it is trying to release.
var ErrNotClaimed = errors.New("bus: finish called without a matching claim")

// Observer is a registered subscriber. Priority determines delivery order
// (lower fires first); Name is used only for diagnostics.
type Observer[T any] struct {
	Name     string
	Priority int
	Notify   func(T)
}

// Channel is a typed, single-message slot with an observer list. The
// observer list is a plain slice maintained in sorted priority order;
// subscription churn is rare, publishes are not.
type Channel[T any] struct {
	name string
	src  clock.Source

	mu           sync.RWMutex
	observers    []Observer[T]
	hasMsg       bool
	msg          T
	publishCount uint64
	lastPubTicks uint64

	claimMu  sync.Mutex
	claimed  bool
	claimTok uint64
	nextTok  uint64
}

// New creates a channel backed by src for tick bookkeeping. src may be nil,
// in which case DataAgeMS always reports unpublished.
func New[T any](name string, src clock.Source) *Channel[T] {
	return &Channel[T]{name: name, src: src}
}

// Name returns the channel's static identifier.
func (c *Channel[T]) Name() string {
	return c.name
}

// Subscribe registers an observer at the given priority and returns an
// unsubscribe function. Observers must not block for longer than the
// bus's dispatch budget; slow work belongs on a work queue.
func (c *Channel[T]) Subscribe(name string, priority int, notify func(T)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observers = append(c.observers, Observer[T]{Name: name, Priority: priority, Notify: notify})
	sort.SliceStable(c.observers, func(i, j int) bool {
		return c.observers[i].Priority < c.observers[j].Priority
	})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, o := range c.observers {
			if o.Name == name {
				c.observers = append(c.observers[:i], c.observers[i+1:]...)
				break
			}
		}
	}
}

// Publish atomically replaces the slot contents, records publish
// bookkeeping, then notifies observers in priority order before returning.
// Publish never blocks on a claim; a second publish always overwrites the
// first regardless of any outstanding claim. Observers already running
// with a stale view are allowed to finish.
func (c *Channel[T]) Publish(msg T) {
	c.mu.Lock()
	c.msg = msg
	c.hasMsg = true
	c.publishCount++
	if c.src != nil {
		c.lastPubTicks = c.src.UptimeTicks()
	}
	observers := append([]Observer[T](nil), c.observers...)
	c.mu.Unlock()

	for _, o := range observers {
		o.Notify(msg)
	}
}

// Read copies the current message out. It never blocks on a claim.
func (c *Channel[T]) Read() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.msg, c.hasMsg
}

// Claim acquires exclusive write access for in-place mutation, waiting up
// to timeout. The token returned must be passed to Finish.
func (c *Channel[T]) Claim(timeout time.Duration) (token uint64, ok bool) {
	deadline := time.Now().Add(timeout)
	for {
		c.claimMu.Lock()
		if !c.claimed {
			c.claimed = true
			c.nextTok++
			c.claimTok = c.nextTok
			tok := c.claimTok
			c.claimMu.Unlock()
			return tok, true
		}
		c.claimMu.Unlock()

		if timeout <= 0 || time.Now().After(deadline) {
			return 0, false
		}
		time.Sleep(time.Millisecond)
	}
}

// Finish releases a claim acquired by Claim. It is the caller's
// responsibility to Publish the mutated message first if the mutation
// should become visible to readers.
func (c *Channel[T]) Finish(token uint64) error {
	c.claimMu.Lock()
	defer c.claimMu.Unlock()
	if !c.claimed || token != c.claimTok {
		return ErrNotClaimed
	}
	c.claimed = false
	return nil
}

// PublishCount returns the number of successful publishes.
func (c *Channel[T]) PublishCount() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.publishCount
}

// DataAgeMS returns UINT64_MAX (as math.MaxUint64) if the channel has never
// been published, else the elapsed time since the last publish in
// milliseconds.
func (c *Channel[T]) DataAgeMS() uint64 {
	c.mu.RLock()
	hasMsg := c.hasMsg
	last := c.lastPubTicks
	c.mu.RUnlock()

	if !hasMsg || c.src == nil {
		return maxUint64
	}
	now := c.src.UptimeTicks()
	if now < last {
		return 0
	}
	return c.src.TicksToMS(now - last)
}

const maxUint64 = ^uint64(0)
