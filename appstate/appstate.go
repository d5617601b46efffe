// Package appstate tracks named application states: membership means "the
// application is currently in state S". The set is mutated by application
// code outside the task runner core and only ever read by the schedule
// evaluator.
package appstate

import "github.com/hashicorp/go-set/v2"

// States is a concurrency-naive set of named application states. The task
// runner only ever reads it from its own single work-queue goroutine
// between Set/Clear calls made by application code; callers that mutate
// States from other goroutines must provide their own synchronization.
type States struct {
	set *set.Set[string]
}

// New returns an empty state set.
func New() *States {
	return &States{set: set.New[string](8)}
}

// Of returns a state set pre-populated with the given states, a convenience
// for tests and scenario setup.
func Of(states ...string) *States {
	s := New()
	for _, st := range states {
		s.Set(st)
	}
	return s
}

// Set marks state as active.
func (s *States) Set(state string) {
	s.set.Insert(state)
}

// Clear marks state as inactive.
func (s *States) Clear(state string) {
	s.set.Remove(state)
}

// Is reports whether state is currently active.
func (s *States) Is(state string) bool {
	return s.set.Contains(state)
}

// Active returns the active states, in no particular order.
func (s *States) Active() []string {
	return s.set.Slice()
}
