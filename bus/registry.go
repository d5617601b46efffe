package bus

import (
	"fmt"
	"sync"

	"github.com/infuse-iot/taskrunner/clock"
)

// The channel registry maps 32-bit channel identifiers to their statically
// defined channels, so producers and consumers compiled apart agree on the
// same slot. The identifier-to-message-type binding is fixed at Define;
// looking a channel up at the wrong type is a programming error and fails
// loudly.

var (
	registryMu sync.Mutex
	registry   = map[uint32]any{}
)

// Define registers a channel under id and returns it. Defining the same id
// twice panics: channel identifiers are compile-time constants and a
// collision is a build mistake, not a runtime condition.
func Define[T any](id uint32, name string, src clock.Source) *Channel[T] {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, ok := registry[id]; ok {
		panic(fmt.Sprintf("bus: channel id %#x defined twice", id))
	}
	ch := New[T](name, src)
	registry[id] = ch
	return ch
}

// Get returns the channel registered under id, or an error if the id is
// unknown or was defined with a different message type.
func Get[T any](id uint32) (*Channel[T], error) {
	registryMu.Lock()
	raw, ok := registry[id]
	registryMu.Unlock()

	if !ok {
		return nil, fmt.Errorf("bus: channel id %#x not defined", id)
	}
	ch, ok := raw.(*Channel[T])
	if !ok {
		return nil, fmt.Errorf("bus: channel id %#x has a different message type", id)
	}
	return ch, nil
}
