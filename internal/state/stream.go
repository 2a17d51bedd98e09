// Package state carries install item transitions from backends to observers.
package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/quantmind-br/droidctl/internal/core"
)

var (
	// ErrIllegalTransition is returned when a state does not follow the state machine
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrItemMismatch is returned when a state is pushed into another item's stream
	ErrItemMismatch = errors.New("state belongs to a different install item")
)

const subscriberBuffer = 16

// Stream is the observable state of a single install item.
// Any number of goroutines may emit into it and subscribe to it.
type Stream struct {
	mu      sync.Mutex
	current core.InstallItemState
	subs    map[int]chan core.InstallItemState
	nextSub int
	done    chan struct{}
}

// NewStream creates a stream for item in the Queued state
func NewStream(item core.InstallItem) *Stream {
	return &Stream{
		current: item.StatesTo(core.StateQueued),
		subs:    make(map[int]chan core.InstallItemState),
		done:    make(chan struct{}),
	}
}

// Emit validates and publishes next. Delivery never blocks: a subscriber
// whose buffer is full misses the value but can still read Value.
func (s *Stream) Emit(next core.InstallItemState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if next.Item.ID != s.current.Item.ID {
		return fmt.Errorf("%w: %s", ErrItemMismatch, next.Item.ID)
	}
	if !s.current.State.CanTransitionTo(next.State) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.current.State, next.State)
	}

	s.current = next
	for _, ch := range s.subs {
		select {
		case ch <- next:
		default:
		}
	}

	if next.State.IsTerminal() {
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
		close(s.done)
	}

	return nil
}

// TryEmit is Emit for callers that cannot handle an error, such as OS callbacks
func (s *Stream) TryEmit(next core.InstallItemState) bool {
	return s.Emit(next) == nil
}

// Value returns the latest state
func (s *Stream) Value() core.InstallItemState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Item returns the item as last emitted
func (s *Stream) Item() core.InstallItem {
	return s.Value().Item
}

// Subscribe returns a channel that receives the current state followed by
// every later transition. The channel is closed after a terminal state or
// when cancel is called.
func (s *Stream) Subscribe() (<-chan core.InstallItemState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan core.InstallItemState, subscriberBuffer)
	ch <- s.current
	if s.current.State.IsTerminal() {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			close(sub)
			delete(s.subs, id)
		}
	}
}

// Done is closed once the item reaches a terminal state
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Registry indexes streams by item id
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*Stream)}
}

// Register returns the stream for item, creating it if needed
func (r *Registry) Register(item core.InstallItem) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.streams[item.ID]; ok {
		return st
	}
	st := NewStream(item)
	r.streams[item.ID] = st
	return st
}

// Get looks up a stream by item id
func (r *Registry) Get(id string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.streams[id]
	return st, ok
}

// Snapshot returns the current state of every registered item
func (r *Registry) Snapshot() []core.InstallItemState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make([]core.InstallItemState, 0, len(r.streams))
	for _, st := range r.streams {
		states = append(states, st.Value())
	}
	return states
}

// Prune drops streams that reached a terminal state and returns how many were removed
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, st := range r.streams {
		if st.Value().State.IsTerminal() {
			delete(r.streams, id)
			removed++
		}
	}
	return removed
}
