// Package timerset centralizes the engine's scheduled work behind named,
// cancellable one-shot timers so teardown is a single CancelAll call.
package timerset

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Set owns a group of named one-shot timers. Scheduling a name that is
// already pending replaces the previous timer. Fired callbacks are handed to
// the exec function, which the owner uses to serialize them onto its loop.
type Set struct {
	clock clockwork.Clock
	exec  func(fn func())

	mu     sync.Mutex
	active map[string]*entry
}

type entry struct {
	timer  clockwork.Timer
	cancel chan struct{}
}

// New creates a Set. exec must not be nil; it receives every fired callback.
func New(clock clockwork.Clock, exec func(fn func())) *Set {
	return &Set{
		clock:  clock,
		exec:   exec,
		active: make(map[string]*entry),
	}
}

// Schedule arms a one-shot timer under name, replacing any pending timer
// with the same name.
func (s *Set) Schedule(name string, d time.Duration, fn func()) {
	s.mu.Lock()
	if old, exists := s.active[name]; exists {
		close(old.cancel)
		stopAndDrainTimer(old.timer)
	}
	e := &entry{
		timer:  s.clock.NewTimer(d),
		cancel: make(chan struct{}),
	}
	s.active[name] = e
	s.mu.Unlock()

	go func() {
		select {
		case <-e.timer.Chan():
			s.mu.Lock()
			// Only remove if we are still the registered entry; a replace
			// may have raced the fire.
			if cur, ok := s.active[name]; ok && cur == e {
				delete(s.active, name)
				s.mu.Unlock()
				s.exec(fn)
				return
			}
			s.mu.Unlock()
		case <-e.cancel:
		}
	}()

	log.Trace().Str("timer", name).Dur("after", d).Msg("timer scheduled")
}

// Cancel stops the named timer if pending.
func (s *Set) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, exists := s.active[name]; exists {
		close(e.cancel)
		stopAndDrainTimer(e.timer)
		delete(s.active, name)
		log.Trace().Str("timer", name).Msg("timer cancelled")
	}
}

// Active reports whether a timer with the given name is pending.
func (s *Set) Active(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.active[name]
	return exists
}

// CancelAll stops every pending timer. Called when a session binding is
// disposed so no stale timer can mutate state for a superseded session.
func (s *Set) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, e := range s.active {
		close(e.cancel)
		stopAndDrainTimer(e.timer)
		delete(s.active, name)
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel, following
// the pattern from the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
