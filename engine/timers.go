package engine

import "time"

type timerEntry struct {
	t *time.Timer
}

// timerScope owns the timers of one surface. Every timer fires on the engine
// loop; closing the scope stops them all. A fire that was already queued when
// its timer was replaced or cancelled finds a different entry and is dropped.
type timerScope struct {
	e      *Engine
	timers map[string]*timerEntry
	closed bool
}

func newTimerScope(e *Engine) *timerScope {
	return &timerScope{e: e, timers: make(map[string]*timerEntry)}
}

// set (re)arms the timer key to run fn after d, replacing a pending one.
func (s *timerScope) set(key string, d time.Duration, fn func()) {
	if s.closed {
		return
	}
	s.cancel(key)
	entry := &timerEntry{}
	entry.t = time.AfterFunc(d, func() {
		s.e.post(func() {
			if s.closed || s.timers[key] != entry {
				return
			}
			delete(s.timers, key)
			fn()
		})
	})
	s.timers[key] = entry
}

func (s *timerScope) cancel(key string) bool {
	entry, ok := s.timers[key]
	if !ok {
		return false
	}
	entry.t.Stop()
	delete(s.timers, key)
	return true
}

func (s *timerScope) pending(key string) bool {
	_, ok := s.timers[key]
	return ok
}

func (s *timerScope) len() int {
	return len(s.timers)
}

func (s *timerScope) close() {
	if s.closed {
		return
	}
	for _, entry := range s.timers {
		entry.t.Stop()
	}
	s.timers = nil
	s.closed = true
}
