package calls

import (
	"sync"
	"time"
)

// TimerScheduler keeps one *time.Timer per call.
type TimerScheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: map[string]*time.Timer{}}
}

var _ Scheduler = (*TimerScheduler)(nil)

func (s *TimerScheduler) Schedule(callID string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.timers[callID]; ok {
		prev.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		// A replaced or cancelled timer must not run.
		if cur, ok := s.timers[callID]; !ok || cur != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, callID)
		s.mu.Unlock()
		fn()
	})
	s.timers[callID] = t
}

func (s *TimerScheduler) Cancel(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[callID]
	if !ok {
		return false
	}
	delete(s.timers, callID)
	return t.Stop()
}

// Pending returns the number of scheduled tasks.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
