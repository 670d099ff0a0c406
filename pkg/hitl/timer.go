package hitl

import (
	"sync"
	"time"
)

// timerRegistry maintains exactly one outstanding timeout per open task,
// keyed by task id. Cancel is idempotent and safe to race with a firing
// timer: a timer that fires after cancel finds its entry gone and the fire
// callback re-checks task state before acting.
type timerRegistry struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{timers: make(map[string]*time.Timer)}
}

// start schedules fire after delay. A previous timer for the same id is
// replaced (stopped) so there is never more than one per task.
func (r *timerRegistry) start(id string, delay time.Duration, fire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.timers[id]; ok {
		old.Stop()
	}
	r.timers[id] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, id)
		r.mu.Unlock()
		fire()
	})
}

// cancel stops and removes the timer for id. Returns false when no timer was
// registered, which includes the case where it already fired.
func (r *timerRegistry) cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(r.timers, id)
	return true
}

// cancelAll stops every outstanding timer. Used on shutdown.
func (r *timerRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

// active returns the number of outstanding timers.
func (r *timerRegistry) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}
