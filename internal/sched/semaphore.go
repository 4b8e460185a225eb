package sched

// Semaphore is a non-negative counter with a list of waiting threads.
// Its zero value (value 0, no waiters) is a valid, newly-initialized
// semaphore; use NewSemaphore for a non-zero initial value.
type Semaphore struct {
	value   int
	waiters []*Thread
}

// NewSemaphore returns a semaphore initialized to value.
func NewSemaphore(value int) *Semaphore {
	return &Semaphore{value: value}
}

// Down blocks the calling thread (which must be s's current thread)
// until the semaphore's value is positive, then consumes one unit.
// Must not be called from interrupt context. It reports whether the
// caller had to block: callers with a postamble to run only after the
// unit is actually held (Lock.Acquire claiming ownership, CondVar.Wait
// re-acquiring its lock) must defer that postamble via t.resumeFn when
// Down reports true, since the calling goroutine does not sit
// suspended mid-function the way a real kernel thread would — control
// returns to whichever caller triggered the reschedule, and the
// deferred postamble only runs later, when schedule next picks this
// thread. When Down reports false the unit was free and the postamble
// can run inline.
func (sem *Semaphore) Down(s *Scheduler, t *Thread) bool {
	if t != s.current {
		s.log.WithField("tid", t.Tid).Panic("sema_down called by non-running thread")
	}
	if sem.value == 0 {
		sem.waiters = append(sem.waiters, t)
		s.Block(t)
		return true
	}
	sem.value--
	return false
}

// TryDown is the non-blocking, interrupt-safe variant: it consumes one
// unit and returns true if the semaphore is positive, else returns
// false without blocking.
func (sem *Semaphore) TryDown() bool {
	if sem.value == 0 {
		return false
	}
	sem.value--
	return true
}

// Up wakes the highest-effective-priority waiter, if any (ties broken
// by arrival order), handing the unit directly to it rather than
// incrementing value and racing the woken thread against others for
// it — with no actual concurrent execution between threads in this
// package's synchronous model, this is the observably equivalent
// reformulation of sema_up's "value++ then unblock" when there are
// waiters. If there are no waiters, value is incremented normally.
// Either way, Up then requests a preemption check under the active
// policy itself, exactly as sema_up does, so Lock.Release and
// CondVar.Signal/Broadcast get it for free.
func (sem *Semaphore) Up(s *Scheduler) {
	if len(sem.waiters) == 0 {
		sem.value++
	} else {
		best := 0
		for i, w := range sem.waiters {
			if w.Priority() > sem.waiters[best].Priority() {
				best = i
			}
		}
		w := sem.waiters[best]
		sem.waiters = append(sem.waiters[:best], sem.waiters[best+1:]...)
		s.Unblock(w)
	}
	if s.ShouldPreempt() {
		s.Yield()
	}
}

// Waiters reports the number of threads currently blocked on sem, for
// diagnostics and tests.
func (sem *Semaphore) Waiters() int { return len(sem.waiters) }

// Value reports the semaphore's current counter value.
func (sem *Semaphore) Value() int { return sem.value }
