package sched

// CondVar is a Mesa-semantics condition variable: signal/broadcast
// only make a waiter runnable again, they do not guarantee the
// awaited condition still holds, so callers must recheck it in a loop
// after Wait returns. A CondVar is bound to a particular Lock only by
// convention; this type does not enforce it.
type CondVar struct {
	waiters []*condWaiter
}

type condWaiter struct {
	thread *Thread
	sema   Semaphore
}

// NewCondVar returns an empty condition variable.
func NewCondVar() *CondVar { return &CondVar{} }

// Wait releases lock (which the caller must hold), blocks until
// signaled, then re-acquires lock before returning. If the private
// wait semaphore parks the caller, re-acquiring the lock is deferred
// to t.resumeFn, run once this thread is actually dispatched again;
// see Semaphore.Down.
func (c *CondVar) Wait(s *Scheduler, lock *Lock, t *Thread) {
	w := &condWaiter{thread: t}
	c.waiters = append(c.waiters, w)

	if err := lock.Release(s, t); err != nil {
		s.log.WithError(err).Panic("cond_wait: caller does not hold lock")
	}
	if w.sema.Down(s, t) {
		t.resumeFn = func(s *Scheduler, th *Thread) {
			lock.Acquire(s, th)
		}
		return
	}
	lock.Acquire(s, t)
}

// Signal wakes the waiter whose thread has the highest effective
// priority, if any. The caller must hold the associated lock.
func (c *CondVar) Signal(s *Scheduler, lock *Lock, t *Thread) {
	if len(c.waiters) == 0 {
		return
	}
	if !lock.HeldBy(t) {
		s.log.WithField("tid", t.Tid).Panic("cond_signal: caller does not hold lock")
	}
	best := 0
	for i, w := range c.waiters {
		if w.thread.Priority() > c.waiters[best].thread.Priority() {
			best = i
		}
	}
	w := c.waiters[best]
	c.waiters = append(c.waiters[:best], c.waiters[best+1:]...)
	w.sema.Up(s)
}

// Broadcast wakes every waiter, highest priority first.
func (c *CondVar) Broadcast(s *Scheduler, lock *Lock, t *Thread) {
	for len(c.waiters) > 0 {
		c.Signal(s, lock, t)
	}
}

// Waiters reports the number of threads currently waiting, for tests.
func (c *CondVar) Waiters() int { return len(c.waiters) }
