package sched

// SelfTestSemaphore is a diagnostic supplement carried over from the
// reference kernel's sema_self_test: it exercises Down/Up ping-pong
// between two semaphores entirely through bookkeeping transitions (no
// actual concurrent execution is needed in this package's synchronous
// model) and reports whether the expected ordering held.
//
// It creates two worker threads, which never run, then alternates
// TryDown/Up across a pair of semaphores ten times on their behalf,
// checking after each Up that the matching worker is Ready.
func (s *Scheduler) SelfTestSemaphore() bool {
	pingPong := [2]Semaphore{{value: 1}, {value: 0}}

	a, err := s.Create("sema-test-a", KernelThread, PriDefault)
	if err != nil {
		return false
	}
	b, err := s.Create("sema-test-b", KernelThread, PriDefault)
	if err != nil {
		return false
	}

	for i := 0; i < 10; i++ {
		if !pingPong[0].TryDown() {
			return false
		}
		pingPong[1].Up(s)
		if b.State != Ready {
			return false
		}
		if !pingPong[1].TryDown() {
			return false
		}
		pingPong[0].Up(s)
		if a.State != Ready {
			return false
		}
	}

	s.Reap(a)
	s.Reap(b)
	return true
}

// Reap marks a non-running thread DYING and removes it from the
// all-threads list, for use by diagnostics that create throwaway
// threads without ever scheduling them as current (Exit requires the
// caller to be the running thread; self-test workers here never run).
func (s *Scheduler) Reap(t *Thread) {
	t.State = Dying
	s.removeReady(t)
	s.removeAllThreads(t)
}
