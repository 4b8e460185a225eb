package sched

// sleeper records a thread parked by Sleep and the tick at which the
// timer must wake it.
type sleeper struct {
	thread   *Thread
	wakeTick uint64
}

// Sleep blocks the calling thread (which must be the current thread)
// until at least ticks timer ticks have elapsed. A non-positive ticks
// returns immediately. Timeouts on the synchronization primitives are
// built by callers out of this; there is no cancellation.
func (s *Scheduler) Sleep(t *Thread, ticks int) {
	if ticks <= 0 {
		return
	}
	if t != s.current {
		s.log.WithField("tid", t.Tid).Panic("Sleep called by non-running thread")
	}
	s.sleepers = append(s.sleepers, sleeper{thread: t, wakeTick: s.ticks + uint64(ticks)})
	s.Block(t)
}

// MSleep blocks the calling thread for roughly ms milliseconds,
// converted to timer ticks rounding down; a duration shorter than one
// tick returns immediately.
func (s *Scheduler) MSleep(t *Thread, ms int) {
	s.Sleep(t, ms*TimerFreq/1000)
}

// wakeSleepers unblocks every sleeper whose wake tick has arrived. It
// runs from Tick, so wakeups happen at timer-interrupt granularity.
// It reports whether any thread was woken, so Tick can fold a
// preemption check into its yield request.
func (s *Scheduler) wakeSleepers() bool {
	if len(s.sleepers) == 0 {
		return false
	}
	woke := false
	kept := s.sleepers[:0]
	for _, sl := range s.sleepers {
		if sl.wakeTick <= s.ticks {
			s.Unblock(sl.thread)
			woke = true
		} else {
			kept = append(kept, sl)
		}
	}
	s.sleepers = kept
	return woke
}
