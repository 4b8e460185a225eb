package sched

import "testing"

func newTestScheduler(t *testing.T, policy Policy) *Scheduler {
	t.Helper()
	return New(policy, nil)
}

func TestExactlyOneRunning(t *testing.T) {
	s := newTestScheduler(t, PolicyPriority)
	a, _ := s.Create("a", KernelThread, 20)
	_ = a
	count := 0
	s.Foreach(func(th *Thread) {
		if th.State == Running {
			count++
		}
	})
	if count != 1 {
		t.Fatalf("expected exactly one running thread, got %d", count)
	}
}

// Three threads of ascending priority contend on one lock: the lowest
// should have the highest's priority donated to it while it holds the
// lock, and lose the donation again once it releases.
func TestPriorityDonationBasic(t *testing.T) {
	s := newTestScheduler(t, PolicyPriority)
	boot := s.Current()
	boot.BasePriority = PriMin
	boot.EffectivePriority = PriMin

	p10, _ := s.Create("p10", KernelThread, 10)
	p20, _ := s.Create("p20", KernelThread, 20)
	p30, _ := s.Create("p30", KernelThread, 30)

	lock := NewLock()

	// P10 becomes current and acquires the lock uncontended.
	forceCurrent(s, p10)
	lock.Acquire(s, p10)

	// P20 attempts to acquire; donates up to P10, then blocks (Acquire
	// parks it for real: the scheduler switches away to whichever
	// ready thread now outranks it).
	forceCurrent(s, p20)
	lock.Acquire(s, p20)

	if p10.Priority() != 20 {
		t.Fatalf("P10 effective priority = %d, want 20 after P20 donation", p10.Priority())
	}

	// P30 attempts; donates up to P10 (and transitively nothing further).
	forceCurrent(s, p30)
	lock.Acquire(s, p30)

	if p10.Priority() != 30 {
		t.Fatalf("P10 effective priority = %d, want 30 after P30 donation", p10.Priority())
	}
	if p20.Priority() != 20 {
		t.Fatalf("P20 effective priority = %d, want unchanged 20", p20.Priority())
	}

	// P10 releases: donations from both P20 and P30 drop (recorded
	// against the same lock), base priority restored. P30 (30) now
	// outranks P10 (back to base 10), so Release's own preemption
	// check switches to it immediately — no forced yield needed.
	forceCurrent(s, p10)
	if err := lock.Release(s, p10); err != nil {
		t.Fatalf("lock.Release: %v", err)
	}
	if p10.Priority() != 10 {
		t.Fatalf("P10 effective priority after release = %d, want base 10", p10.Priority())
	}
	if s.Current() != p30 {
		t.Fatalf("expected P30 to run next after P10's release, got %s", s.Current().Name)
	}
	if !lock.HeldBy(p30) {
		t.Fatalf("expected P30 to have claimed the lock")
	}
	if p20.State != Blocked {
		t.Fatalf("expected P20 still blocked on the lock, waiting behind P30")
	}

	// P30 releases in turn: it still outranks P20 (30 vs 20), so it
	// keeps running until it actually exits, at which point P20 — the
	// only remaining waiter — gets to run.
	if err := lock.Release(s, p30); err != nil {
		t.Fatalf("lock.Release (p30): %v", err)
	}
	if s.Current() != p30 {
		t.Fatalf("expected P30 to keep running (still highest ready priority), got %s", s.Current().Name)
	}

	s.Exit(p30)
	if s.Current() != p20 {
		t.Fatalf("expected P20 to run next once P30 exits, got %s", s.Current().Name)
	}
	if !lock.HeldBy(p20) {
		t.Fatalf("expected P20 to have claimed the lock")
	}
}

// Donation chain: P10 holds A and blocks trying to acquire B, held by
// P20. P30 then acquires A, and the chain walk must raise both P10
// (direct donor) and P20 (one hop further, via P10.WaitLock) to 30.
// Releasing B hands it to P10 and drops P20's donation; releasing A
// afterward drops P10's, restoring every thread to its base priority.
func TestPriorityDonationChain(t *testing.T) {
	s := newTestScheduler(t, PolicyPriority)
	boot := s.Current()
	boot.BasePriority = PriMin
	boot.EffectivePriority = PriMin

	p10, _ := s.Create("p10", KernelThread, 10)
	p20, _ := s.Create("p20", KernelThread, 20)
	p30, _ := s.Create("p30", KernelThread, 30)

	lockA := NewLock()
	lockB := NewLock()

	forceCurrent(s, p10)
	lockA.Acquire(s, p10)

	forceCurrent(s, p20)
	lockB.Acquire(s, p20)

	// P10 blocks on B; no donation yet since P10 (10) is already below
	// B's holder P20's base (20).
	forceCurrent(s, p10)
	lockB.Acquire(s, p10)
	if p20.Priority() != 20 {
		t.Fatalf("P20 priority = %d, want unchanged 20 before a higher donor arrives", p20.Priority())
	}

	// P30 acquires A (held by P10): hop 0 raises P10 to 30, then the
	// walk follows P10.WaitLock (B) to raise P20 to 30 at hop 1.
	forceCurrent(s, p30)
	lockA.Acquire(s, p30)

	if p10.Priority() != 30 {
		t.Fatalf("P10 effective priority = %d, want 30 via chain donation", p10.Priority())
	}
	if p20.Priority() != 30 {
		t.Fatalf("P20 effective priority = %d, want 30 via chain donation", p20.Priority())
	}

	// P20 releases B: its own donation (tagged with B) drops, and P10
	// (the sole waiter on B) becomes ready. P10 (still carrying P30's
	// donation via A, at 30) now outranks P20 (back to base 20), so
	// Release's own preemption check switches to it immediately — its
	// deferred resumeFn claims B as part of that switch.
	forceCurrent(s, p20)
	if err := lockB.Release(s, p20); err != nil {
		t.Fatalf("lockB.Release: %v", err)
	}
	if p20.Priority() != 20 {
		t.Fatalf("P20 effective priority after release = %d, want base 20", p20.Priority())
	}
	if s.Current() != p10 {
		t.Fatalf("expected P10 to run next after B released, got %s", s.Current().Name)
	}
	if !lockB.HeldBy(p10) {
		t.Fatalf("expected P10 to have claimed B")
	}

	// P10 still carries P30's donation via A; releasing A drops it and
	// hands A straight to P30, the sole waiter, which now outranks P10.
	if err := lockA.Release(s, p10); err != nil {
		t.Fatalf("lockA.Release: %v", err)
	}
	if p10.Priority() != 10 {
		t.Fatalf("P10 effective priority after releasing A = %d, want base 10", p10.Priority())
	}
	if p10.BasePriority != 10 || p20.BasePriority != 20 || p30.BasePriority != 30 {
		t.Fatalf("base priorities must be unchanged by donation: got %d/%d/%d",
			p10.BasePriority, p20.BasePriority, p30.BasePriority)
	}
	if s.Current() != p30 {
		t.Fatalf("expected P30 to run next once A is released, got %s", s.Current().Name)
	}
	if !lockA.HeldBy(p30) {
		t.Fatalf("expected P30 to have claimed A")
	}
}

// forceCurrent scripts which thread the scheduler runs next, simulating
// a real scheduling decision. A no-op if t is already current: Up()'s
// own preemption check (see semaphore.go) can auto-switch current as a
// side effect of an earlier call, and forceCurrent must not double
// insert that thread into the ready queue when the script catches up to
// what already happened.
func forceCurrent(s *Scheduler, t *Thread) {
	if t == s.current {
		return
	}
	s.removeReady(t)
	s.current.State = Ready
	s.insertReady(s.current)
	s.current = t
	t.State = Running
}

// TestSemaphorePingPong demonstrates end-to-end scenario 3: P40 runs to
// completion before P30 resumes. Up() itself performs the preemption
// check and switch, so p40 becomes RUNNING (not merely READY) as a
// direct effect of the Up() call, and p30 only resumes once p40 exits.
func TestSemaphorePingPong(t *testing.T) {
	s := newTestScheduler(t, PolicyPriority)
	boot := s.Current()
	boot.BasePriority = PriMin
	boot.EffectivePriority = PriMin

	sem := NewSemaphore(0)

	p40, _ := s.Create("p40", KernelThread, 40)
	p30, _ := s.Create("p30", KernelThread, 30)

	forceCurrent(s, p40)
	sem.Down(s, p40) // blocks, value stays 0

	if p40.State != Blocked {
		t.Fatalf("p40 should be blocked on empty semaphore")
	}

	forceCurrent(s, p30)
	sem.Up(s) // hands off directly to p40, then yields p30 to it

	if s.Current() != p40 {
		t.Fatalf("expected p40 (40) to preempt p30 (30) immediately on Up(), got %s", s.Current().Name)
	}
	if p30.State != Ready {
		t.Fatalf("expected p30 to be ready, waiting for p40 to finish")
	}

	s.Exit(p40)
	if s.Current() != p30 {
		t.Fatalf("expected p30 to resume once p40 exits, got %s", s.Current().Name)
	}
}

func TestMlfqsPriorityDrift(t *testing.T) {
	s := newTestScheduler(t, PolicyMlfqs)
	busy, _ := s.Create("busy", KernelThread, PriDefault)
	forceCurrent(s, busy)

	// Create assigns PriDefault; the mlfqs formula first sets the
	// priority at the end of the first recomputation window.
	for i := 0; i < PriorityUpdateFreq; i++ {
		s.Tick()
	}
	start := busy.Priority()
	for i := 0; i < TimerFreq*5; i++ {
		s.Tick()
	}
	if busy.Priority() >= start {
		t.Fatalf("expected priority to drift down from %d, got %d", start, busy.Priority())
	}
}

// Raising nice lowers a thread's mlfqs priority as soon as SetNice
// recomputes it, without waiting for the next periodic update.
func TestMlfqsNiceLowersPriority(t *testing.T) {
	s := newTestScheduler(t, PolicyMlfqs)
	busy, _ := s.Create("busy", KernelThread, PriDefault)
	forceCurrent(s, busy)

	for i := 0; i < PriorityUpdateFreq; i++ {
		s.Tick()
	}
	before := busy.Priority()

	s.SetNice(busy, 10)
	if busy.Priority() >= before {
		t.Fatalf("expected nice=10 to lower priority from %d, got %d", before, busy.Priority())
	}
}

// A sleeping thread stays blocked until its wake tick arrives, then
// becomes ready again on the tick that reaches it; the tick handler
// requests a yield when the woken thread outranks the running one.
func TestSleepWakesOnTick(t *testing.T) {
	s := newTestScheduler(t, PolicyPriority)
	boot := s.Current()
	boot.BasePriority = PriMin
	boot.EffectivePriority = PriMin

	napper, _ := s.Create("napper", KernelThread, 40)
	forceCurrent(s, napper)
	s.Sleep(napper, 3)

	if napper.State != Blocked {
		t.Fatalf("expected sleeping thread blocked, got %s", napper.State)
	}

	s.Tick()
	s.Tick()
	if napper.State != Blocked {
		t.Fatalf("expected thread still asleep after 2 ticks")
	}

	yield := s.Tick()
	if napper.State != Ready {
		t.Fatalf("expected thread ready after 3 ticks, got %s", napper.State)
	}
	if !yield {
		t.Fatalf("expected tick to request a yield: woken thread outranks current")
	}
}

func TestMSleepSubTickReturnsImmediately(t *testing.T) {
	s := newTestScheduler(t, PolicyPriority)
	cur := s.Current()
	s.MSleep(cur, 1000/TimerFreq-1)
	if cur.State != Running {
		t.Fatalf("expected sub-tick sleep to return without blocking, got %s", cur.State)
	}
}

func TestSelfTestSemaphore(t *testing.T) {
	s := newTestScheduler(t, PolicyPriority)
	if !s.SelfTestSemaphore() {
		t.Fatalf("SelfTestSemaphore reported failure")
	}
}
