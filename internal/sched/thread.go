// Package sched implements the thread scheduler (priority and 4.4BSD
// mlfqs policies), priority donation, and the synchronization
// primitives layered on it (semaphore, lock, condition variable).
//
// The scheduler is a synchronous state machine, not a goroutine-per-
// thread runtime: a *Thread is a bookkeeping record, and Scheduler's
// methods are ordinary function calls that mutate ready-queue and
// state fields. The low-level context switch (register/stack save and
// restore) is outside this package's scope, consistent with the
// boundary drawn around the bootloader and interrupt stubs; see
// DESIGN.md for the reasoning.
package sched

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/blickwinkle/pintos/internal/fixed"
)

// Priority bounds and scheduling constants, named after the values in
// the original thread.h this package's semantics are grounded on.
const (
	PriMin     = 0
	PriMax     = 63
	PriDefault = 31

	// DonateMax bounds the priority-donation chain walk.
	DonateMax = 8

	// PriorityUpdateFreq is the tick cadence for mlfqs priority
	// recomputation.
	PriorityUpdateFreq = 4

	// TimeSlice is the number of ticks a thread may run before a
	// yield is requested.
	TimeSlice = 4

	// TimerFreq is the number of ticks per second, the cadence for
	// load_avg and recent_cpu decay under mlfqs.
	TimerFreq = 100

	// TIDError is the sentinel error value for thread creation failure.
	TIDError = -1
)

// State is a thread's scheduling state.
type State int

const (
	Running State = iota
	Ready
	Blocked
	Dying
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Ready:
		return "ready"
	case Blocked:
		return "blocked"
	case Dying:
		return "dying"
	default:
		return "unknown"
	}
}

// Kind distinguishes idle/kernel/user threads for the per-class tick
// statistics original_source's thread_print_stats reports.
type Kind int

const (
	KernelThread Kind = iota
	UserThread
	IdleThread
)

// donation records a temporary priority boost a waiter has applied to
// a lock's holder.
type donation struct {
	lock     *Lock
	priority int
}

// Thread is one schedulable entity. Exactly one Thread in a Scheduler
// has State == Running at any time.
type Thread struct {
	Tid  int
	Name string
	Kind Kind

	State State

	BasePriority      int
	EffectivePriority int
	donations         []donation

	// WaitLock is the lock this thread is blocked trying to acquire,
	// non-nil only while State == Blocked for that reason.
	WaitLock *Lock

	// resumeFn, if non-nil, is the postamble of a blocking call that
	// parked this thread (claiming lock ownership, re-acquiring after
	// a condition wait). schedule runs and clears it the next time
	// this thread is made current, since nothing else resumes a parked
	// call's own stack frame in this package's synchronous model.
	resumeFn func(*Scheduler, *Thread)

	// Nice and RecentCpu are meaningful only under the mlfqs policy.
	Nice      int
	RecentCpu fixed.Fixed
}

// Priority returns the thread's effective priority (base, boosted by
// any active donations).
func (t *Thread) Priority() int {
	return t.EffectivePriority
}

func (t *Thread) recomputeEffectivePriority() {
	p := t.BasePriority
	for _, d := range t.donations {
		if d.priority > p {
			p = d.priority
		}
	}
	t.EffectivePriority = p
}

// Stats mirrors thread_print_stats: per-class tick counters gathered
// across the lifetime of the scheduler.
type Stats struct {
	IdleTicks   uint64
	KernelTicks uint64
	UserTicks   uint64
}

// Scheduler owns the run queues, the all-threads list, and the tid
// allocator. It is not safe for concurrent use from multiple
// goroutines — in this package's synchronous model there is only ever
// one logical caller, matching the single-CPU, interrupt-masking
// concurrency model the subsystem is built for.
type Scheduler struct {
	policy Policy
	log    *logrus.Entry

	current    *Thread
	allThreads []*Thread
	ready      []*Thread // priority policy: unordered, scanned for max
	mlfqs      [PriMax + 1][]*Thread
	idle       *Thread

	nextTid  int
	ticks    uint64
	sleepers []sleeper

	threadTicks int
	loadAvg     fixed.Fixed
	stats       Stats
}

// Policy selects between the priority-donation scheduler and mlfqs.
type Policy int

const (
	PolicyPriority Policy = iota
	PolicyMlfqs
)

// New creates a Scheduler under the given policy, with a bootstrapped
// boot thread (already Running) and a singleton idle thread.
func New(policy Policy, log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Scheduler{policy: policy, log: log, nextTid: 1}

	boot := &Thread{Tid: s.allocTid(), Name: "main", Kind: KernelThread,
		State: Running, BasePriority: PriDefault, EffectivePriority: PriDefault}
	s.allThreads = append(s.allThreads, boot)
	s.current = boot

	s.idle = &Thread{Tid: s.allocTid(), Name: "idle", Kind: IdleThread,
		State: Ready, BasePriority: PriMin, EffectivePriority: PriMin}
	s.allThreads = append(s.allThreads, s.idle)
	s.insertReady(s.idle)

	return s
}

func (s *Scheduler) allocTid() int {
	tid := s.nextTid
	s.nextTid++
	return tid
}

// Current returns the thread this scheduler considers RUNNING.
func (s *Scheduler) Current() *Thread { return s.current }

// Stats returns the accumulated per-class tick counters.
func (s *Scheduler) Stats() Stats { return s.stats }

// Create allocates a new thread in the READY state with the given
// base priority and returns it. It returns a non-nil error only when
// priority lies outside [PriMin, PriMax]; tid allocation itself never
// fails.
func (s *Scheduler) Create(name string, kind Kind, priority int) (*Thread, error) {
	if priority < PriMin || priority > PriMax {
		return nil, errors.Errorf("sched: priority %d out of range [%d,%d]", priority, PriMin, PriMax)
	}
	t := &Thread{
		Tid: s.allocTid(), Name: name, Kind: kind,
		State: Ready, BasePriority: priority, EffectivePriority: priority,
		Nice: 0,
	}
	s.allThreads = append(s.allThreads, t)
	s.insertReady(t)
	if s.policy == PolicyPriority && t.Priority() > s.current.Priority() {
		// A newly-created higher-priority thread should preempt; the
		// caller is expected to act on this via a subsequent Yield.
		s.log.WithField("tid", t.Tid).Debug("new thread outranks current, yield recommended")
	}
	return t, nil
}

// Foreach visits every thread in the all-threads list (RUNNING, READY,
// and BLOCKED alike), mirroring thread_foreach.
func (s *Scheduler) Foreach(fn func(*Thread)) {
	for _, t := range s.allThreads {
		fn(t)
	}
}

// Block transitions the caller-identified thread, which must be the
// current thread, from RUNNING to BLOCKED and reschedules. Callers
// are expected to have already recorded the reason (e.g. enqueued the
// thread on a semaphore's waiter list) before calling Block.
func (s *Scheduler) Block(t *Thread) {
	if t != s.current {
		s.log.WithField("tid", t.Tid).Panic("Block called on non-running thread")
	}
	t.State = Blocked
	s.schedule()
}

// Unblock moves a BLOCKED thread to READY and inserts it into the
// appropriate ready queue. It does not itself cause a reschedule.
func (s *Scheduler) Unblock(t *Thread) {
	if t.State != Blocked {
		s.log.WithField("tid", t.Tid).Panic("Unblock called on non-blocked thread")
	}
	t.State = Ready
	s.insertReady(t)
}

// Yield moves the current thread to READY and reschedules.
func (s *Scheduler) Yield() {
	cur := s.current
	if cur == s.idle {
		s.schedule()
		return
	}
	cur.State = Ready
	s.insertReady(cur)
	s.schedule()
}

// Exit transitions the current thread to DYING, removes it from the
// all-threads list, and reschedules. It must be called by the current
// thread about itself.
func (s *Scheduler) Exit(t *Thread) {
	if t != s.current {
		s.log.WithField("tid", t.Tid).Panic("Exit called on non-running thread")
	}
	t.State = Dying
	s.schedule()
	s.removeAllThreads(t)
}

func (s *Scheduler) removeAllThreads(t *Thread) {
	for i, th := range s.allThreads {
		if th == t {
			s.allThreads = append(s.allThreads[:i], s.allThreads[i+1:]...)
			return
		}
	}
}

// ShouldPreempt reports whether the highest-priority ready thread now
// outranks the current thread, under whichever policy is active.
// Callers use this after any operation that may have changed
// ready-queue ranking (sema_up, donation, priority/nice set) to decide
// whether to Yield.
func (s *Scheduler) ShouldPreempt() bool {
	next := s.peekMaxReadyAny()
	if next == nil {
		return false
	}
	return next.Priority() > s.current.Priority()
}

// peekMaxReadyAny returns the highest-priority non-idle ready thread
// under whichever policy is active, mirroring pickNext's dispatch
// without removing anything from the ready queues.
func (s *Scheduler) peekMaxReadyAny() *Thread {
	if s.policy == PolicyMlfqs {
		for p := PriMax; p >= PriMin; p-- {
			for _, t := range s.mlfqs[p] {
				if t != s.idle {
					return t
				}
			}
		}
		return nil
	}
	return s.peekMaxReady()
}

func (s *Scheduler) peekMaxReady() *Thread {
	var best *Thread
	for _, t := range s.ready {
		if t == s.idle {
			continue
		}
		if best == nil || t.Priority() > best.Priority() {
			best = t
		}
	}
	return best
}

func (s *Scheduler) insertReady(t *Thread) {
	switch s.policy {
	case PolicyMlfqs:
		p := clamp(t.EffectivePriority, PriMin, PriMax)
		s.mlfqs[p] = append(s.mlfqs[p], t)
	default:
		s.ready = append(s.ready, t)
	}
}

func (s *Scheduler) removeReady(t *Thread) bool {
	switch s.policy {
	case PolicyMlfqs:
		p := clamp(t.EffectivePriority, PriMin, PriMax)
		for i, th := range s.mlfqs[p] {
			if th == t {
				s.mlfqs[p] = append(s.mlfqs[p][:i], s.mlfqs[p][i+1:]...)
				return true
			}
		}
		return false
	default:
		for i, th := range s.ready {
			if th == t {
				s.ready = append(s.ready[:i], s.ready[i+1:]...)
				return true
			}
		}
		return false
	}
}

// pickNext selects, but does not remove, the next thread to run:
// highest effective priority under priority policy, or the highest
// non-empty mlfqs queue (FIFO within it), falling back to idle.
func (s *Scheduler) pickNext() *Thread {
	switch s.policy {
	case PolicyMlfqs:
		for p := PriMax; p >= PriMin; p-- {
			if len(s.mlfqs[p]) > 0 {
				return s.mlfqs[p][0]
			}
		}
		return s.idle
	default:
		best := s.peekMaxReady()
		if best == nil {
			return s.idle
		}
		return best
	}
}

// schedule performs the scheduling decision: pick the next thread, and
// if different from current, switch to it.
func (s *Scheduler) schedule() {
	next := s.pickNext()
	if next == s.current {
		return
	}
	s.removeReady(next)
	prev := s.current
	s.current = next
	next.State = Running
	s.threadTicks = 0

	if prev.State == Dying && prev != s.idle {
		s.removeAllThreads(prev)
	}

	if next.resumeFn != nil {
		fn := next.resumeFn
		next.resumeFn = nil
		fn(s, next)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
