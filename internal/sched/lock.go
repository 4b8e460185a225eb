package sched

import "github.com/pkg/errors"

// Lock is a binary semaphore with an owner, non-recursive, and —
// under the priority policy — a participant in priority donation.
type Lock struct {
	sem   Semaphore
	owner *Thread
}

// NewLock returns an unheld lock.
func NewLock() *Lock {
	return &Lock{sem: Semaphore{value: 1}}
}

// Owner returns the thread currently holding the lock, or nil.
func (l *Lock) Owner() *Thread { return l.owner }

// HeldBy reports whether t currently holds l.
func (l *Lock) HeldBy(t *Thread) bool { return l.owner == t }

// Acquire blocks the caller (which must be s's current thread) until
// the lock is free, then takes ownership. Under the priority policy,
// if the lock is already held, this first walks the donation chain:
// up to DonateMax hops, starting at the lock's current owner, raising
// each hop's effective priority to the acquiring thread's effective
// priority wherever that exceeds the hop's base priority, and
// following each hop's own WaitLock to find the next hop. Donation is
// disabled under mlfqs.
//
// If the lock is contended, Acquire parks the caller (via the
// semaphore) and defers claiming ownership to t.resumeFn, run by the
// scheduler the next time t is actually dispatched; see Semaphore.Down.
func (l *Lock) Acquire(s *Scheduler, t *Thread) {
	if l.owner == t {
		s.log.WithField("tid", t.Tid).Panic("lock_acquire: re-entrant acquire of own lock")
	}

	t.WaitLock = l
	if s.policy == PolicyPriority && l.owner != nil {
		donateChain(s, t, l)
	}

	if l.sem.Down(s, t) {
		t.resumeFn = func(_ *Scheduler, th *Thread) {
			th.WaitLock = nil
			l.owner = th
		}
		return
	}
	t.WaitLock = nil
	l.owner = t
}

// recordDonation adds or, if one already exists for this (holder,
// lock) pair, raises a donation record. Donation amounts never stack
// from the same (lock, donor) pair.
func recordDonation(h *Thread, l *Lock, priority int) {
	for i, d := range h.donations {
		if d.lock == l {
			if priority > d.priority {
				h.donations[i].priority = priority
			}
			return
		}
	}
	h.donations = append(h.donations, donation{lock: l, priority: priority})
}

// donateChain propagates a donor's effective priority up the chain of
// locks/holders it is nested behind, bounded to DonateMax hops.
func donateChain(s *Scheduler, donor *Thread, l *Lock) {
	donorPriority := donor.Priority()
	cur := l
	for hop := 0; hop < DonateMax && cur != nil; hop++ {
		h := cur.owner
		if h == nil {
			break
		}
		if h.BasePriority < donorPriority {
			recordDonation(h, cur, donorPriority)
			if donorPriority > h.EffectivePriority {
				h.EffectivePriority = donorPriority
			}
		}
		cur = h.WaitLock
	}
}

// TryAcquire is the non-blocking variant: it takes ownership and
// returns true if the lock is free, else returns false without
// blocking or participating in donation.
func (l *Lock) TryAcquire(t *Thread) bool {
	if !l.sem.TryDown() {
		return false
	}
	l.owner = t
	return true
}

// Release must be called by the lock's owner. Every donation record
// tagged with this lock is removed from the owner's donation list, the
// owner's effective priority is recomputed from its base priority and
// any remaining donations, ownership is cleared, and finally the
// semaphore is upped — in that order, so a freshly woken successor
// never observes itself as already the owner.
func (l *Lock) Release(s *Scheduler, t *Thread) error {
	if l.owner != t {
		return errors.Errorf("lock_release: thread %d does not hold this lock", t.Tid)
	}

	kept := t.donations[:0]
	for _, d := range t.donations {
		if d.lock != l {
			kept = append(kept, d)
		}
	}
	t.donations = kept
	t.recomputeEffectivePriority()

	l.owner = nil
	l.sem.Up(s)
	return nil
}
