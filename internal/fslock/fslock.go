// Package fslock provides the single reentrancy-checked lock shared by
// the filesystem and swap block I/O paths, mirroring
// filesys_getlock/filesys_releaselock/is_held_filesys_lock.
package fslock

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Lock serializes all filesystem and swap block I/O. It tracks its
// current holder (by an opaque caller-supplied id, typically a thread
// tid) so that a caller already holding the lock can re-enter without
// deadlocking on itself — the page-fault path may enter the
// filesystem from a context that already holds it (e.g. a syscall
// reading a file into a buffer whose backing page must first be
// faulted in).
type Lock struct {
	sem    *semaphore.Weighted
	holder int
	depth  int
}

// noHolder is used when nothing holds the lock.
const noHolder = -1

// New returns an unheld lock.
func New() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1), holder: noHolder}
}

// HeldBy reports whether the given caller id currently holds the
// lock.
func (l *Lock) HeldBy(callerID int) bool {
	return l.depth > 0 && l.holder == callerID
}

// Acquire takes the lock on behalf of callerID, blocking if another
// caller holds it. If callerID already holds it, Acquire just bumps a
// nesting depth instead of blocking, the same reentrancy check
// filesys_getlock performs. The matching number of Release calls is
// required to actually let go.
func (l *Lock) Acquire(callerID int) {
	if l.HeldBy(callerID) {
		l.depth++
		return
	}
	_ = l.sem.Acquire(context.Background(), 1)
	l.holder = callerID
	l.depth = 1
}

// Release releases one nesting level on behalf of callerID. It is a
// no-op if callerID does not currently hold the lock.
func (l *Lock) Release(callerID int) {
	if !l.HeldBy(callerID) {
		return
	}
	l.depth--
	if l.depth == 0 {
		l.holder = noHolder
		l.sem.Release(1)
	}
}

// WithLock runs fn while holding the lock on behalf of callerID,
// nesting safely if callerID already holds it.
func (l *Lock) WithLock(callerID int, fn func() error) error {
	l.Acquire(callerID)
	defer l.Release(callerID)
	return fn()
}
