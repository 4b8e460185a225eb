package vm

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/blickwinkle/pintos/internal/sched"
)

// Frame is one page-sized slot of simulated physical memory.
type Frame struct {
	Data [PageSize]byte
	Page *Page
}

// evictBackoff is the ascending retry delay used when every resident
// frame is momentarily unevictable (pinned, or its owning SPT lock is
// held elsewhere): a handful of short, increasing sleeps rather than a
// tight spin.
var evictBackoff = []time.Duration{
	5 * time.Millisecond,
	8 * time.Millisecond,
	11 * time.Millisecond,
	14 * time.Millisecond,
	17 * time.Millisecond,
	20 * time.Millisecond,
}

// FrameTable is the global table of physical frames, bounded by
// capacity, with try-lock-based eviction when exhausted.
type FrameTable struct {
	lock      *sched.Lock
	capacity  int
	allocated int
	resident  []*Frame
	log       *logrus.Entry
}

// NewFrameTable returns a table that can hand out at most capacity
// frames before it must start evicting.
func NewFrameTable(capacity int, log *logrus.Entry) *FrameTable {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FrameTable{lock: sched.NewLock(), capacity: capacity, log: log}
}

// Resident returns the number of frames currently installed into some
// page, for tests and diagnostics.
func (ft *FrameTable) Resident() int { return len(ft.resident) }

// GetFrame returns a frame ready for a new page to claim: either a
// freshly allocated one, if the table has not reached capacity, or an
// evicted one. The table lock guards only the bookkeeping decision
// (allocated count, resident list) — never the swap-out I/O an
// eviction may need, which evict manages on its own.
func (ft *FrameTable) GetFrame(s *sched.Scheduler, t *sched.Thread) (*Frame, error) {
	ft.lock.Acquire(s, t)
	if ft.allocated < ft.capacity {
		ft.allocated++
		ft.lock.Release(s, t)
		return &Frame{}, nil
	}
	ft.lock.Release(s, t)
	return ft.evict(s, t)
}

// Abandon, link, and Free mutate the resident list and allocated count
// without taking the table lock: every call site runs with that lock
// already released by the GetFrame call that produced the frame, and
// this package never has more than one logical caller in flight at a
// time.

// Abandon returns a frame that GetFrame handed out but that never got
// linked into the resident table (i.e. claim failed after allocation).
func (ft *FrameTable) Abandon(f *Frame) {
	ft.allocated--
}

// link records a newly resident frame.
func (ft *FrameTable) link(f *Frame) {
	ft.resident = append(ft.resident, f)
}

// Free removes a resident frame and returns its slot to the pool.
func (ft *FrameTable) Free(f *Frame) {
	for i, r := range ft.resident {
		if r == f {
			ft.resident = append(ft.resident[:i], ft.resident[i+1:]...)
			ft.allocated--
			return
		}
	}
}

// findVictim scans for the first resident frame whose page is unpinned
// and whose owning SPT lock can be acquired without blocking, unlinks
// it from the resident list, and returns it still holding that SPT
// lock. Must be called with ft.lock held. Returns nil if none
// qualifies right now.
func (ft *FrameTable) findVictim(t *sched.Thread) *Frame {
	for i, f := range ft.resident {
		if f.Page.PinCount != 0 {
			continue
		}
		if !f.Page.spt.lock.TryAcquire(t) {
			continue
		}
		ft.resident = append(ft.resident[:i], ft.resident[i+1:]...)
		return f
	}
	return nil
}

// evict finds an evictable frame and swaps its page out. Never holds
// ft.lock (frame_lock) across the swap-out I/O: the victim is found
// and unlinked under ft.lock, frame_lock is released, and the write
// itself runs under only the victim's own SPT lock. ft.lock is
// re-acquired only to relink the victim on a failed attempt before
// retrying.
func (ft *FrameTable) evict(s *sched.Scheduler, t *sched.Thread) (*Frame, error) {
	for attempt := 0; ; attempt++ {
		ft.lock.Acquire(s, t)
		victim := ft.findVictim(t)
		ft.lock.Release(s, t)

		if victim == nil {
			if attempt >= len(evictBackoff) {
				return nil, errors.New("vm: eviction exhausted retries, no evictable frame")
			}
			time.Sleep(evictBackoff[attempt])
			continue
		}

		page := victim.Page
		if err := page.v.swapOut(page); err != nil {
			page.spt.lock.Release(s, t)
			ft.lock.Acquire(s, t)
			ft.resident = append(ft.resident, victim)
			ft.lock.Release(s, t)
			if attempt >= len(evictBackoff) {
				return nil, errors.Wrap(err, "vm: eviction swap_out failed")
			}
			time.Sleep(evictBackoff[attempt])
			continue
		}

		page.spt.pageDir.ClearPage(page.VA)
		page.Frame = nil
		page.spt.lock.Release(s, t)

		ft.log.WithFields(page.LogFields()).Debug("vm: evicted frame")
		for i := range victim.Data {
			victim.Data[i] = 0
		}
		victim.Page = nil
		return victim, nil
	}
}
