package vm

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/blickwinkle/pintos/internal/fslock"
	"github.com/blickwinkle/pintos/internal/sched"
	"github.com/blickwinkle/pintos/internal/swap"
)

// roundDown truncates an address to its containing page boundary.
func roundDown(va uintptr) uintptr {
	return va &^ (PageSize - 1)
}

// SPT is one address space's supplemental page table: the set of
// pages it knows about, its mmap regions, and the lock coordinating
// both against concurrent eviction of its own frames.
type SPT struct {
	Owner *sched.Thread

	lock    *sched.Lock
	pages   map[uintptr]*Page
	regions []*MmapRegion

	pageDir   PageDir
	ft        *FrameTable
	swapStore *swap.Store
	fs        *fslock.Lock

	nextMapID int
	log       *logrus.Entry
}

// NewSPT creates an empty supplemental page table for owner, wired to
// the shared frame table, swap store, and filesystem lock.
func NewSPT(owner *sched.Thread, pageDir PageDir, ft *FrameTable, swapStore *swap.Store, fs *fslock.Lock, log *logrus.Entry) *SPT {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &SPT{
		Owner:     owner,
		lock:      sched.NewLock(),
		pages:     make(map[uintptr]*Page),
		pageDir:   pageDir,
		ft:        ft,
		swapStore: swapStore,
		fs:        fs,
		log:       log,
	}
}

// Lock acquires the SPT's lock, blocking the owning thread if
// necessary.
func (spt *SPT) Lock(s *sched.Scheduler) {
	spt.lock.Acquire(s, spt.Owner)
}

// Unlock releases the SPT's lock.
func (spt *SPT) Unlock(s *sched.Scheduler) {
	_ = spt.lock.Release(s, spt.Owner)
}

// Find looks up the page containing va, or nil if there is none. va
// need not be page-aligned.
func (spt *SPT) Find(va uintptr) *Page {
	return spt.pages[roundDown(va)]
}

// PageExists reports whether any page covers va.
func (spt *SPT) PageExists(va uintptr) bool {
	return spt.Find(va) != nil
}

func (spt *SPT) insert(p *Page) error {
	if _, exists := spt.pages[p.VA]; exists {
		return errors.Errorf("vm: page already mapped at %#x", p.VA)
	}
	p.spt = spt
	spt.pages[p.VA] = p
	return nil
}

// AllocLazySegment registers an anonymous page that is first satisfied
// by running loader (the lazy_load_segment-style closure) rather than
// occupying a frame immediately.
func (spt *SPT) AllocLazySegment(va uintptr, writable bool, loader func(p *Page) error) (*Page, error) {
	p := &Page{VA: roundDown(va), Writable: writable}
	p.v = &uninitVariant{
		targetKind: Anon,
		promote: func(p *Page) variant {
			return &anonVariant{loader: loader, slot: -1, swapStore: spt.swapStore, ownerTid: spt.Owner.Tid}
		},
	}
	if err := spt.insert(p); err != nil {
		return nil, err
	}
	return p, nil
}

// AllocZero registers a zero-filled anonymous page (used for stack
// growth). It does not claim the page; the caller does, as HandleFault
// does right after allocating a stack page.
func (spt *SPT) AllocZero(va uintptr, writable bool) (*Page, error) {
	p := &Page{VA: roundDown(va), Writable: writable}
	p.v = &anonVariant{loader: nil, slot: -1, swapStore: spt.swapStore, ownerTid: spt.Owner.Tid}
	if err := spt.insert(p); err != nil {
		return nil, err
	}
	return p, nil
}

// AllocFileBacked registers a page backed by region, promoted to a
// fileVariant on first claim.
func (spt *SPT) AllocFileBacked(va uintptr, writable bool, region *MmapRegion) (*Page, error) {
	p := &Page{VA: roundDown(va), Writable: writable}
	p.v = &uninitVariant{
		targetKind: FileKind,
		promote: func(p *Page) variant {
			return &fileVariant{region: region, fs: spt.fs, ownerTid: spt.Owner.Tid}
		},
	}
	if err := spt.insert(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Claim satisfies a page fault for an already-registered page: it
// obtains a frame (allocating or evicting), installs the page table
// entry, runs the variant's swap_in, and only then links the frame
// into the global frame table.
func (spt *SPT) Claim(s *sched.Scheduler, page *Page) error {
	frame, err := spt.ft.GetFrame(s, spt.Owner)
	if err != nil {
		return errors.Wrap(err, "vm: claim: no frame available")
	}
	frame.Page = page
	page.Frame = frame

	if err := spt.pageDir.SetPage(page.VA, frame.Data[:], page.Writable); err != nil {
		page.Frame = nil
		spt.ft.Abandon(frame)
		return errors.Wrap(err, "vm: claim: install page table entry")
	}

	if err := page.v.swapIn(page); err != nil {
		page.Frame = nil
		spt.pageDir.ClearPage(page.VA)
		spt.ft.Abandon(frame)
		return errors.Wrap(err, "vm: claim: swap_in")
	}

	spt.pageDir.SetAccessed(page.VA, false)
	spt.pageDir.SetDirty(page.VA, false)
	spt.ft.link(frame)
	return nil
}

// Remove tears down one page: variant-specific backing-store cleanup
// (e.g. freeing a swap slot or writing a dirty mmap'd page back),
// followed by clearing the page table entry and returning the frame if
// it was resident.
func (spt *SPT) Remove(page *Page) {
	page.v.destroy(page)
	if page.Frame != nil {
		spt.pageDir.ClearPage(page.VA)
		spt.ft.Free(page.Frame)
		page.Frame = nil
	}
	delete(spt.pages, page.VA)
}

// Pin prevents page from being chosen as an eviction victim, for the
// duration of a syscall that holds a pointer into it.
func (spt *SPT) Pin(page *Page) { page.PinCount++ }

// Unpin reverses Pin.
func (spt *SPT) Unpin(page *Page) {
	if page.PinCount > 0 {
		page.PinCount--
	}
}

// Kill tears down every page and mmap region belonging to this address
// space, for process exit.
func (spt *SPT) Kill() {
	for _, region := range append([]*MmapRegion(nil), spt.regions...) {
		spt.unmapLocked(region)
	}
	for _, page := range spt.pages {
		spt.Remove(page)
	}
}
