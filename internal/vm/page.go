// Package vm implements the demand-paged virtual memory subsystem:
// the supplemental page table, the global frame table with eviction,
// anonymous pages, file-backed (mmap) pages, and page-fault handling.
//
// Pages are a tagged variant rather than a class hierarchy: the
// uninit→{anon,file} promotion and the per-variant swap_in/swap_out/
// destroy behavior are dispatched through a small interface instead of
// inheritance, and anon pages encode their lazy-segment/zero/
// swap-backed sub-state as plain fields.
package vm

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/blickwinkle/pintos/internal/bitfield"
	"github.com/blickwinkle/pintos/internal/fslock"
	"github.com/blickwinkle/pintos/internal/swap"
)

// PageSize is the VM page size in bytes.
const PageSize = 4096

// PageKind is the page's tagged variant.
type PageKind int

const (
	Uninit PageKind = iota
	Anon
	FileKind
)

func (k PageKind) String() string {
	switch k {
	case Uninit:
		return "uninit"
	case Anon:
		return "anon"
	case FileKind:
		return "file"
	default:
		return "unknown"
	}
}

// variant is the per-page-kind dispatch table: promote-on-first-fault,
// evict, and teardown behavior.
type variant interface {
	kind() PageKind
	swapIn(p *Page) error
	swapOut(p *Page) error
	destroy(p *Page)
}

// Page is a page-aligned virtual address plus its tagged variant,
// pin count, and residency back-pointer. Immutable after creation
// except for the fields that track residency and pinning, and the
// variant, which an uninit page replaces on its first swap_in.
type Page struct {
	VA       uintptr
	Writable bool
	PinCount int

	spt   *SPT
	Frame *Frame
	v     variant
}

// Kind reports the page's current tagged variant.
func (p *Page) Kind() PageKind { return p.v.kind() }

// Resident reports whether the page currently occupies a frame.
func (p *Page) Resident() bool { return p.Frame != nil }

// flagsSnapshot packs a debug-visible snapshot of the page's state for
// trace logging, the same bit-packing mechanism as the reference
// kernel's PageFlags.
func (p *Page) flagsSnapshot() bitfield.PageFlags {
	return bitfield.PageFlags{
		Writable: p.Writable,
		Resident: p.Resident(),
		Kind:     uint32(p.Kind()),
	}
}

// LogFields returns a logrus.Fields view of the page's flags snapshot,
// suitable for WithFields on eviction/fault trace logs.
func (p *Page) LogFields() logrus.Fields {
	packed, _ := bitfield.PackPageFlags(p.flagsSnapshot())
	return logrus.Fields{"va": p.VA, "flags": packed}
}

// uninitVariant is the not-yet-promoted stage: the page has never
// occupied a frame. On first swap_in it promotes itself to the target
// variant and delegates.
type uninitVariant struct {
	targetKind PageKind
	promote    func(p *Page) variant
}

func (u *uninitVariant) kind() PageKind { return Uninit }

func (u *uninitVariant) swapIn(p *Page) error {
	p.v = u.promote(p)
	return p.v.swapIn(p)
}

func (u *uninitVariant) swapOut(p *Page) error {
	// A page that has never been claimed is never resident; nothing
	// to write back.
	return nil
}

func (u *uninitVariant) destroy(p *Page) {}

// anonVariant is an anonymous page. Sub-state (lazy-loaded segment,
// zero-initialized, or swap-backed) is encoded as plain fields, not as
// separate types.
type anonVariant struct {
	loader func(p *Page) error // lazy_load_segment-style closure; nil for plain zero pages
	dirty  bool                // set once a dirty PTE is observed on swap_out
	slot   int                 // swap slot, or -1 if none allocated

	swapStore *swap.Store
	ownerTid  int
}

func (a *anonVariant) kind() PageKind { return Anon }

func (a *anonVariant) swapIn(p *Page) error {
	if a.slot >= 0 {
		if err := a.swapStore.In(a.ownerTid, a.slot, p.Frame.Data[:]); err != nil {
			return errors.Wrap(err, "vm: anon swap_in")
		}
		a.slot = -1
		return nil
	}
	if a.loader != nil && !a.dirty {
		return a.loader(p)
	}
	for i := range p.Frame.Data {
		p.Frame.Data[i] = 0
	}
	return nil
}

func (a *anonVariant) swapOut(p *Page) error {
	if p.spt.pageDir.IsDirty(p.VA) {
		a.dirty = true
	}
	if a.loader != nil && !a.dirty {
		// Clean lazy-loaded-segment page: eviction is free, it will
		// be re-loaded from its closure on the next fault.
		return nil
	}
	slot, err := a.swapStore.Out(a.ownerTid, p.Frame.Data[:])
	if err != nil {
		return errors.Wrap(err, "vm: anon swap_out")
	}
	a.slot = slot
	return nil
}

func (a *anonVariant) destroy(p *Page) {
	if a.slot >= 0 {
		a.swapStore.Free(a.slot)
		a.slot = -1
	}
}

// File is the contract this module consumes from the filesystem for
// mmap'd file content: a seekable, closable byte range.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// fileVariant is a memory-mapped-file-backed page.
type fileVariant struct {
	region   *MmapRegion
	fs       *fslock.Lock
	ownerTid int
}

func (f *fileVariant) kind() PageKind { return FileKind }

func (f *fileVariant) byteRange(p *Page) (start int64, length int) {
	region := f.region
	start = region.Offset + int64(p.VA-region.Start)
	length = PageSize
	if start+int64(PageSize) > region.Offset+int64(region.Length) {
		length = int(region.Offset + int64(region.Length) - start)
	}
	return start, length
}

func (f *fileVariant) swapIn(p *Page) error {
	start, length := f.byteRange(p)
	if length <= 0 {
		return errors.New("vm: file-backed page has non-positive read length")
	}
	err := f.fs.WithLock(f.ownerTid, func() error {
		_, e := f.region.File.ReadAt(p.Frame.Data[:length], start)
		if e != nil && e != io.EOF {
			return e
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "vm: file swap_in")
	}
	for i := length; i < PageSize; i++ {
		p.Frame.Data[i] = 0
	}
	p.spt.pageDir.SetDirty(p.VA, false)
	return nil
}

func (f *fileVariant) swapOut(p *Page) error {
	if !p.spt.pageDir.IsDirty(p.VA) {
		return nil
	}
	start, length := f.byteRange(p)
	if length <= 0 {
		return errors.New("vm: file-backed page has non-positive write length")
	}
	return f.fs.WithLock(f.ownerTid, func() error {
		_, e := f.region.File.WriteAt(p.Frame.Data[:length], start)
		return e
	})
}

func (f *fileVariant) destroy(p *Page) {
	if p.Frame == nil {
		return
	}
	_ = f.swapOut(p)
}
