package vm

// PageDir is the MMU collaborator this package consumes: install,
// clear, and query page table entries for one address space. The
// bootloader and the real page-table format are out of scope; this
// package only ever reaches the MMU through this contract.
type PageDir interface {
	// SetPage installs a present, page-sized mapping from va to the
	// given backing bytes.
	SetPage(va uintptr, frame []byte, writable bool) error
	// ClearPage removes any mapping for va.
	ClearPage(va uintptr)
	IsDirty(va uintptr) bool
	SetDirty(va uintptr, dirty bool)
	IsAccessed(va uintptr) bool
	SetAccessed(va uintptr, accessed bool)
}

// SimplePageDir is an in-memory stand-in for a real MMU, sufficient
// for driving this package end to end without one: it tracks, per
// page-aligned address, the dirty/accessed bits and a reference to the
// backing bytes installed by SetPage.
type SimplePageDir struct {
	entries map[uintptr]*simplePTE
}

type simplePTE struct {
	frame    []byte
	writable bool
	dirty    bool
	accessed bool
}

// NewSimplePageDir returns an empty SimplePageDir.
func NewSimplePageDir() *SimplePageDir {
	return &SimplePageDir{entries: make(map[uintptr]*simplePTE)}
}

func (d *SimplePageDir) SetPage(va uintptr, frame []byte, writable bool) error {
	d.entries[va] = &simplePTE{frame: frame, writable: writable}
	return nil
}

func (d *SimplePageDir) ClearPage(va uintptr) {
	delete(d.entries, va)
}

func (d *SimplePageDir) IsDirty(va uintptr) bool {
	if e, ok := d.entries[va]; ok {
		return e.dirty
	}
	return false
}

func (d *SimplePageDir) SetDirty(va uintptr, dirty bool) {
	if e, ok := d.entries[va]; ok {
		e.dirty = dirty
	}
}

func (d *SimplePageDir) IsAccessed(va uintptr) bool {
	if e, ok := d.entries[va]; ok {
		return e.accessed
	}
	return false
}

func (d *SimplePageDir) SetAccessed(va uintptr, accessed bool) {
	if e, ok := d.entries[va]; ok {
		e.accessed = accessed
	}
}

// MarkWrite is a test/simulation hook standing in for the MMU's own
// dirty-bit latching on a real write access: it marks va dirty and
// accessed, as a real fault-free store through an already-mapped PTE
// would.
func (d *SimplePageDir) MarkWrite(va uintptr) {
	if e, ok := d.entries[va]; ok {
		e.dirty = true
		e.accessed = true
	}
}

// MarkRead is the read-only equivalent of MarkWrite.
func (d *SimplePageDir) MarkRead(va uintptr) {
	if e, ok := d.entries[va]; ok {
		e.accessed = true
	}
}
