package vm

import (
	"github.com/pkg/errors"
)

// MmapRegion is one memory-mapped file range, divided into
// page-aligned, independently-faulted File pages.
type MmapRegion struct {
	MapID    int
	File     File
	Start    uintptr
	Length   int
	Offset   int64
	Writable bool

	pages []*Page
}

// Mmap maps length bytes of file starting at offset into the address
// space at addr, in page-sized, independently demand-paged chunks. It
// rejects a null or non-page-aligned addr, a non-positive length, a
// range extending past PhysBase, and a range overlapping any existing
// page. length need not be a page multiple: the last page is
// zero-padded past the mapped bytes. file is stored as given; it is
// not re-opened, and Munmap closes it.
func (spt *SPT) Mmap(addr uintptr, length int, file File, offset int64, writable bool) (*MmapRegion, error) {
	if addr == 0 || addr%PageSize != 0 {
		return nil, errors.New("vm: mmap: addr is null or not page-aligned")
	}
	if length <= 0 {
		return nil, errors.New("vm: mmap: length must be positive")
	}
	if addr+uintptr(length) > PhysBase {
		return nil, errors.New("vm: mmap: range extends past the user address space")
	}
	pageCount := (length + PageSize - 1) / PageSize
	for i := 0; i < pageCount; i++ {
		if spt.PageExists(addr + uintptr(i*PageSize)) {
			return nil, errors.Errorf("vm: mmap: address range overlaps an existing page at %#x", addr+uintptr(i*PageSize))
		}
	}

	spt.nextMapID++
	region := &MmapRegion{
		MapID:    spt.nextMapID,
		File:     file,
		Start:    addr,
		Length:   length,
		Offset:   offset,
		Writable: writable,
	}
	for i := 0; i < pageCount; i++ {
		p, err := spt.AllocFileBacked(addr+uintptr(i*PageSize), writable, region)
		if err != nil {
			for _, done := range region.pages {
				spt.Remove(done)
			}
			return nil, err
		}
		region.pages = append(region.pages, p)
	}
	spt.regions = append(spt.regions, region)
	return region, nil
}

// Munmap unmaps a region previously returned by Mmap, writing back any
// dirty pages and tearing down their frames.
func (spt *SPT) Munmap(mapID int) error {
	for _, region := range spt.regions {
		if region.MapID == mapID {
			spt.unmapLocked(region)
			return nil
		}
	}
	return errors.Errorf("vm: munmap: no such mapping %d", mapID)
}

func (spt *SPT) unmapLocked(region *MmapRegion) {
	for _, p := range region.pages {
		spt.Remove(p)
	}
	for i, r := range spt.regions {
		if r == region {
			spt.regions = append(spt.regions[:i], spt.regions[i+1:]...)
			break
		}
	}
	if err := region.File.Close(); err != nil {
		spt.log.WithError(err).Debug("vm: munmap: closing mapped file handle")
	}
}
