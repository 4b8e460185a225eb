// Package swap implements the swap slot bitmap allocator over a block
// device, grounded on vm/swap.c's disk_swap_init/in/out/free.
package swap

import (
	"github.com/pkg/errors"

	"github.com/blickwinkle/pintos/internal/blockdev"
	"github.com/blickwinkle/pintos/internal/fslock"
)

// PageSize is the VM page size in bytes.
const PageSize = 4096

// sectorsPerSlot is the number of device sectors one page-sized slot
// occupies.
const sectorsPerSlot = PageSize / blockdev.SectorSize

// ErrNoSlot is returned when swap is exhausted, the moral equivalent
// of DISK_SWAP_ERROR.
var ErrNoSlot = errors.New("swap: no free slot")

// Store is a bitmap-backed allocator of page-sized slots on a block
// device, serialized through the shared filesystem/swap lock.
type Store struct {
	dev  blockdev.Device
	fs   *fslock.Lock
	bits []bool
}

// New initializes a Store over dev, with slot_count =
// dev.SectorCount() / sectorsPerSlot.
func New(dev blockdev.Device, fs *fslock.Lock) *Store {
	slotCount := dev.SectorCount() / sectorsPerSlot
	return &Store{dev: dev, fs: fs, bits: make([]bool, slotCount)}
}

// SlotCount returns the total number of slots.
func (s *Store) SlotCount() int { return len(s.bits) }

// InUse reports whether slot is currently allocated, for tests and
// for the "swap slot set in bitmap iff some anon page names it"
// invariant.
func (s *Store) InUse(slot int) bool {
	return slot >= 0 && slot < len(s.bits) && s.bits[slot]
}

// Out writes one page's worth of bytes (len(data) must equal
// PageSize) into a freshly allocated slot and returns its index.
// Acquires the shared filesystem lock transiently unless callerID
// already holds it.
func (s *Store) Out(callerID int, data []byte) (int, error) {
	if len(data) != PageSize {
		return 0, errors.Errorf("swap: Out: expected %d bytes, got %d", PageSize, len(data))
	}
	slot := -1
	for i, used := range s.bits {
		if !used {
			slot = i
			break
		}
	}
	if slot == -1 {
		return 0, ErrNoSlot
	}
	s.bits[slot] = true

	err := s.fs.WithLock(callerID, func() error {
		return s.writeSlot(slot, data)
	})
	if err != nil {
		s.bits[slot] = false
		return 0, err
	}
	return slot, nil
}

// In reads slot's bytes into data (which must be PageSize long) and
// frees the slot.
func (s *Store) In(callerID int, slot int, data []byte) error {
	if len(data) != PageSize {
		return errors.Errorf("swap: In: expected %d bytes, got %d", PageSize, len(data))
	}
	if !s.InUse(slot) {
		return errors.Errorf("swap: In: slot %d is not allocated", slot)
	}
	err := s.fs.WithLock(callerID, func() error {
		return s.readSlot(slot, data)
	})
	if err != nil {
		return err
	}
	s.bits[slot] = false
	return nil
}

// Free releases slot without reading it back, used when a page is
// destroyed without ever being faulted back in.
func (s *Store) Free(slot int) {
	if s.InUse(slot) {
		s.bits[slot] = false
	}
}

func (s *Store) writeSlot(slot int, data []byte) error {
	base := slot * sectorsPerSlot
	for i := 0; i < sectorsPerSlot; i++ {
		off := i * blockdev.SectorSize
		if err := s.dev.WriteSector(base+i, data[off:off+blockdev.SectorSize]); err != nil {
			return errors.Wrapf(err, "swap: writing sector %d of slot %d", i, slot)
		}
	}
	return nil
}

func (s *Store) readSlot(slot int, data []byte) error {
	base := slot * sectorsPerSlot
	for i := 0; i < sectorsPerSlot; i++ {
		off := i * blockdev.SectorSize
		if err := s.dev.ReadSector(base+i, data[off:off+blockdev.SectorSize]); err != nil {
			return errors.Wrapf(err, "swap: reading sector %d of slot %d", i, slot)
		}
	}
	return nil
}
