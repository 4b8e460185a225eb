// Package blockdev defines the minimal block-device contract the
// swap store and file-backed paging consume, plus an in-memory
// implementation for tests and for boot without a real disk.
package blockdev

import "github.com/pkg/errors"

// SectorSize is the device sector size in bytes, matching the
// reference kernel's DISK_SECTOR_SIZE.
const SectorSize = 512

// Device is the contract this module consumes from a block device:
// fixed-size sector read/write plus a sector count. Nothing about the
// device's own implementation (scheduling, caching, real I/O) is in
// scope here — only this contract.
type Device interface {
	SectorCount() int
	ReadSector(index int, buf []byte) error
	WriteSector(index int, buf []byte) error
}

// Memory is an in-memory Device, useful for tests and for running the
// kernel without an attached disk image.
type Memory struct {
	sectors [][SectorSize]byte
}

// NewMemory returns a zero-filled in-memory device with the given
// sector count.
func NewMemory(sectorCount int) *Memory {
	return &Memory{sectors: make([][SectorSize]byte, sectorCount)}
}

func (m *Memory) SectorCount() int { return len(m.sectors) }

func (m *Memory) ReadSector(index int, buf []byte) error {
	if index < 0 || index >= len(m.sectors) {
		return errors.Errorf("blockdev: sector %d out of range [0,%d)", index, len(m.sectors))
	}
	if len(buf) != SectorSize {
		return errors.Errorf("blockdev: buffer size %d != sector size %d", len(buf), SectorSize)
	}
	copy(buf, m.sectors[index][:])
	return nil
}

func (m *Memory) WriteSector(index int, buf []byte) error {
	if index < 0 || index >= len(m.sectors) {
		return errors.Errorf("blockdev: sector %d out of range [0,%d)", index, len(m.sectors))
	}
	if len(buf) != SectorSize {
		return errors.Errorf("blockdev: buffer size %d != sector size %d", len(buf), SectorSize)
	}
	copy(m.sectors[index][:], buf)
	return nil
}
