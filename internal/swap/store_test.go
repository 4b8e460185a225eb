package swap

import (
	"bytes"
	"testing"

	"github.com/blickwinkle/pintos/internal/blockdev"
	"github.com/blickwinkle/pintos/internal/fslock"
)

func newTestStore(t *testing.T, slots int) *Store {
	t.Helper()
	dev := blockdev.NewMemory(slots * sectorsPerSlot)
	return New(dev, fslock.New())
}

func TestOutInRoundTrip(t *testing.T) {
	s := newTestStore(t, 2)
	page := bytes.Repeat([]byte{0xAB}, PageSize)

	slot, err := s.Out(1, page)
	if err != nil {
		t.Fatalf("Out: %v", err)
	}
	if !s.InUse(slot) {
		t.Fatalf("slot %d should be marked in use", slot)
	}

	got := make([]byte, PageSize)
	if err := s.In(1, slot, got); err != nil {
		t.Fatalf("In: %v", err)
	}
	if !bytes.Equal(got, page) {
		t.Fatalf("round-trip mismatch")
	}
	if s.InUse(slot) {
		t.Fatalf("slot should be freed after In")
	}
}

func TestOutExhaustion(t *testing.T) {
	s := newTestStore(t, 1)
	page := make([]byte, PageSize)

	if _, err := s.Out(1, page); err != nil {
		t.Fatalf("first Out: %v", err)
	}
	if _, err := s.Out(1, page); err != ErrNoSlot {
		t.Fatalf("expected ErrNoSlot, got %v", err)
	}
}

func TestFreeWithoutReadBack(t *testing.T) {
	s := newTestStore(t, 1)
	page := make([]byte, PageSize)
	slot, _ := s.Out(1, page)
	s.Free(slot)
	if s.InUse(slot) {
		t.Fatalf("slot should be free")
	}
}
