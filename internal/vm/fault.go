package vm

import (
	"github.com/pkg/errors"

	"github.com/blickwinkle/pintos/internal/sched"
)

// PhysBase is the conceptual boundary between user and kernel address
// space, used only to bound how far a stack is allowed to grow.
const PhysBase = 0xC0000000

// UserStackMax is the maximum size a process's stack is allowed to
// grow to.
const UserStackMax = 8 * 1024 * 1024

// StackGrowthSlack is how far below the current stack pointer a fault
// address may still be treated as a legitimate stack-growth access
// (covers the PUSH/PUSHA instructions that decrement esp before
// faulting).
const StackGrowthSlack = 32

// ErrProtectionFault indicates a fault on an address that already has
// a page table entry — a genuine access-rights violation, never
// resolved by paging.
var ErrProtectionFault = errors.New("vm: protection fault")

// ErrSegFault indicates a fault on an address with no known page and
// no plausible stack-growth justification.
var ErrSegFault = errors.New("vm: segmentation fault")

// HandleFault resolves a page fault at faultVA. userESP is the
// faulting thread's user-mode stack pointer at the time of the fault,
// needed to distinguish legitimate stack growth from a wild pointer.
// present indicates the fault was on an address that already has a
// mapping (write to a read-only page, etc.) — that is always an error,
// never something this module can resolve.
func (spt *SPT) HandleFault(s *sched.Scheduler, faultVA uintptr, userESP uintptr, write bool, present bool) error {
	if present {
		return ErrProtectionFault
	}

	rounded := roundDown(faultVA)
	if page := spt.Find(rounded); page != nil {
		if write && !page.Writable {
			return ErrProtectionFault
		}
		return spt.Claim(s, page)
	}

	if spt.isStackGrowth(faultVA, userESP) {
		page, err := spt.AllocZero(rounded, true)
		if err != nil {
			return err
		}
		return spt.Claim(s, page)
	}

	return ErrSegFault
}

func (spt *SPT) isStackGrowth(faultVA, userESP uintptr) bool {
	if faultVA+StackGrowthSlack < userESP {
		return false
	}
	if faultVA >= PhysBase {
		return false
	}
	return faultVA > PhysBase-UserStackMax
}
