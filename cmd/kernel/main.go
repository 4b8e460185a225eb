// Command kernel wires together the scheduler, synchronization
// primitives, and demand-paged VM subsystem into a single bootable
// process: parse boot flags, construct the block device, filesystem
// lock, swap store, frame table and scheduler, run the optional
// self-test, then log the tick statistics and exit.
//
// This is not a bare-metal entry point — the bootloader, interrupt
// stubs, and MMU primitives are out of scope (see DESIGN.md) — but it
// follows the reference kernel's KernelMain shape: a flat sequence of
// subsystem inits, with uartPuts-style status lines translated to
// structured logrus calls. There is no run loop.
package main

import (
	"flag"

	"github.com/sirupsen/logrus"

	"github.com/blickwinkle/pintos/internal/blockdev"
	"github.com/blickwinkle/pintos/internal/fslock"
	"github.com/blickwinkle/pintos/internal/sched"
	"github.com/blickwinkle/pintos/internal/swap"
	"github.com/blickwinkle/pintos/internal/syscall"
	"github.com/blickwinkle/pintos/internal/vm"
)

// noFDs is the boot-time stand-in for a process's open file descriptor
// table: this entry point never opens a file (no filesystem is
// attached), so every lookup fails, which is the correct behavior for
// an MMAP syscall issued against a nonexistent fd.
type noFDs struct{}

func (noFDs) Lookup(fd int) (vm.File, int, bool) { return nil, 0, false }

const (
	// swapSectors sizes the in-memory swap device absent a real disk
	// image; enough for a handful of demand-paged pages in a demo run.
	swapSectors = 4096

	// frameCapacity bounds the frame table the way a small physical
	// memory footprint would.
	frameCapacity = 64
)

func main() {
	format := flag.Bool("format", false, "create a fresh file system before booting")
	selftest := flag.Bool("selftest", false, "run the built-in scheduler self-test and exit")
	// The reference kernel's "-o mlfqs" command-line token, expressed
	// as a conventional flag.
	opts := flag.String("o", "", "kernel options; \"mlfqs\" selects the 4.4BSD scheduler")
	flag.Parse()

	policy := sched.PolicyPriority
	if *opts == "mlfqs" {
		policy = sched.PolicyMlfqs
	}

	log := logrus.NewEntry(logrus.StandardLogger())
	log.WithFields(logrus.Fields{"format": *format, "policy": policyName(policy)}).Info("booting")

	if *format {
		log.Info("filesystem format requested (no-op: filesystem is an external collaborator)")
	}

	dev := blockdev.NewMemory(swapSectors)
	fs := fslock.New()
	swapStore := swap.New(dev, fs)
	frameTable := vm.NewFrameTable(frameCapacity, log.WithField("subsystem", "vm"))

	scheduler := sched.New(policy, log.WithField("subsystem", "sched"))

	pageDir := vm.NewSimplePageDir()
	boot := scheduler.Current()
	spt := vm.NewSPT(boot, pageDir, frameTable, swapStore, fs, log.WithField("subsystem", "vm"))
	dispatcher := syscall.NewDispatcher(scheduler, spt, noFDs{}, log.WithField("subsystem", "syscall"))
	dispatcher.Shutdown = func() { log.Info("SYS_HALT: shutting down") }

	log.WithFields(logrus.Fields{
		"swap_slots":     swapStore.SlotCount(),
		"frame_capacity": frameCapacity,
		"boot_tid":       boot.Tid,
	}).Info("subsystems initialized")

	if *selftest {
		if scheduler.SelfTestSemaphore() {
			log.Info("selftest: PASS")
		} else {
			log.Fatal("selftest: FAIL")
		}
		return
	}

	stats := scheduler.Stats()
	log.WithFields(logrus.Fields{
		"idle_ticks":   stats.IdleTicks,
		"kernel_ticks": stats.KernelTicks,
		"user_ticks":   stats.UserTicks,
	}).Info("shutdown")
}

func policyName(p sched.Policy) string {
	if p == sched.PolicyMlfqs {
		return "mlfqs"
	}
	return "priority"
}
