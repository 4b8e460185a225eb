package syscall

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/blickwinkle/pintos/internal/sched"
	"github.com/blickwinkle/pintos/internal/vm"
)

// ErrBadUserPointer is returned (never panicked) whenever an argument
// or buffer pointer fails SPT validation; the caller translates this
// into terminating the offending process with status -1, same as a
// failed check_user_pointer in the original.
var ErrBadUserPointer = errors.New("syscall: invalid user pointer")

// mmapFailEAX is the EAX encoding of a syscall returning -1, i.e.
// int32(-1) reinterpreted as uint32.
const mmapFailEAX uint32 = ^uint32(0)

// Frame is the minimal slice of a trapped user-mode syscall context
// this package needs: the stack pointer arguments are read relative
// to, and the slot the return value is written back into.
type Frame struct {
	ESP uintptr
	EAX uint32
}

// FDTable resolves a process's open file descriptors to the file
// collaborator the vm package demand-pages mmap regions through. Full
// file descriptor management (open/close/read/write) is a non-goal
// here; this is the minimal contract MMAP needs.
type FDTable interface {
	Lookup(fd int) (file vm.File, length int, ok bool)
}

// Dispatcher holds everything needed to service the syscalls this
// kernel actually implements, plus the table entries it intentionally
// does not.
type Dispatcher struct {
	Scheduler *sched.Scheduler
	SPT       *vm.SPT
	FDs       FDTable
	// Shutdown is invoked by SYS_HALT; nil is treated as a no-op.
	Shutdown func()
	log      *logrus.Entry
}

// NewDispatcher builds a Dispatcher over the given address space and
// scheduler.
func NewDispatcher(s *sched.Scheduler, spt *vm.SPT, fds FDTable, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{Scheduler: s, SPT: spt, FDs: fds, log: log}
}

// argRaw fetches the n'th 32-bit argument word above f.ESP (the
// convention argraw(n, f, ret) follows: arguments sit at
// f->esp + n*sizeof(uint32_t)), faulting the containing page in and
// pinning it for the duration of the read.
func (d *Dispatcher) argRaw(f *Frame, n int) (uint32, error) {
	addr := f.ESP + uintptr(n*4)
	return d.readWord(addr)
}

func (d *Dispatcher) readWord(addr uintptr) (uint32, error) {
	page, err := d.resolveAndPin(addr, false)
	if err != nil {
		return 0, err
	}
	defer d.SPT.Unpin(page)

	off := int(addr % vm.PageSize)
	if off+4 > vm.PageSize {
		return 0, errors.New("syscall: argument word crosses a page boundary")
	}
	return binary.LittleEndian.Uint32(page.Frame.Data[off : off+4]), nil
}

// resolveAndPin ensures addr's containing page is resident (faulting
// it in if necessary) and pins it so that eviction cannot steal it out
// from under an in-progress syscall.
func (d *Dispatcher) resolveAndPin(addr uintptr, write bool) (*vm.Page, error) {
	page := d.SPT.Find(addr)
	if page == nil {
		if err := d.SPT.HandleFault(d.Scheduler, addr, addr, write, false); err != nil {
			return nil, errors.Wrap(ErrBadUserPointer, err.Error())
		}
		page = d.SPT.Find(addr)
		if page == nil {
			return nil, ErrBadUserPointer
		}
	} else if !page.Resident() {
		if err := d.SPT.Claim(d.Scheduler, page); err != nil {
			return nil, errors.Wrap(ErrBadUserPointer, err.Error())
		}
	}
	if write && !page.Writable {
		return nil, ErrBadUserPointer
	}
	d.SPT.Pin(page)
	return page, nil
}

// Dispatch services one syscall trap. It returns the EAX value (also
// stored into f.EAX) and, when the process must end, terminate=true
// with the exit status: EXIT reports its argument, and argument or
// validation failures report status -1. No Go error is returned for
// what the kernel treats as user error.
func (d *Dispatcher) Dispatch(f *Frame) (eax uint32, terminate bool, exitStatus int32) {
	defer func() { f.EAX = eax }()

	numWord, err := d.argRaw(f, 0)
	if err != nil {
		return 0, true, -1
	}
	num := Number(numWord)
	if !num.Valid() {
		d.log.WithField("num", numWord).Warn("syscall: unknown syscall number")
		return 0, true, -1
	}

	switch num {
	case SysHalt:
		if d.Shutdown != nil {
			d.Shutdown()
		}
		return 0, false, 0
	case SysExit:
		status, err := d.argRaw(f, 1)
		if err != nil {
			return 0, true, -1
		}
		return 0, true, int32(status)
	case SysMmap:
		return d.sysMmap(f)
	case SysMunmap:
		return d.sysMunmap(f)
	default:
		d.log.WithField("syscall", num.String()).Panic("syscall: unimplemented entry")
	}
	panic("unreachable")
}

func (d *Dispatcher) sysMmap(f *Frame) (eax uint32, terminate bool, exitStatus int32) {
	fdWord, err := d.argRaw(f, 1)
	if err != nil {
		return 0, true, -1
	}
	addrWord, err := d.argRaw(f, 2)
	if err != nil {
		return 0, true, -1
	}
	addr := uintptr(addrWord)
	if addr == 0 || addr%vm.PageSize != 0 {
		return mmapFailEAX, false, 0
	}

	file, length, ok := d.FDs.Lookup(int(int32(fdWord)))
	if !ok || length == 0 {
		return mmapFailEAX, false, 0
	}

	region, err := d.SPT.Mmap(addr, length, file, 0, true)
	if err != nil {
		d.log.WithError(err).Debug("syscall: mmap rejected")
		return mmapFailEAX, false, 0
	}
	return uint32(region.MapID), false, 0
}

func (d *Dispatcher) sysMunmap(f *Frame) (eax uint32, terminate bool, exitStatus int32) {
	mapIDWord, err := d.argRaw(f, 1)
	if err != nil {
		return 0, true, -1
	}
	if err := d.SPT.Munmap(int(int32(mapIDWord))); err != nil {
		d.log.WithError(err).Debug("syscall: munmap of unknown mapping")
	}
	return 0, false, 0
}
