// Package syscall implements the numbered system-call dispatch table,
// argument fetch with SPT-backed pointer validation, and the handlers
// this kernel actually implements (HALT, EXIT, MMAP, MUNMAP). Every
// other numbered entry is a real, intentionally unimplemented stop:
// dispatching to one panics, mirroring a kernel assertion failure
// rather than a silently-ignored call.
package syscall

// Number identifies one system call by its argraw(0, ...) slot, in the
// same order as syscall-nr.h.
type Number int

const (
	SysHalt Number = iota
	SysExit
	SysExec
	SysWait
	SysCreate
	SysRemove
	SysOpen
	SysFilesize
	SysRead
	SysWrite
	SysSeek
	SysTell
	SysClose
	SysMmap
	SysMunmap
	SysChdir
	SysMkdir
	SysReaddir
	SysIsdir
	SysInumber

	numSyscalls
)

var syscallNames = [numSyscalls]string{
	SysHalt:     "SYS_HALT",
	SysExit:     "SYS_EXIT",
	SysExec:     "SYS_EXEC",
	SysWait:     "SYS_WAIT",
	SysCreate:   "SYS_CREATE",
	SysRemove:   "SYS_REMOVE",
	SysOpen:     "SYS_OPEN",
	SysFilesize: "SYS_FILESIZE",
	SysRead:     "SYS_READ",
	SysWrite:    "SYS_WRITE",
	SysSeek:     "SYS_SEEK",
	SysTell:     "SYS_TELL",
	SysClose:    "SYS_CLOSE",
	SysMmap:     "SYS_MMAP",
	SysMunmap:   "SYS_MUNMAP",
	SysChdir:    "SYS_CHDIR",
	SysMkdir:    "SYS_MKDIR",
	SysReaddir:  "SYS_READDIR",
	SysIsdir:    "SYS_ISDIR",
	SysInumber:  "SYS_INUMBER",
}

func (n Number) String() string {
	if n < 0 || int(n) >= len(syscallNames) {
		return "SYS_UNKNOWN"
	}
	return syscallNames[n]
}

// Valid reports whether n names a real table entry.
func (n Number) Valid() bool { return n >= 0 && n < numSyscalls }
