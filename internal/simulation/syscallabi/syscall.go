package syscallabi

import (
	"fmt"
	"strings"
)

// NR is a syscall number in the x86_64 Linux numbering.
type NR uint64

const (
	NR_read         NR = 0
	NR_write        NR = 1
	NR_open         NR = 2
	NR_close        NR = 3
	NR_fstat        NR = 5
	NR_lseek        NR = 8
	NR_mmap         NR = 9
	NR_mprotect     NR = 10
	NR_munmap       NR = 11
	NR_brk          NR = 12
	NR_mremap       NR = 25
	NR_dup          NR = 32
	NR_dup2         NR = 33
	NR_nanosleep    NR = 35
	NR_getpid       NR = 39
	NR_fcntl        NR = 72
	NR_fstatfs      NR = 138
	NR_gettid       NR = 186
	NR_exit_group   NR = 231
	NR_openat       NR = 257
	NR_newfstatat   NR = 262
	NR_dup3         NR = 292
	NR_pipe2        NR = 293
	NR_memfd_create NR = 319
	NR_statx        NR = 332
)

var nrNames = map[NR]string{
	NR_read:         "read",
	NR_write:        "write",
	NR_open:         "open",
	NR_close:        "close",
	NR_fstat:        "fstat",
	NR_lseek:        "lseek",
	NR_mmap:         "mmap",
	NR_mprotect:     "mprotect",
	NR_munmap:       "munmap",
	NR_brk:          "brk",
	NR_mremap:       "mremap",
	NR_dup:          "dup",
	NR_dup2:         "dup2",
	NR_nanosleep:    "nanosleep",
	NR_getpid:       "getpid",
	NR_fcntl:        "fcntl",
	NR_fstatfs:      "fstatfs",
	NR_gettid:       "gettid",
	NR_exit_group:   "exit_group",
	NR_openat:       "openat",
	NR_newfstatat:   "newfstatat",
	NR_dup3:         "dup3",
	NR_pipe2:        "pipe2",
	NR_memfd_create: "memfd_create",
	NR_statx:        "statx",
}

func (nr NR) String() string {
	if name, ok := nrNames[nr]; ok {
		return name
	}
	return fmt.Sprintf("syscall_%d", uint64(nr))
}

// LookupNR finds a syscall number by its name.
func LookupNR(name string) (NR, bool) {
	name = strings.ToLower(name)
	for nr, n := range nrNames {
		if n == name {
			return nr, true
		}
	}
	return 0, false
}

// SyscallReg is a single register-width syscall argument or return value.
// The typed accessors reinterpret the register the same way the guest's C
// calling convention would.
type SyscallReg uint64

func (r SyscallReg) U64() uint64 { return uint64(r) }
func (r SyscallReg) I64() int64  { return int64(r) }
func (r SyscallReg) U32() uint32 { return uint32(r) }
func (r SyscallReg) I32() int32  { return int32(r) }

// SysCallArgs holds the syscall number and the six argument registers exactly
// as the guest presented them. It is never modified after capture.
type SysCallArgs struct {
	Number NR
	Args   [6]SyscallReg
}

// NewSysCallArgs captures a syscall request. Missing arguments are zero.
func NewSysCallArgs(nr NR, args ...uint64) SysCallArgs {
	if len(args) > 6 {
		Fatalf("syscall %s: %d arguments", nr, len(args))
	}
	s := SysCallArgs{Number: nr}
	for i, arg := range args {
		s.Args[i] = SyscallReg(arg)
	}
	return s
}

func (a *SysCallArgs) Get(i int) SyscallReg {
	return a.Args[i]
}

func (a *SysCallArgs) String() string {
	var b strings.Builder
	b.WriteString(a.Number.String())
	b.WriteByte('(')
	for i, arg := range a.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%#x", uint64(arg))
	}
	b.WriteByte(')')
	return b.String()
}

// BoolToReg stores a boolean as a register value.
func BoolToReg(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}
