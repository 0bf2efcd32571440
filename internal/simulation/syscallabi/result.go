package syscallabi

import "fmt"

type resultKind uint8

const (
	resultDone resultKind = iota
	resultFailed
	resultBlocked
)

// MaxErrno is the largest errno the guest ABI can return. Return registers in
// [-MaxErrno, -1] are errors, everything else is a value.
const MaxErrno = 4095

// A SyscallResult is the outcome of a single syscall: a success value, an
// errno, or a condition the calling thread must wait on before the call is
// dispatched again. The constructors make sure a result is only ever one of
// those.
type SyscallResult struct {
	kind  resultKind
	value int64
	errno Errno
	cond  *Condition
}

// Done returns a successful result. Values that the guest would read back as
// an errno are rejected.
func Done(v int64) SyscallResult {
	if v < 0 && v >= -MaxErrno {
		Fatalf("success value %d collides with errno range", v)
	}
	return SyscallResult{kind: resultDone, value: v}
}

// Failed returns an error result.
func Failed(errno Errno) SyscallResult {
	if errno == 0 || errno > MaxErrno {
		Fatalf("invalid errno %d", uint64(errno))
	}
	return SyscallResult{kind: resultFailed, errno: errno}
}

// Block returns a result that parks the calling thread until cond is ready.
func Block(cond *Condition) SyscallResult {
	if cond == nil {
		Fatalf("blocked result without condition")
	}
	return SyscallResult{kind: resultBlocked, cond: cond}
}

// FromRetval interprets a raw return register in the platform convention.
// The errno is passed through unchanged.
func FromRetval(ret int64) SyscallResult {
	if ret < 0 && ret >= -MaxErrno {
		return Failed(Errno(-ret))
	}
	return SyscallResult{kind: resultDone, value: ret}
}

// Blocked is returned as an error by native file operations that cannot make
// progress yet.
type Blocked struct {
	Cond *Condition
}

func (b *Blocked) Error() string {
	return "operation would block"
}

// ResultFrom converts the (value, error) pair returned by a native
// implementation. The error must be nil, an Errno, or a *Blocked; anything
// else is a simulator bug.
func ResultFrom[T ~int | ~int32 | ~int64 | ~uint32 | ~uint64](v T, err error) SyscallResult {
	if err == nil {
		return Done(int64(v))
	}
	if b, ok := err.(*Blocked); ok {
		return Block(b.Cond)
	}
	if errno, ok := ErrnoOf(err); ok {
		return Failed(errno)
	}
	Fatalf("unexpected error from native handler: %v", err)
	return SyscallResult{}
}

func (r SyscallResult) IsDone() bool    { return r.kind == resultDone }
func (r SyscallResult) IsFailed() bool  { return r.kind == resultFailed }
func (r SyscallResult) IsBlocked() bool { return r.kind == resultBlocked }

func (r SyscallResult) Value() int64 {
	return r.value
}

func (r SyscallResult) Errno() Errno {
	return r.errno
}

func (r SyscallResult) Condition() *Condition {
	return r.cond
}

// Retval is the value written back to the guest's return register.
func (r SyscallResult) Retval() int64 {
	switch r.kind {
	case resultDone:
		return r.value
	case resultFailed:
		return -int64(r.errno)
	default:
		Fatalf("retval of blocked result")
		return 0
	}
}

func (r SyscallResult) String() string {
	switch r.kind {
	case resultDone:
		return fmt.Sprintf("%d", r.value)
	case resultFailed:
		return fmt.Sprintf("-1 %s (%s)", ErrnoName(r.errno), r.errno.Error())
	default:
		return "<blocked>"
	}
}
