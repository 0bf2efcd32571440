package handler

import (
	"math"
	"time"

	"github.com/kmrgirish/hostsim/internal/simulation/memory"
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

// sleepUntil is the continuation of a blocked nanosleep.
type sleepUntil struct {
	deadline time.Duration
}

func (h *SyscallHandler) sysNanosleep(ctx *SyscallContext) syscallabi.SyscallResult {
	now := ctx.Host.Now()
	if s, ok := ctx.Thread.Continuation().(sleepUntil); ok {
		if now >= s.deadline {
			return syscallabi.Done(0)
		}
		return syscallabi.Block(syscallabi.NewTimeout(s.deadline))
	}

	req, err := memory.Read(ctx.Memory(), syscallabi.PtrOf[syscallabi.Timespec](ctx.Args.Get(0)))
	if err != nil {
		return errResult(err)
	}
	if req.Sec < 0 || req.Nsec < 0 || req.Nsec >= int64(time.Second) {
		return syscallabi.Failed(syscallabi.EINVAL)
	}
	if req.Sec == 0 && req.Nsec == 0 {
		return syscallabi.Done(0)
	}
	s := sleepUntil{deadline: sleepDeadline(now, req)}
	ctx.Thread.SetContinuation(s)
	return syscallabi.Block(syscallabi.NewTimeout(s.deadline))
}

// sleepDeadline adds req to now, saturating at the largest representable
// time.
func sleepDeadline(now time.Duration, req syscallabi.Timespec) time.Duration {
	const forever = time.Duration(math.MaxInt64)
	rest := int64(forever-now) - req.Nsec
	if rest < 0 || req.Sec > rest/int64(time.Second) {
		return forever
	}
	return now + time.Duration(req.Sec)*time.Second + time.Duration(req.Nsec)
}

func (h *SyscallHandler) sysGetpid(ctx *SyscallContext) syscallabi.SyscallResult {
	return syscallabi.Done(int64(ctx.Process.PID))
}

func (h *SyscallHandler) sysGettid(ctx *SyscallContext) syscallabi.SyscallResult {
	return syscallabi.Done(int64(ctx.Thread.TID))
}

// sysExitGroup terminates the calling process. The result is never seen by
// the guest.
func (h *SyscallHandler) sysExitGroup(ctx *SyscallContext) syscallabi.SyscallResult {
	code := int(ctx.Args.Get(0).I32()) & 0xff
	if err := ctx.Process.Exit(code); err != nil {
		ctx.Host.Logger.Warn("exit_group", "pid", ctx.Process.PID, "err", err)
	}
	return syscallabi.Done(0)
}
