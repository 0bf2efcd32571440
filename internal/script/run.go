package script

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/kmrgirish/hostsim/internal/simulation/host"
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

// Guest addresses used by scripts.
const (
	BufBase    = host.ScratchBase
	stringBase = host.ScratchBase + ScratchBufSize
	stringEnd  = host.StackTop
)

// An ExpectationError reports a call or memory check that did not match.
type ExpectationError struct {
	Script string
	Line   int
	Text   string
	Got    string
	Want   string
}

func (e *ExpectationError) Error() string {
	return fmt.Sprintf("%s:%d: %s: got %s, want %s", e.Script, e.Line, e.Text, e.Got, e.Want)
}

// A Runner executes a script for one thread. It implements the driver's
// Program interface.
type Runner struct {
	script  *Script
	pc      int
	current *statement
	results map[int]int64
	last    int64
}

func (s *Script) NewRunner() *Runner {
	return &Runner{
		script:  s,
		results: make(map[int]int64),
	}
}

// Results returns the return value of each executed call by source line.
func (r *Runner) Results() map[int]int64 {
	return r.results
}

func (r *Runner) Next(p *host.Process, prev int64) (syscallabi.SysCallArgs, bool, error) {
	if st := r.current; st != nil {
		r.current = nil
		r.results[st.line] = prev
		r.last = prev
		if err := r.check(st, prev); err != nil {
			return syscallabi.SysCallArgs{}, false, err
		}
	}

	for r.pc < len(r.script.stmts) {
		st := &r.script.stmts[r.pc]
		r.pc++
		if st.memcheck {
			if err := r.checkMemory(p, st); err != nil {
				return syscallabi.SysCallArgs{}, false, err
			}
			continue
		}

		args, err := r.prepare(p, st)
		if err != nil {
			return syscallabi.SysCallArgs{}, false, fmt.Errorf("%s:%d: %w", r.script.Name, st.line, err)
		}
		r.current = st
		return args, true, nil
	}
	return syscallabi.SysCallArgs{}, false, nil
}

func (r *Runner) prepare(p *host.Process, st *statement) (syscallabi.SysCallArgs, error) {
	next := uint64(stringBase)
	regs := make([]uint64, len(st.args))
	for i, a := range st.args {
		if a.kind == argString {
			data := append([]byte(a.str), 0)
			if next+uint64(len(data)) > stringEnd {
				return syscallabi.SysCallArgs{}, errors.New("strings do not fit in scratch area")
			}
			if err := p.Memory.WriteBytes(syscallabi.NewForeignArrayPtr[byte](next, len(data)), data); err != nil {
				return syscallabi.SysCallArgs{}, fmt.Errorf("copying %s: %w", a, err)
			}
			regs[i] = next
			next += uint64(len(data))
			continue
		}
		regs[i] = r.eval(a)
	}
	return syscallabi.NewSysCallArgs(st.nr, regs...), nil
}

func (r *Runner) eval(a arg) uint64 {
	switch a.kind {
	case argBuf:
		return BufBase + a.val
	case argRef:
		return uint64(r.results[a.line])
	case argLast:
		return uint64(r.last)
	default:
		return a.val
	}
}

func (r *Runner) check(st *statement, ret int64) error {
	res := syscallabi.FromRetval(ret)
	var ok bool
	var want string
	switch st.expect.kind {
	case expectNone:
		return nil
	case expectSuccess:
		ok, want = res.IsDone(), "success"
	case expectErrno:
		ok, want = res.IsFailed() && res.Errno() == st.expect.errno, syscallabi.ErrnoName(st.expect.errno)
	case expectValue:
		v := int64(r.eval(st.expect.value))
		ok, want = ret == v, fmt.Sprint(v)
	}
	if ok {
		return nil
	}
	return &ExpectationError{
		Script: r.script.Name,
		Line:   st.line,
		Text:   st.text,
		Got:    res.String(),
		Want:   want,
	}
}

func (r *Runner) checkMemory(p *host.Process, st *statement) error {
	got := make([]byte, len(st.want))
	addr := r.eval(st.addr)
	if err := p.Memory.ReadBytes(syscallabi.NewForeignArrayPtr[byte](addr, len(got)), got); err != nil {
		return fmt.Errorf("%s:%d: reading %#x: %w", r.script.Name, st.line, addr, err)
	}
	if !bytes.Equal(got, []byte(st.want)) {
		return &ExpectationError{
			Script: r.script.Name,
			Line:   st.line,
			Text:   st.text,
			Got:    fmt.Sprintf("%q", got),
			Want:   fmt.Sprintf("%q", st.want),
		}
	}
	return nil
}
