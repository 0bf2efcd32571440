// Package simulation drives hosts. Each host runs its processes one syscall
// at a time in a fixed round-robin order on a virtual clock, so a run is
// fully determined by its configuration. Hosts run in parallel.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kmrgirish/hostsim/internal/simulation/fs"
	"github.com/kmrgirish/hostsim/internal/simulation/handler"
	"github.com/kmrgirish/hostsim/internal/simulation/host"
	"github.com/kmrgirish/hostsim/internal/simulation/legacy"
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
	"github.com/kmrgirish/hostsim/internal/simulation/trace"
)

var (
	ErrDeadlock  = errors.New("deadlock: every thread is blocked without a deadline")
	ErrStepLimit = errors.New("step limit exceeded")
	ErrTimeout   = errors.New("simulated time limit exceeded")
)

// DefaultMaxSteps bounds the number of syscalls a single host may run.
const DefaultMaxSteps = 1_000_000

// A Program produces the syscalls of one guest thread. prev is the return
// register of the previous call, or 0 before the first call. ok is false once
// the program has finished; an error fails the process.
type Program interface {
	Next(p *host.Process, prev int64) (args syscallabi.SysCallArgs, ok bool, err error)
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(p *host.Process, prev int64) (syscallabi.SysCallArgs, bool, error)

func (f ProgramFunc) Next(p *host.Process, prev int64) (syscallabi.SysCallArgs, bool, error) {
	return f(p, prev)
}

type ProcessSpec struct {
	Name    string
	Program Program
}

type FileSpec struct {
	Path string
	Data []byte
	Mode uint32
}

type HostSpec struct {
	Name      string
	Files     []FileSpec
	Dirs      []string
	Processes []ProcessSpec
}

type TraceFormat string

const (
	TraceOff  TraceFormat = ""
	TraceSlog TraceFormat = "slog"
	TraceZap  TraceFormat = "zap"
)

type Options struct {
	// Logger receives all logs. Every host adds its name and step counter.
	Logger *slog.Logger
	// Trace selects how syscalls are traced.
	Trace TraceFormat
	// Sink also receives every trace record. It is shared by all hosts and
	// must be safe for concurrent use.
	Sink trace.Sink
	// MaxSteps bounds the syscalls per host. Zero means DefaultMaxSteps.
	MaxSteps int
	// Timeout bounds simulated time per host. Zero means no limit.
	Timeout time.Duration
}

// ProcessResult describes how a process ended.
type ProcessResult struct {
	Host     string
	PID      int
	Name     string
	ExitCode int
	// Err is set when the program itself failed.
	Err error
}

func (r ProcessResult) Failed() bool {
	return r.Err != nil || r.ExitCode != 0
}

type HostResult struct {
	Name      string
	Steps     int64
	Elapsed   time.Duration
	Processes []ProcessResult
}

type Result struct {
	Hosts []HostResult
}

// Failed returns the processes that exited unsuccessfully.
func (r *Result) Failed() []ProcessResult {
	var out []ProcessResult
	for _, h := range r.Hosts {
		for _, p := range h.Processes {
			if p.Failed() {
				out = append(out, p)
			}
		}
	}
	return out
}

// A Simulation is a set of hosts that run independently.
type Simulation struct {
	opts     Options
	machines []*Machine
}

func New(specs []HostSpec, opts Options) (*Simulation, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxSteps == 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	s := &Simulation{opts: opts}
	for i, spec := range specs {
		m, err := newMachine(i+1, spec, opts)
		if err != nil {
			return nil, err
		}
		s.machines = append(s.machines, m)
	}
	return s, nil
}

func (s *Simulation) Machines() []*Machine {
	return s.machines
}

// Run runs every host to completion. The error is non-nil when the
// simulation itself broke down; guest failures are reported in the result.
func (s *Simulation) Run(ctx context.Context) (*Result, error) {
	results := make([]HostResult, len(s.machines))
	g, ctx := errgroup.WithContext(ctx)
	for i, m := range s.machines {
		g.Go(func() error {
			r, err := m.Run(ctx)
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Result{Hosts: results}, nil
}

// A runner drives one thread's program.
type runner struct {
	thread  *host.Thread
	program Program
	prev    int64
	pending *syscallabi.SysCallArgs
	timer   *timer
	err     error
	done    bool
}

// A Machine is one host with its legacy subsystem and syscall handler.
type Machine struct {
	host    *host.Host
	kernel  *legacy.Kernel
	handler *handler.SyscallHandler
	logger  *slog.Logger
	opts    Options

	runners []*runner
	timers  *timerHeap
	steps   atomic.Int64
}

func newMachine(id int, spec HostSpec, opts Options) (*Machine, error) {
	m := &Machine{
		opts:   opts,
		timers: newTimerHeap(),
	}
	logger := slog.New(stepSlogHandler{inner: opts.Logger.Handler(), step: &m.steps})

	filesystem := fs.NewLinuxFilesystem(uint64(id))
	for _, dir := range spec.Dirs {
		if err := filesystem.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("host %s: creating %s: %w", spec.Name, dir, err)
		}
	}
	for _, f := range spec.Files {
		mode := f.Mode
		if mode == 0 {
			mode = 0o644
		}
		if err := filesystem.AddFile(f.Path, f.Data, mode); err != nil {
			return nil, fmt.Errorf("host %s: adding %s: %w", spec.Name, f.Path, err)
		}
	}

	m.host = host.New(id, spec.Name, filesystem, logger)
	m.logger = m.host.Logger
	m.kernel = legacy.New(m.host)

	var sinks trace.Multi
	switch opts.Trace {
	case TraceOff:
	case TraceSlog:
		sinks = append(sinks, &trace.SlogSink{Logger: m.logger, Level: slog.LevelInfo})
	case TraceZap:
		sink, err := trace.NewZapSink(m.logger)
		if err != nil {
			return nil, fmt.Errorf("host %s: %w", m.host.Name, err)
		}
		sinks = append(sinks, sink)
	default:
		return nil, fmt.Errorf("unknown trace format %q", opts.Trace)
	}
	if opts.Sink != nil {
		sinks = append(sinks, opts.Sink)
	}
	var hopts []handler.Option
	if len(sinks) > 0 {
		hopts = append(hopts, handler.WithSink(sinks))
	}
	m.handler = handler.New(m.kernel, hopts...)

	m.host.OnProcessExit(func(p *host.Process) {
		m.timers.removeProcess(p)
		for _, r := range m.runners {
			if r.thread.Process() == p {
				r.timer = nil
			}
		}
	})

	for _, ps := range spec.Processes {
		p, err := m.host.NewProcess(ps.Name)
		if err != nil {
			return nil, fmt.Errorf("host %s: %w", m.host.Name, err)
		}
		m.runners = append(m.runners, &runner{
			thread:  p.MainThread(),
			program: ps.Program,
		})
	}
	return m, nil
}

func (m *Machine) Host() *host.Host {
	return m.host
}

func (m *Machine) Kernel() *legacy.Kernel {
	return m.kernel
}

// Run drives the host until every process has exited. Fatal simulator
// errors raised as panics are returned as errors.
func (m *Machine) Run(ctx context.Context) (result HostResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			fatal, ok := r.(*syscallabi.FatalError)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("host %s: %w", m.host.Name, fatal)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return HostResult{}, err
		}

		progressed := false
		alive := false
		for _, r := range m.runners {
			if r.done {
				continue
			}
			alive = true
			if cond := r.thread.Blocked(); cond != nil {
				if !cond.Ready(m.host.Now()) {
					continue
				}
				m.wake(r)
			}
			if err := m.stepRunner(r); err != nil {
				return HostResult{}, fmt.Errorf("host %s: %w", m.host.Name, err)
			}
			progressed = true
			if m.steps.Load() >= int64(m.opts.MaxSteps) {
				return HostResult{}, fmt.Errorf("host %s: %w", m.host.Name, ErrStepLimit)
			}
		}
		if !alive {
			return m.result(), nil
		}
		if progressed {
			continue
		}

		if m.timers.len() == 0 {
			return HostResult{}, fmt.Errorf("host %s at %v: %w", m.host.Name, m.host.Now(), ErrDeadlock)
		}
		next := m.timers.peek().when
		if m.opts.Timeout > 0 && next > m.opts.Timeout {
			return HostResult{}, fmt.Errorf("host %s: %w", m.host.Name, ErrTimeout)
		}
		m.logger.Debug("advancing clock", "from", m.host.Now(), "to", next)
		m.host.AdvanceTo(next)
	}
}

func (m *Machine) wake(r *runner) {
	if r.timer != nil {
		if r.timer.pos != -1 {
			m.timers.remove(r.timer)
		}
		r.timer = nil
	}
	r.thread.Unblock()
}

// stepRunner runs the next syscall of r, or resumes its blocked one.
func (m *Machine) stepRunner(r *runner) error {
	p := r.thread.Process()
	if r.pending == nil {
		args, ok, err := r.program.Next(p, r.prev)
		if err != nil {
			r.err = err
			m.logger.Error("program failed", "pid", p.PID, "err", err)
			m.exit(r, 1)
			return nil
		}
		if !ok {
			m.exit(r, 0)
			return nil
		}
		r.pending = &args
	}

	m.steps.Add(1)
	res, err := m.handler.Syscall(handler.NewSyscallContext(r.thread, r.pending))
	if err != nil {
		return err
	}
	if _, exited := p.Exited(); exited {
		r.done = true
		return nil
	}
	if res.IsBlocked() {
		cond := res.Condition()
		r.thread.Block(cond)
		if deadline, ok := cond.Deadline(); ok {
			r.timer = &timer{when: deadline, thread: r.thread, pos: -1}
			m.timers.add(r.timer)
		}
		return nil
	}
	r.prev = res.Retval()
	r.pending = nil
	r.thread.CallDone()
	return nil
}

func (m *Machine) exit(r *runner, code int) {
	r.done = true
	if err := r.thread.Process().Exit(code); err != nil {
		m.logger.Warn("process exit", "pid", r.thread.Process().PID, "err", err)
	}
}

func (m *Machine) result() HostResult {
	out := HostResult{
		Name:    m.host.Name,
		Steps:   m.steps.Load(),
		Elapsed: m.host.Now(),
	}
	for _, r := range m.runners {
		p := r.thread.Process()
		code, _ := p.Exited()
		out.Processes = append(out.Processes, ProcessResult{
			Host:     m.host.Name,
			PID:      p.PID,
			Name:     p.Name,
			ExitCode: code,
			Err:      r.err,
		})
	}
	return out
}
