package syscallabi

import "time"

// Readiness is the set of events a file can report.
type Readiness uint8

const (
	Readable Readiness = 1 << iota
	Writable
	Closed
)

func (r Readiness) String() string {
	if r == 0 {
		return "none"
	}
	var s string
	for _, f := range []struct {
		bit  Readiness
		name string
	}{{Readable, "readable"}, {Writable, "writable"}, {Closed, "closed"}} {
		if r&f.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += f.name
		}
	}
	return s
}

// A Condition is what a blocked thread waits on: a readiness change on some
// file, a deadline on the simulated clock, or both.
//
// Conditions are owned by the thread that blocked. The driver cancels them
// before the call is dispatched again, so handlers always register a fresh
// condition when they block a second time.
type Condition struct {
	pollers         *Pollers
	want            Readiness
	registeredIndex int

	deadline    time.Duration
	hasDeadline bool

	fired    bool
	canceled bool
}

// NewCondition returns a condition that fires once ps reports any of want.
// If ps is already in that state the condition starts out fired.
func NewCondition(ps *Pollers, want Readiness) *Condition {
	c := &Condition{
		want:            want,
		registeredIndex: -1,
	}
	ps.Add(c)
	return c
}

// NewTimeout returns a condition that is ready at the absolute simulated time
// deadline.
func NewTimeout(deadline time.Duration) *Condition {
	return &Condition{
		registeredIndex: -1,
		deadline:        deadline,
		hasDeadline:     true,
	}
}

// WithDeadline adds a deadline to c.
func (c *Condition) WithDeadline(deadline time.Duration) *Condition {
	c.deadline = deadline
	c.hasDeadline = true
	return c
}

func (c *Condition) Deadline() (time.Duration, bool) {
	return c.deadline, c.hasDeadline
}

func (c *Condition) Fired() bool {
	return c.fired
}

// Ready reports whether a thread waiting on c can run at time now.
func (c *Condition) Ready(now time.Duration) bool {
	if c.canceled {
		return false
	}
	return c.fired || (c.hasDeadline && now >= c.deadline)
}

// Cancel unregisters c. It is safe to call more than once.
func (c *Condition) Cancel() {
	if c.canceled {
		return
	}
	c.canceled = true
	if c.pollers != nil {
		c.pollers.Remove(c)
	}
}

// Pollers tracks the readiness of a file and the conditions waiting on it.
type Pollers struct {
	state Readiness
	conds []*Condition
}

func (ps *Pollers) State() Readiness {
	return ps.state
}

func (ps *Pollers) Len() int {
	return len(ps.conds)
}

func (ps *Pollers) Add(c *Condition) {
	if c.registeredIndex != -1 {
		Fatalf("condition already registered")
	}
	c.pollers = ps
	c.registeredIndex = len(ps.conds)
	ps.conds = append(ps.conds, c)
	if ps.state&c.want != 0 {
		c.fired = true
	}
}

func (ps *Pollers) Remove(c *Condition) {
	if c.registeredIndex < 0 || ps.conds[c.registeredIndex] != c {
		Fatalf("condition not registered")
	}
	last := len(ps.conds) - 1
	if last != c.registeredIndex {
		ps.conds[c.registeredIndex] = ps.conds[last]
		ps.conds[c.registeredIndex].registeredIndex = c.registeredIndex
	}
	ps.conds[last] = nil
	ps.conds = ps.conds[:last]
	c.registeredIndex = -1
	c.pollers = nil
}

// Notify replaces the readiness state and fires every waiting condition
// interested in one of the new events.
func (ps *Pollers) Notify(state Readiness) {
	ps.state = state
	for _, c := range ps.conds {
		if state&c.want != 0 {
			c.fired = true
		}
	}
}

// Set turns bits on or off and notifies waiters when anything changed.
func (ps *Pollers) Set(bits Readiness, on bool) {
	state := ps.state &^ bits
	if on {
		state |= bits
	}
	if state != ps.state {
		ps.Notify(state)
	}
}
