package syscallabi

import (
	"testing"
	"time"
)

func TestPollersFire(t *testing.T) {
	var ps Pollers

	read := NewCondition(&ps, Readable|Closed)
	write := NewCondition(&ps, Writable)
	if read.Ready(0) || write.Ready(0) {
		t.Fatal("conditions ready before notify")
	}

	ps.Set(Writable, true)
	if read.Ready(0) {
		t.Error("read condition fired on writable")
	}
	if !write.Ready(0) {
		t.Error("write condition did not fire")
	}

	ps.Set(Closed, true)
	if !read.Ready(0) {
		t.Error("read condition did not fire on close")
	}

	// already readable: fires on registration
	late := NewCondition(&ps, Writable)
	if !late.Fired() {
		t.Error("late condition did not fire")
	}
}

func TestPollersRemove(t *testing.T) {
	var ps Pollers
	a := NewCondition(&ps, Readable)
	b := NewCondition(&ps, Readable)
	c := NewCondition(&ps, Readable)

	a.Cancel()
	a.Cancel()
	if ps.Len() != 2 {
		t.Fatalf("got %d conditions, want 2", ps.Len())
	}
	c.Cancel()
	b.Cancel()
	if ps.Len() != 0 {
		t.Fatalf("got %d conditions, want 0", ps.Len())
	}

	ps.Notify(Readable)
	if a.Ready(0) || b.Ready(0) || c.Ready(0) {
		t.Error("canceled condition fired")
	}
}

func TestConditionDeadline(t *testing.T) {
	c := NewTimeout(5 * time.Second)
	if c.Ready(4 * time.Second) {
		t.Error("ready before deadline")
	}
	if !c.Ready(5 * time.Second) {
		t.Error("not ready at deadline")
	}

	var ps Pollers
	d := NewCondition(&ps, Readable).WithDeadline(time.Second)
	if deadline, ok := d.Deadline(); !ok || deadline != time.Second {
		t.Errorf("bad deadline %v %v", deadline, ok)
	}
	if !d.Ready(2 * time.Second) {
		t.Error("not ready after deadline")
	}
	if d.Fired() {
		t.Error("timed out condition reports fired")
	}
}
