package simulation

import (
	"container/heap"
	"time"

	"github.com/kmrgirish/hostsim/internal/simulation/host"
)

// A timer wakes a blocked thread when the simulated clock reaches when.
// Timers with equal deadlines fire in the order they were added.
type timer struct {
	when   time.Duration
	seq    uint64
	thread *host.Thread
	pos    int
}

// timers implements heap.Interface
type timers []*timer

func (h timers) Len() int { return len(h) }

func (h timers) Less(i, j int) bool {
	if h[i].when != h[j].when {
		return h[i].when < h[j].when
	}
	return h[i].seq < h[j].seq
}

func (h timers) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *timers) Push(x any) {
	t := x.(*timer)
	if t.pos != -1 {
		panic(t.pos)
	}
	t.pos = len(*h)
	*h = append(*h, t)
}

func (h *timers) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	x.pos = -1
	return x
}

type timerHeap struct {
	timers  timers
	nextSeq uint64
}

func newTimerHeap() *timerHeap {
	return &timerHeap{}
}

func (h *timerHeap) add(t *timer) {
	t.seq = h.nextSeq
	h.nextSeq++
	heap.Push(&h.timers, t)
}

func (h *timerHeap) adjust(t *timer, when time.Duration) {
	if t.pos == -1 || h.timers[t.pos] != t {
		panic(t)
	}
	t.when = when
	heap.Fix(&h.timers, t.pos)
}

func (h *timerHeap) remove(t *timer) {
	if t.pos == -1 || h.timers[t.pos] != t {
		panic(t)
	}
	heap.Remove(&h.timers, t.pos)
}

func (h *timerHeap) len() int {
	return len(h.timers)
}

func (h *timerHeap) pop() *timer {
	return heap.Pop(&h.timers).(*timer)
}

func (h *timerHeap) peek() *timer {
	return h.timers[0]
}

// removeProcess drops the timers of every thread of p.
func (h *timerHeap) removeProcess(p *host.Process) {
	i, j := 0, 0
	changed := false
	for i < len(h.timers) {
		if h.timers[i].thread.Process() == p {
			h.timers[i].pos = -1
			changed = true
			i++
			continue
		}
		if changed {
			h.timers[j] = h.timers[i]
			h.timers[j].pos = j
		}
		i++
		j++
	}
	for k := j; k < len(h.timers); k++ {
		h.timers[k] = nil
	}
	h.timers = h.timers[:j]
	heap.Init(&h.timers)
}
