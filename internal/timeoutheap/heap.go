// Package timeoutheap implements the min-heap of future deadlines behind
// scheduleTimeoutEvent: absolute nanosecond deadlines, stable int32 ids,
// and lazy discard of cancelled entries.
package timeoutheap

import (
	"container/heap"
	"time"

	"github.com/benbjohnson/clock"
)

// RealClock is the default, wall-clock-backed Clock. Tests inject
// clock.NewMock() instead so deadlines can be advanced deterministically
// rather than by sleeping real milliseconds.
var RealClock clock.Clock = clock.New()

func nowNano(c clock.Clock) int64 { return c.Now().UnixNano() }

type entry struct {
	deadline int64 // absolute ns since epoch
	id       int32
	index    int
}

// entryHeap is a container/heap min-heap ordered by deadline, with id as
// a deterministic tie-break for equal deadlines.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].id < h[j].id
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Heap is the timeout min-heap: live entries plus a side set of cancelled
// ids. Removal is lazy; a dead entry stays in the heap until it surfaces
// at the top and is discarded.
type Heap struct {
	h      entryHeap
	live   map[int32]bool
	nextID int32
	clk    clock.Clock
}

// New constructs an empty Heap using the real wall clock.
func New() *Heap {
	return NewWithClock(RealClock)
}

// NewWithClock constructs an empty Heap using the given clock.Clock (tests
// pass clock.NewMock()).
func NewWithClock(c clock.Clock) *Heap {
	hp := &Heap{live: make(map[int32]bool), clk: c}
	heap.Init(&hp.h)
	return hp
}

// Add schedules a timeout ms from now and returns its id.
func (t *Heap) Add(ms int64) int32 {
	return t.addNanos(ms * 1_000_000)
}

// AddFloat is the sub-millisecond variant: ms may carry a fractional part,
// rounded to whole nanoseconds.
func (t *Heap) AddFloat(ms float64) int32 {
	return t.addNanos(int64(ms * 1_000_000))
}

func (t *Heap) addNanos(deltaNanos int64) int32 {
	id := t.nextID
	t.nextID++
	t.live[id] = true
	heap.Push(&t.h, &entry{deadline: nowNano(t.clk) + deltaNanos, id: id})
	return id
}

// Remove marks id dead; it is discarded lazily the next time it would be
// exposed at the top of the heap.
func (t *Heap) Remove(id int32) {
	delete(t.live, id)
}

// CleanTimeouts discards dead entries sitting at the top of the heap.
// IsEmpty is only accurate immediately after calling this.
func (t *Heap) CleanTimeouts() {
	for t.h.Len() > 0 {
		top := t.h[0]
		if t.live[top.id] {
			return
		}
		heap.Pop(&t.h)
	}
}

// IsEmpty reports whether the heap holds any live entries, after cleaning.
func (t *Heap) IsEmpty() bool {
	t.CleanTimeouts()
	return t.h.Len() == 0
}

func (t *Heap) peek() *entry {
	t.CleanTimeouts()
	if t.h.Len() == 0 {
		return nil
	}
	return t.h[0]
}

func (t *Heap) pop() *entry {
	t.CleanTimeouts()
	if t.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&t.h).(*entry)
}

func (e *entry) nsUntilCalled(now int64) int64 {
	if e.deadline > now {
		return e.deadline - now
	}
	return 0
}

// AnyExpiredTimeouts cleans stale entries, and if the live top has already
// passed its deadline, pops it and reports true.
func (t *Heap) AnyExpiredTimeouts() bool {
	top := t.peek()
	if top == nil {
		return false
	}
	if top.nsUntilCalled(nowNano(t.clk)) != 0 {
		return false
	}
	t.pop()
	return true
}

// DurationWhenExpired returns the time remaining until the live top fires,
// or false if the heap is empty.
func (t *Heap) DurationWhenExpired() (time.Duration, bool) {
	top := t.peek()
	if top == nil {
		return 0, false
	}
	return time.Duration(top.nsUntilCalled(nowNano(t.clk))), true
}

// PopWhenExpired sleeps until the live top's deadline and pops it, or
// reports false if the heap is empty.
func (t *Heap) PopWhenExpired() bool {
	top := t.pop()
	if top == nil {
		return false
	}
	t.clk.Sleep(time.Duration(top.nsUntilCalled(nowNano(t.clk))))
	return true
}
