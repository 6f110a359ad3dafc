package simrt

import (
	"container/heap"
	"math"
)

// Instant is a monotonic virtual timestamp, measured in nanoseconds from an
// arbitrary epoch fixed at Clock construction (spec.md §3). Only the Clock
// advances it; everything else only reads it.
type Instant int64

// Add returns i advanced by d, saturating at the maximum representable
// Instant rather than overflowing.
func (i Instant) Add(d Duration) Instant {
	if d > 0 && i > math.MaxInt64-Instant(d) {
		return math.MaxInt64
	}
	return i + Instant(d)
}

// Sub returns the Duration between two instants.
func (i Instant) Sub(other Instant) Duration {
	return Duration(i - other)
}

// Duration is a span of virtual time, in nanoseconds.
type Duration int64

// ParkResult reports what Clock.Park did.
type ParkResult uint8

const (
	// ParkIdle means no timer fired: either the clock had nothing pending
	// and no max was given, or the clock advanced by the caller's max
	// without reaching any pending deadline.
	ParkIdle ParkResult = iota
	// ParkFired means the clock advanced to the earliest pending deadline
	// and fired one or more timers.
	ParkFired
)

// Waker is an opaque, one-shot capability: firing it moves whatever it was
// registered for (typically a blocked task) back to runnable. Per the
// cyclic-ownership design note (spec.md §9), the Clock holds these by value
// and never holds a reference back to the task or scheduler that created
// them.
type Waker func()

// Timer is the handle returned by Clock.Register. Cancel removes the entry
// from the clock's pending set; it is a no-op if the timer already fired.
type Timer struct {
	clock *Clock
	entry *timerEntry
}

// Cancel removes the timer's registration, if it has not already fired.
func (t *Timer) Cancel() {
	if t == nil || t.entry == nil || t.entry.index < 0 {
		return
	}
	t.clock.cancel(t.entry)
}

// timerEntry is one pending deadline. Ordered by (deadline, id); id is a
// monotone insertion counter that breaks ties deterministically (spec.md
// §3).
type timerEntry struct {
	deadline Instant
	id       uint64
	wake     Waker
	index    int // position in the heap; -1 once removed
}

// timerHeap is a min-heap of *timerEntry ordered by (deadline, id), grounded
// on the teacher's loop.go timerHeap (container/heap over a concrete slice
// type), generalized to carry an index for O(log n) cancellation.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].id < h[j].id
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Clock is the virtual clock (spec.md §4.2, C2): monotonic simulated time,
// a timer wheel of pending deadlines, and a Park primitive that advances
// time to the nearest deadline when the scheduler has nothing ready to run.
//
// Clock is not safe for concurrent use; the scheduler that owns it drives
// register/cancel/park from a single goroutine (spec.md §5).
type Clock struct {
	now     Instant
	pending timerHeap
	nextID  uint64

	// onFire, if set, is invoked once per timer firing inside Park — the
	// hook Runtime uses to feed RuntimeMetrics.TimerFires.
	onFire func()
}

// NewClock constructs a Clock with now starting at zero.
func NewClock() *Clock {
	return &Clock{}
}

// SetFireHook installs a callback invoked once per timer fired by Park.
func (c *Clock) SetFireHook(hook func()) {
	c.onFire = hook
}

// Now returns the current virtual instant.
func (c *Clock) Now() Instant {
	return c.now
}

// Register schedules wake to fire once c.Now() reaches deadline. If deadline
// has already passed, the timer is fired immediately (spec.md §4.2) rather
// than deferred to the next Park. The returned Timer's Cancel removes the
// registration if it has not fired yet.
func (c *Clock) Register(deadline Instant, wake Waker) *Timer {
	if deadline <= c.now {
		wake()
		return &Timer{clock: c, entry: &timerEntry{index: -1}}
	}
	c.nextID++
	e := &timerEntry{deadline: deadline, id: c.nextID, wake: wake}
	heap.Push(&c.pending, e)
	return &Timer{clock: c, entry: e}
}

func (c *Clock) cancel(e *timerEntry) {
	if e.index < 0 || e.index >= len(c.pending) || c.pending[e.index] != e {
		return
	}
	heap.Remove(&c.pending, e.index)
}

// Pending reports whether any timer is registered.
func (c *Clock) Pending() bool {
	return len(c.pending) > 0
}

// Park advances virtual time per spec.md §4.2:
//
//   - if nothing is pending and max is nil, time does not advance (ParkIdle).
//   - if nothing is pending and max is non-nil, time advances by *max
//     (ParkIdle) — there is nothing to fire at the new instant.
//   - if something is pending, time advances to the earliest deadline and
//     every timer with deadline <= now fires, in ascending (deadline, id)
//     order, unless that would exceed a given max, in which case time
//     advances only by max and nothing fires.
//
// Wakers fire before Park returns, so the scheduler sees every newly-ready
// task in its next turn (spec.md §4.2 "Ordering rules").
func (c *Clock) Park(max *Duration) ParkResult {
	if len(c.pending) == 0 {
		if max == nil {
			return ParkIdle
		}
		c.now = c.now.Add(*max)
		return ParkIdle
	}

	earliest := c.pending[0].deadline
	if max != nil {
		capped := c.now.Add(*max)
		if capped < earliest {
			c.now = capped
			return ParkIdle
		}
	}

	c.now = earliest
	for len(c.pending) > 0 && c.pending[0].deadline <= c.now {
		e := heap.Pop(&c.pending).(*timerEntry)
		e.wake()
		if c.onFire != nil {
			c.onFire()
		}
	}
	return ParkFired
}

// Unpark is a no-op in this single-threaded scheduler; it exists only for
// interface compatibility with a pluggable reactor park strategy (spec.md
// §9 "Reactor as park strategy").
func (c *Clock) Unpark() {}
