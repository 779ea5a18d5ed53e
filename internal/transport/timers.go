package transport

import (
	"container/heap"
	"time"

	"github.com/oxenmesh/oxen/internal/engine"
)

// timerEntry is one armed timer, ordered by fire time. Grounded on the
// time-then-sequence min-heap in
// client/doublezerod/internal/liveness/scheduler.go's eventHeap.
type timerEntry struct {
	at  time.Time
	id  engine.Timer
	seq uint64
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h timerHeap) Swap(i, j int)     { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)       { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// timerWheel tracks armed timers and supports canceling by id. It is not
// safe for concurrent use; callers (the transport run loop) own it
// exclusively.
type timerWheel struct {
	h        timerHeap
	canceled map[engine.Timer]bool
	seq      uint64
}

func newTimerWheel() *timerWheel {
	return &timerWheel{canceled: make(map[engine.Timer]bool)}
}

func (w *timerWheel) arm(id engine.Timer, at time.Time) {
	w.seq++
	heap.Push(&w.h, &timerEntry{at: at, id: id, seq: w.seq})
}

func (w *timerWheel) cancel(id engine.Timer) {
	w.canceled[id] = true
}

// nextDue pops and returns the next non-canceled timer due at or before
// now, if any.
func (w *timerWheel) nextDue(now time.Time) (engine.Timer, bool) {
	for len(w.h) > 0 {
		top := w.h[0]
		if top.at.After(now) {
			return 0, false
		}
		heap.Pop(&w.h)
		if w.canceled[top.id] {
			delete(w.canceled, top.id)
			continue
		}
		return top.id, true
	}
	return 0, false
}

// until returns the duration until the earliest armed timer, or def if
// none is armed.
func (w *timerWheel) until(now time.Time, def time.Duration) time.Duration {
	for len(w.h) > 0 {
		top := w.h[0]
		if w.canceled[top.id] {
			heap.Pop(&w.h)
			delete(w.canceled, top.id)
			continue
		}
		if d := top.at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return def
}
