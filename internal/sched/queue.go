// Package sched is single-threaded cooperative event queue.
// All callbacks run on the goroutine calling RunForever, one at a time,
// ordered by deadline then by submission order.
package sched

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/temoto/alive/v2"
	"github.com/temoto/loranode/internal/types"
	"github.com/temoto/loranode/log2"
)

type entry struct {
	at  time.Time
	seq uint64
	fn  types.Func
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return x
}

type Queue struct {
	alive *alive.Alive
	log   *log2.Log
	mu    sync.Mutex
	h     entryHeap
	seq   uint64
	wake  chan struct{}
	stat  Stat
}

type Stat struct {
	Scheduled  uint64
	Dispatched uint64
}

var _ types.Runner = &Queue{} // compile-time interface test

func NewQueue(log *log2.Log) *Queue {
	return &Queue{
		alive: alive.NewAlive(),
		log:   log,
		wake:  make(chan struct{}, 1),
	}
}

func (q *Queue) CallAfter(delay time.Duration, fn types.Func) {
	if fn == nil {
		panic("code error sched.CallAfter fn=nil")
	}
	if !q.alive.IsRunning() {
		q.log.Debugf("sched: stopped, drop callback delay=%s", delay)
		return
	}
	if delay < 0 {
		delay = 0
	}
	q.mu.Lock()
	q.seq++
	q.stat.Scheduled++
	heap.Push(&q.h, entry{at: time.Now().Add(delay), seq: q.seq, fn: fn})
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) Call(fn types.Func) { q.CallAfter(0, fn) }

// Stop halts dispatch. Called from callback, it takes effect after that callback returns.
// Pending callbacks are dropped.
func (q *Queue) Stop() { q.alive.Stop() }

// Wait returns after Stop and RunForever exit.
func (q *Queue) Wait() { q.alive.Wait() }

func (q *Queue) StopChan() <-chan struct{} { return q.alive.StopChan() }

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

func (q *Queue) Stat() Stat {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stat
}

// RunForever dispatches due callbacks until Stop or ctx done.
// Returns nil after Stop, ctx.Err() after ctx done.
func (q *Queue) RunForever(ctx context.Context) error {
	if !q.alive.Add(1) {
		return types.ErrInterrupted
	}
	defer q.alive.Done()

	stopCh := q.alive.StopChan()
	for q.alive.IsRunning() {
		fn, wait := q.next(time.Now())
		if fn != nil {
			fn()
			continue
		}

		var timerCh <-chan time.Time
		var tmr *time.Timer
		if wait > 0 {
			tmr = time.NewTimer(wait)
			timerCh = tmr.C
		}
		select {
		case <-q.wake:
		case <-timerCh:
		case <-stopCh:
		case <-ctx.Done():
			q.alive.Stop()
			if tmr != nil {
				tmr.Stop()
			}
			return ctx.Err()
		}
		if tmr != nil {
			tmr.Stop()
		}
	}
	q.log.Debugf("sched: dispatch stopped pending=%d", q.Len())
	return nil
}

// next pops due callback or returns time until nearest deadline, 0 if queue is empty.
func (q *Queue) next(now time.Time) (types.Func, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return nil, 0
	}
	if first := q.h[0]; first.at.After(now) {
		return nil, first.at.Sub(now)
	}
	e := heap.Pop(&q.h).(entry)
	q.stat.Dispatched++
	return e.fn, 0
}
