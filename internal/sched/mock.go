package sched

import (
	"sort"
	"sync"
	"time"

	"github.com/temoto/loranode/internal/types"
)

// Mock is a virtual time Scheduler for tests.
// Nothing runs until test calls Fire* or Advance.
type Mock struct {
	mu      sync.Mutex
	now     time.Duration
	seq     uint64
	pending []Pending
	stopped bool
	// total CallAfter+Call invocations, including dropped after Stop
	Calls int
}

type Pending struct {
	At    time.Duration
	Delay time.Duration
	Seq   uint64
	Fn    types.Func
}

var _ types.Scheduler = &Mock{} // compile-time interface test

func NewMock() *Mock { return &Mock{} }

func (m *Mock) CallAfter(delay time.Duration, fn types.Func) {
	if fn == nil {
		panic("code error sched.Mock.CallAfter fn=nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.stopped {
		return
	}
	m.seq++
	m.pending = append(m.pending, Pending{At: m.now + delay, Delay: delay, Seq: m.seq, Fn: fn})
	sort.SliceStable(m.pending, func(i, j int) bool {
		a, b := m.pending[i], m.pending[j]
		if a.At == b.At {
			return a.Seq < b.Seq
		}
		return a.At < b.At
	})
}

func (m *Mock) Call(fn types.Func) { m.CallAfter(0, fn) }

func (m *Mock) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *Mock) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

func (m *Mock) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns copy of queued callbacks in dispatch order.
func (m *Mock) Pending() []Pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps := make([]Pending, len(m.pending))
	copy(ps, m.pending)
	return ps
}

func (m *Mock) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Delays returns Delay of queued callbacks in dispatch order.
func (m *Mock) Delays() []time.Duration {
	ps := m.Pending()
	ds := make([]time.Duration, len(ps))
	for i, p := range ps {
		ds[i] = p.Delay
	}
	return ds
}

// FireNext advances virtual time to nearest callback and runs it.
// Returns false if queue is empty or stopped.
func (m *Mock) FireNext() bool {
	m.mu.Lock()
	if m.stopped || len(m.pending) == 0 {
		m.mu.Unlock()
		return false
	}
	p := m.pending[0]
	m.pending = m.pending[1:]
	if p.At > m.now {
		m.now = p.At
	}
	m.mu.Unlock()

	p.Fn()
	return true
}

// FireDue runs callbacks due at current virtual time, including ones they schedule with zero delay.
// Returns number of callbacks run.
func (m *Mock) FireDue() int {
	n := 0
	for {
		m.mu.Lock()
		due := !m.stopped && len(m.pending) != 0 && m.pending[0].At <= m.now
		m.mu.Unlock()
		if !due {
			return n
		}
		m.FireNext()
		n++
	}
}

// Advance moves virtual time forward by d, running everything due on the way.
func (m *Mock) Advance(d time.Duration) int {
	m.mu.Lock()
	end := m.now + d
	m.mu.Unlock()
	n := 0
	for {
		m.mu.Lock()
		due := !m.stopped && len(m.pending) != 0 && m.pending[0].At <= end
		m.mu.Unlock()
		if !due {
			break
		}
		m.FireNext()
		n++
	}
	m.mu.Lock()
	if m.now < end {
		m.now = end
	}
	m.mu.Unlock()
	return n
}
