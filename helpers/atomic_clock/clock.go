// Package atomic_clock is atomic int64 nanosecond timestamp.
// Zero value is valid and means "never".
package atomic_clock

import (
	"sync/atomic"
	"time"
)

type Clock struct{ v int64 }

func source() int64 { return time.Now().UnixNano() }

func (c *Clock) get() int64    { return atomic.LoadInt64(&c.v) }
func (c *Clock) set(new int64) { atomic.StoreInt64(&c.v, new) }

func (c *Clock) IsZero() bool { return c.get() == 0 }
func (c *Clock) SetNow()      { c.set(source()) }
func (c *Clock) Reset()       { c.set(0) }

// SetLater moves clock forward to new, earlier values are ignored.
func (c *Clock) SetLater(new int64) {
	for {
		old := c.get()
		if new <= old || atomic.CompareAndSwapInt64(&c.v, old, new) {
			return
		}
	}
}

func (c *Clock) Time() time.Time { return time.Unix(0, c.get()) }
func (c *Clock) UnixNano() int64 { return c.get() }

func New(v int64) *Clock { return &Clock{v: v} }
func Now() *Clock        { return New(source()) }

func Since(begin *Clock) time.Duration { return time.Duration(source() - begin.get()) }
func Source() int64                    { return source() }
