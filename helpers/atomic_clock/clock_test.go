package atomic_clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow(t *testing.T) {
	t.Parallel()

	c := Now()
	tim := time.Now()
	const delta = 100 * time.Millisecond
	assert.InDelta(t, tim.UnixNano(), c.UnixNano(), float64(delta))

	c2 := New(tim.UnixNano())
	assert.Equal(t, tim.UnixNano(), c2.UnixNano())
	assert.True(t, c2.Time().Equal(tim))

	c.SetNow()
	assert.True(t, Since(c) < delta)
}

func TestSetLater(t *testing.T) {
	t.Parallel()

	c := New(100)
	c.SetLater(50)
	assert.Equal(t, int64(100), c.UnixNano())
	c.SetLater(150)
	assert.Equal(t, int64(150), c.UnixNano())

	c.Reset()
	assert.True(t, c.IsZero())
	var zero Clock
	assert.True(t, zero.IsZero())
	begin := New(Source() - int64(time.Hour))
	assert.True(t, Since(begin) >= time.Hour)
}
