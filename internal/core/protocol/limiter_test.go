package protocol

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLimiterMinInterval(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter()
	l.SetClock(clock.Now)

	assert.True(t, l.Allow("p1", KindIncremental, "slot-a"))
	clock.Advance(10 * time.Millisecond)
	assert.False(t, l.Allow("p1", KindIncremental, "slot-a"), "second update inside the interval is dropped")
	assert.True(t, l.Allow("p1", KindIncremental, "slot-b"), "other subjects are independent")
	assert.True(t, l.Allow("p2", KindIncremental, "slot-a"), "other peers are independent")
	assert.True(t, l.Allow("p1", KindComponentUpdate, "slot-a"), "other kinds are independent")

	clock.Advance(60 * time.Millisecond)
	assert.True(t, l.Allow("p1", KindIncremental, "slot-a"))
}

func TestLimiterZeroIntervalAlwaysAllows(t *testing.T) {
	l := NewLimiter()
	for range 100 {
		assert.True(t, l.Allow("p1", KindAck, ""))
	}
	assert.Zero(t, l.Len())
	assert.False(t, l.Allow("p1", Kind(42), ""))
}

func TestLimiterForget(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter()
	l.SetClock(clock.Now)

	assert.True(t, l.Allow("p1", KindFullSnapshot, ""))
	assert.True(t, l.Allow("p2", KindFullSnapshot, ""))
	assert.False(t, l.Allow("p1", KindFullSnapshot, ""))

	l.Forget("p1")
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Allow("p1", KindFullSnapshot, ""))
}
