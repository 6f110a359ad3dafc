package simrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockNowStartsAtZero(t *testing.T) {
	c := NewClock()
	assert.Equal(t, Instant(0), c.Now())
}

func TestClockParkIdleWithNothingPendingNoMax(t *testing.T) {
	c := NewClock()
	result := c.Park(nil)
	assert.Equal(t, ParkIdle, result)
	assert.Equal(t, Instant(0), c.Now())
}

func TestClockParkAdvancesByMaxWhenIdle(t *testing.T) {
	c := NewClock()
	max := Duration(100)
	result := c.Park(&max)
	assert.Equal(t, ParkIdle, result)
	assert.Equal(t, Instant(100), c.Now())
}

func TestClockRegisterFiresImmediatelyWhenPast(t *testing.T) {
	c := NewClock()
	var fired bool
	c.Register(Instant(-1), func() { fired = true })
	assert.True(t, fired)
	assert.False(t, c.Pending())
}

func TestClockParkAdvancesToEarliestDeadlineAndFires(t *testing.T) {
	c := NewClock()
	var order []int
	c.Register(Instant(100), func() { order = append(order, 1) })
	c.Register(Instant(50), func() { order = append(order, 2) })
	c.Register(Instant(50), func() { order = append(order, 3) })

	result := c.Park(nil)
	require.Equal(t, ParkFired, result)
	assert.Equal(t, Instant(50), c.Now())
	assert.Equal(t, []int{2, 3}, order)
	assert.True(t, c.Pending())

	result = c.Park(nil)
	require.Equal(t, ParkFired, result)
	assert.Equal(t, Instant(100), c.Now())
	assert.Equal(t, []int{2, 3, 1}, order)
	assert.False(t, c.Pending())
}

func TestClockParkCappedByMaxBeforeEarliestDeadline(t *testing.T) {
	c := NewClock()
	var fired bool
	c.Register(Instant(1000), func() { fired = true })

	max := Duration(10)
	result := c.Park(&max)
	assert.Equal(t, ParkIdle, result)
	assert.Equal(t, Instant(10), c.Now())
	assert.False(t, fired)
}

func TestTimerCancelRemovesPending(t *testing.T) {
	c := NewClock()
	var fired bool
	timer := c.Register(Instant(100), func() { fired = true })
	timer.Cancel()

	assert.False(t, c.Pending())
	max := Duration(1000)
	c.Park(&max)
	assert.False(t, fired)
}

func TestTimerCancelAfterFireIsNoop(t *testing.T) {
	c := NewClock()
	timer := c.Register(Instant(-1), func() {})
	assert.NotPanics(t, func() { timer.Cancel() })
}

func TestInstantAddSaturates(t *testing.T) {
	i := Instant(1 << 62)
	result := i.Add(Duration(1 << 62))
	assert.Equal(t, Instant(1<<63-1), result) // math.MaxInt64
}

func TestClockFireHookInvokedPerFire(t *testing.T) {
	c := NewClock()
	var count int
	c.SetFireHook(func() { count++ })
	c.Register(Instant(10), func() {})
	c.Register(Instant(10), func() {})
	c.Park(nil)
	assert.Equal(t, 2, count)
}
