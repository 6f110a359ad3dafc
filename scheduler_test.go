package simrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler() *Scheduler {
	return NewScheduler(NewClock(), NewPrng(1))
}

func TestSchedulerRunEmptyCompletesImmediately(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Run())
}

func TestSchedulerSpawnAndRunExecutesBody(t *testing.T) {
	s := newTestScheduler()
	var ran bool
	_, err := s.Spawn(func(env *Environment) {
		ran = true
	})
	require.NoError(t, err)
	require.NoError(t, s.Run())
	assert.True(t, ran)
}

func TestSchedulerReadyOrderIsAscendingSpawnID(t *testing.T) {
	s := newTestScheduler()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		_, err := s.Spawn(func(env *Environment) {
			order = append(order, i)
		})
		require.NoError(t, err)
	}
	require.NoError(t, s.Run())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSchedulerSpawnAfterTerminatedFails(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Run())
	_, err := s.Spawn(func(env *Environment) {})
	assert.ErrorIs(t, err, ErrLoopTerminated)
}

func TestSchedulerDelaySuspendsAndResumes(t *testing.T) {
	s := newTestScheduler()
	var woke bool
	_, err := s.Spawn(func(env *Environment) {
		require.NoError(t, env.Delay(Duration(100)))
		woke = true
	})
	require.NoError(t, err)
	require.NoError(t, s.Run())
	assert.True(t, woke)
	assert.Equal(t, Instant(100), s.Clock().Now())
}

func TestSchedulerPanicPropagatesFromRun(t *testing.T) {
	s := newTestScheduler()
	_, err := s.Spawn(func(env *Environment) {
		panic("boom")
	})
	require.NoError(t, err)
	assert.PanicsWithValue(t, "boom", func() {
		_ = s.Run()
	})
}

func TestSchedulerBlockOnReturnsTaskResult(t *testing.T) {
	s := newTestScheduler()
	result, err := schedulerBlockOn(s, func(env *Environment) int {
		return 42
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestSchedulerReentrantRunRejected(t *testing.T) {
	s := newTestScheduler()
	var innerErr error
	_, err := s.Spawn(func(env *Environment) {
		innerErr = s.Run()
	})
	require.NoError(t, err)
	require.NoError(t, s.Run())
	assert.ErrorIs(t, innerErr, ErrReentrantRun)
}

func TestSchedulerSpawnFromWithinTask(t *testing.T) {
	s := newTestScheduler()
	var childRan bool
	_, err := s.Spawn(func(env *Environment) {
		_, err := env.Spawn(func(env *Environment) {
			childRan = true
		})
		require.NoError(t, err)
	})
	require.NoError(t, err)
	require.NoError(t, s.Run())
	assert.True(t, childRan)
}
