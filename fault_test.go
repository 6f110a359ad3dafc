package simrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyFaultDelaysDelivery(t *testing.T) {
	clock := NewClock()
	prng := NewPrng(11)
	sched := NewScheduler(clock, prng.Fork())
	fabric := NewFabric(clock, prng.Fork(), defaultSocketBufferSize, defaultEphemeralPortLow, defaultEphemeralPortHigh, 0, 0)
	sched.SetEnvFactory(
		func(t *Task, p *Prng) *Environment {
			return &Environment{scheduler: sched, task: t, prng: p, ip: "127.0.0.1", fabric: fabric}
		},
		func(ip string, t *Task, p *Prng) *Environment {
			return &Environment{scheduler: sched, task: t, prng: p, ip: ip, fabric: fabric}
		},
	)
	fabric.addFaultDecorator(newLatencyFaultDecorator(clock, prng, FaultPolicy{LatencyLambda: 1.0}, nil))

	ln, err := fabric.Bind(Addr{IP: "127.0.0.1", Port: 77})
	require.NoError(t, err)

	var readDone bool
	_, err = sched.Spawn(func(env *Environment) {
		sock, _, err := ln.Accept(env)
		require.NoError(t, err)
		buf := make([]byte, 3)
		_, err = sock.Read(env, buf)
		require.NoError(t, err)
		readDone = true
	})
	require.NoError(t, err)

	_, err = sched.Spawn(func(env *Environment) {
		sock, err := env.Connect(Addr{IP: "127.0.0.1", Port: 77})
		require.NoError(t, err)
		_, err = sock.Write(env, []byte("abc"))
		require.NoError(t, err)
	})
	require.NoError(t, err)

	require.NoError(t, sched.Run())
	assert.True(t, readDone)
	// A nonzero latency lambda means at least one read/write paid a
	// sampled delay, so virtual time must have advanced past zero.
	assert.Greater(t, int64(clock.Now()), int64(0))
}

func TestFaultPolicyDropReturnsConnectionReset(t *testing.T) {
	clock := NewClock()
	prng := NewPrng(11)
	sched := NewScheduler(clock, prng.Fork())
	fabric := NewFabric(clock, prng.Fork(), defaultSocketBufferSize, defaultEphemeralPortLow, defaultEphemeralPortHigh, 0, 0)
	sched.SetEnvFactory(
		func(t *Task, p *Prng) *Environment {
			return &Environment{scheduler: sched, task: t, prng: p, ip: "127.0.0.1", fabric: fabric}
		},
		func(ip string, t *Task, p *Prng) *Environment {
			return &Environment{scheduler: sched, task: t, prng: p, ip: ip, fabric: fabric}
		},
	)
	fabric.addFaultDecorator(newLatencyFaultDecorator(clock, prng, FaultPolicy{DropProbability: 1.0}, nil))

	ln, err := fabric.Bind(Addr{IP: "127.0.0.1", Port: 78})
	require.NoError(t, err)

	var writeErr error
	_, err = sched.Spawn(func(env *Environment) {
		_, _, err := ln.Accept(env)
		require.NoError(t, err)
	})
	require.NoError(t, err)

	_, err = sched.Spawn(func(env *Environment) {
		sock, err := env.Connect(Addr{IP: "127.0.0.1", Port: 78})
		require.NoError(t, err)
		_, writeErr = sock.Write(env, []byte("abc"))
	})
	require.NoError(t, err)

	require.NoError(t, sched.Run())
	assert.ErrorIs(t, writeErr, ErrConnectionReset)
}
