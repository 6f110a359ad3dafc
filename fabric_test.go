package simrt

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFabric() (*Scheduler, *Fabric) {
	clock := NewClock()
	prng := NewPrng(3)
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
	return sched, fabric
}

func TestFabricBindAssignsRequestedPort(t *testing.T) {
	_, fabric := newTestFabric()
	l, err := fabric.Bind(Addr{IP: "127.0.0.1", Port: 8080})
	require.NoError(t, err)
	assert.Equal(t, uint16(8080), l.LocalAddr().Port)
}

func TestFabricBindDuplicateFails(t *testing.T) {
	_, fabric := newTestFabric()
	_, err := fabric.Bind(Addr{IP: "127.0.0.1", Port: 8080})
	require.NoError(t, err)
	_, err = fabric.Bind(Addr{IP: "127.0.0.1", Port: 8080})
	assert.ErrorIs(t, err, ErrAddressInUse)
}

func TestFabricBindEphemeralWhenPortZero(t *testing.T) {
	_, fabric := newTestFabric()
	l, err := fabric.Bind(Addr{IP: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, l.LocalAddr().Port, uint16(defaultEphemeralPortLow))
}

func TestFabricConnectRefusedWithoutListener(t *testing.T) {
	_, fabric := newTestFabric()
	_, err := fabric.Connect("127.0.0.1", Addr{IP: "127.0.0.1", Port: 9999})
	assert.ErrorIs(t, err, ErrConnectionRefused)
}

func TestFabricConnectRefusedAfterListenerClosed(t *testing.T) {
	_, fabric := newTestFabric()
	l, err := fabric.Bind(Addr{IP: "127.0.0.1", Port: 8080})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = fabric.Connect("127.0.0.1", Addr{IP: "127.0.0.1", Port: 8080})
	assert.ErrorIs(t, err, ErrConnectionRefused)
}

func TestBindConnectAcceptEcho(t *testing.T) {
	sched, fabric := newTestFabric()

	serverDone := make(chan struct{})
	_, err := sched.Spawn(func(env *Environment) {
		ln, err := fabric.Bind(Addr{IP: "127.0.0.1", Port: 8080})
		require.NoError(t, err)

		sock, _, err := ln.Accept(env)
		require.NoError(t, err)

		buf := make([]byte, 5)
		n, err := sock.Read(env, buf)
		require.NoError(t, err)
		_, err = sock.Write(env, buf[:n])
		require.NoError(t, err)
		close(serverDone)
	})
	require.NoError(t, err)

	_, err = sched.Spawn(func(env *Environment) {
		// Let the server bind first; in this scheduler, tasks run in spawn
		// order within a turn, so the server's Bind already happened by the
		// time this task is dispatched.
		sock, err := fabric.Connect("127.0.0.1", Addr{IP: "127.0.0.1", Port: 8080})
		require.NoError(t, err)

		_, err = sock.Write(env, []byte("hello"))
		require.NoError(t, err)

		buf := make([]byte, 5)
		n, err := sock.Read(env, buf)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(buf[:n]))
	})
	require.NoError(t, err)

	require.NoError(t, sched.Run())
	select {
	case <-serverDone:
	default:
		t.Fatal("server task did not complete")
	}
}

func TestSocketReadBlocksThenWakesOnWrite(t *testing.T) {
	sched, fabric := newTestFabric()

	ln, err := fabric.Bind(Addr{IP: "127.0.0.1", Port: 1234})
	require.NoError(t, err)

	var readResult string
	_, err = sched.Spawn(func(env *Environment) {
		sock, _, err := ln.Accept(env)
		require.NoError(t, err)
		buf := make([]byte, 3)
		n, err := sock.Read(env, buf)
		require.NoError(t, err)
		readResult = string(buf[:n])
	})
	require.NoError(t, err)

	_, err = sched.Spawn(func(env *Environment) {
		sock, err := env.Connect(Addr{IP: "127.0.0.1", Port: 1234})
		require.NoError(t, err)
		require.NoError(t, env.Delay(Duration(10)))
		_, err = sock.Write(env, []byte("abc"))
		require.NoError(t, err)
	})
	require.NoError(t, err)

	require.NoError(t, sched.Run())
	assert.Equal(t, "abc", readResult)
}

func TestSocketReadReturnsEOFAfterShutdownWrite(t *testing.T) {
	sched, fabric := newTestFabric()

	ln, err := fabric.Bind(Addr{IP: "127.0.0.1", Port: 4321})
	require.NoError(t, err)

	var readErr error
	_, err = sched.Spawn(func(env *Environment) {
		sock, _, err := ln.Accept(env)
		require.NoError(t, err)
		buf := make([]byte, 3)
		_, readErr = sock.Read(env, buf)
	})
	require.NoError(t, err)

	_, err = sched.Spawn(func(env *Environment) {
		sock, err := env.Connect(Addr{IP: "127.0.0.1", Port: 4321})
		require.NoError(t, err)
		require.NoError(t, sock.Shutdown(ShutdownWrite))
	})
	require.NoError(t, err)

	require.NoError(t, sched.Run())
	assert.ErrorIs(t, readErr, io.EOF)
}

func TestListenerAcceptFailsAfterClose(t *testing.T) {
	sched, fabric := newTestFabric()
	ln, err := fabric.Bind(Addr{IP: "127.0.0.1", Port: 555})
	require.NoError(t, err)

	var acceptErr error
	_, err = sched.Spawn(func(env *Environment) {
		_, _, acceptErr = ln.Accept(env)
	})
	require.NoError(t, err)

	_, err = sched.Spawn(func(env *Environment) {
		require.NoError(t, ln.Close())
	})
	require.NoError(t, err)

	require.NoError(t, sched.Run())
	assert.ErrorIs(t, acceptErr, ErrNotConnected)
}

func TestListenerIntoStreamYieldsConnectsInOrderThenStopsOnClose(t *testing.T) {
	sched, fabric := newTestFabric()
	ln, err := fabric.Bind(Addr{IP: "127.0.0.1", Port: 777})
	require.NoError(t, err)

	var peers []uint16
	_, err = sched.Spawn(func(env *Environment) {
		for sock, addr := range ln.IntoStream(env) {
			peers = append(peers, addr.Port)
			_ = sock
		}
	})
	require.NoError(t, err)

	_, err = sched.Spawn(func(env *Environment) {
		_, err := fabric.Connect("127.0.0.1", Addr{IP: "127.0.0.1", Port: 777})
		require.NoError(t, err)
		_, err = fabric.Connect("127.0.0.1", Addr{IP: "127.0.0.1", Port: 777})
		require.NoError(t, err)
		require.NoError(t, ln.Close())
	})
	require.NoError(t, err)

	require.NoError(t, sched.Run())
	require.Len(t, peers, 2)
	// Each Connect takes the next ephemeral port, so connect order shows as
	// ascending peer ports.
	assert.Less(t, peers[0], peers[1])
}

func TestSocketFlushIsNoOpWhileOpenAndFailsAfterClose(t *testing.T) {
	sched, fabric := newTestFabric()
	ln, err := fabric.Bind(Addr{IP: "127.0.0.1", Port: 888})
	require.NoError(t, err)

	_, err = sched.Spawn(func(env *Environment) {
		_, _, err := ln.Accept(env)
		require.NoError(t, err)
	})
	require.NoError(t, err)

	var flushErr, flushAfterCloseErr error
	_, err = sched.Spawn(func(env *Environment) {
		sock, err := fabric.Connect("127.0.0.1", Addr{IP: "127.0.0.1", Port: 888})
		require.NoError(t, err)
		flushErr = sock.Flush()
		require.NoError(t, sock.Close())
		flushAfterCloseErr = sock.Flush()
	})
	require.NoError(t, err)

	require.NoError(t, sched.Run())
	assert.NoError(t, flushErr)
	assert.ErrorIs(t, flushAfterCloseErr, ErrNotConnected)
}

func TestParseAddrRoundTripsWithString(t *testing.T) {
	addr, err := ParseAddr("host-a:8080")
	require.NoError(t, err)
	assert.Equal(t, Addr{IP: "host-a", Port: 8080}, addr)
	assert.Equal(t, "host-a:8080", addr.String())
}

func TestParseAddrMissingPortReturnsErrInvalidInput(t *testing.T) {
	_, err := ParseAddr("host-a")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestScopedHandleUsesFixedIP(t *testing.T) {
	_, fabric := newTestFabric()
	h := NewScopedHandle(fabric, nil, "10.0.0.1")
	ln, err := h.Bind(80)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ln.LocalAddr().IP)
}
