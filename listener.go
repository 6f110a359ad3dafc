package simrt

import (
	"iter"
	"strconv"
	"strings"
)

// Addr is a simulated (ip, port) endpoint address (spec.md §3). IP is an
// opaque string identifier — simulations never resolve real DNS or bind
// real interfaces, so any label a test chooses (e.g. "127.0.0.1" or
// "host-a") is a valid IP.
type Addr struct {
	IP   string
	Port uint16
}

func (a Addr) String() string {
	return a.IP + ":" + strconv.FormatUint(uint64(a.Port), 10)
}

// ParseAddr parses "ip:port" into an Addr, the inverse of Addr.String.
// Unlike the original implementation's hyper Destination helper — which
// panics via Destination.port().expect() when a URI carries no port
// (original_source/.../tonic.rs) — this does not guess: a missing or
// unparseable port returns ErrInvalidInput (spec.md §9's Open Question).
func ParseAddr(s string) (Addr, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return Addr{}, WrapError("simrt: parsing address "+strconv.Quote(s), ErrInvalidInput)
	}
	ip, portStr := s[:i], s[i+1:]
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || ip == "" {
		return Addr{}, WrapError("simrt: parsing address "+strconv.Quote(s), ErrInvalidInput)
	}
	return Addr{IP: ip, Port: uint16(port)}, nil
}

// listenerState is the two-state machine named in spec.md §4.4
// (Unbound/Bound), collapsed per the Design Notes §9 simplification: this
// package eagerly binds (both "ends" exist from construction), since a Go
// channel-free internal queue can hold pre-accept connects without needing
// the Rust original's separate unbound mpsc pair. The observable contract —
// connects made before the first Accept call are buffered and delivered in
// order — is preserved via pending.
type listenerState uint8

const (
	listenerBound listenerState = iota
	listenerClosed
)

// Listener is the inbound side of a bound endpoint (spec.md §4.4). Accept
// yields sockets in the order their Connect calls completed; closing a
// Listener causes any blocked Accept, and any later Accept once the
// connects queued before Close have been taken, to fail with
// ErrNotConnected, matching the original implementation's
// io::ErrorKind::NotConnected (original_source/.../listen.rs).
type Listener struct {
	addr  Addr
	fab   *Fabric
	state listenerState

	pending *chunkedQueue[*socketHalf]
	waiters *chunkedQueue[func(*socketHalf)]
}

func newListener(fab *Fabric, addr Addr) *Listener {
	return &Listener{
		addr:    addr,
		fab:     fab,
		pending: newChunkedQueue[*socketHalf](),
		waiters: newChunkedQueue[func(*socketHalf)](),
	}
}

// LocalAddr returns the address this listener is bound to.
func (l *Listener) LocalAddr() Addr { return l.addr }

// push delivers an inbound socket half to the listener: directly to a
// blocked Accept if one is waiting, FIFO, else onto the pending queue.
func (l *Listener) push(sock *socketHalf) bool {
	if l.state == listenerClosed {
		return false
	}
	if w, ok := l.waiters.Pop(); ok {
		w(sock)
		return true
	}
	l.pending.Push(sock)
	return true
}

// Accept blocks until a connect arrives or the listener is closed (spec.md
// §6). Connects that arrived before this call are delivered first, in
// FIFO order.
func (l *Listener) Accept(env *Environment) (*Socket, Addr, error) {
	if sock, ok := l.pending.Pop(); ok {
		return wrapSocket(sock), sock.peerAddr, nil
	}
	if l.state == listenerClosed {
		return nil, Addr{}, ErrNotConnected
	}

	var result *socketHalf
	cancelled := env.scheduler.suspend(env.task, env.abortSignal, func(wake func()) {
		l.waiters.Push(func(s *socketHalf) {
			result = s
			wake()
		})
	})
	if cancelled {
		return nil, Addr{}, ErrElapsed
	}
	if result == nil {
		return nil, Addr{}, ErrNotConnected
	}
	return wrapSocket(result), result.peerAddr, nil
}

// IntoStream returns an iterator that yields sockets indefinitely until the
// listener is closed (spec.md §6's into_stream). Each iteration blocks the
// same way a direct Accept call would; the sequence ends (without yielding a
// final pair) the first time Accept returns an error: ErrNotConnected, the
// ordinary signal that the listener has been closed, or ErrElapsed under an
// enclosing Timeout.
func (l *Listener) IntoStream(env *Environment) iter.Seq2[*Socket, Addr] {
	return func(yield func(*Socket, Addr) bool) {
		for {
			sock, addr, err := l.Accept(env)
			if err != nil {
				return
			}
			if !yield(sock, addr) {
				return
			}
		}
	}
}

// Close stops the listener: it is removed from the fabric's endpoint map,
// and every blocked Accept fails with ErrNotConnected.
func (l *Listener) Close() error {
	if l.state == listenerClosed {
		return nil
	}
	l.state = listenerClosed
	l.fab.unbind(l.addr)
	for {
		w, ok := l.waiters.Pop()
		if !ok {
			break
		}
		w(nil)
	}
	return nil
}
