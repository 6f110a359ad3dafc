package simrt

import "io"

// ShutdownDirection selects which half of a full-duplex Socket to shut
// down (spec.md §6's shutdown(Read|Write|Both)).
type ShutdownDirection uint8

const (
	ShutdownRead ShutdownDirection = 1 << iota
	ShutdownWrite
	ShutdownBoth = ShutdownRead | ShutdownWrite
)

// byteBuffer is a bounded FIFO byte queue, the implementation of one
// direction of a socket pair's "send_buf: bounded byte queue" (spec.md
// §3). Capacity is fixed at construction (default 64 KiB, spec.md §3).
//
// Single-threaded by construction: only ever touched by whichever goroutine
// currently holds the scheduler's turn, so plain slices suffice — no
// mutex, unlike a real net.Conn implementation would need.
type byteBuffer struct {
	data []byte
	cap  int

	// writerClosed marks that the writing half has shut down Write (or
	// closed outright): once drained, readers observe io.EOF.
	writerClosed bool
	// readerGone marks that the reading half will never read again (its
	// Read direction was shut down, or it closed outright): blocked
	// writers wake with ErrConnectionReset instead of waiting forever.
	readerGone bool

	readers *chunkedQueue[func()]
	writers *chunkedQueue[func()]
}

func newByteBuffer(capacity int) *byteBuffer {
	return &byteBuffer{
		cap:     capacity,
		readers: newChunkedQueue[func()](),
		writers: newChunkedQueue[func()](),
	}
}

func (b *byteBuffer) wakeOneReader() {
	if w, ok := b.readers.Pop(); ok {
		w()
	}
}

func (b *byteBuffer) wakeOneWriter() {
	if w, ok := b.writers.Pop(); ok {
		w()
	}
}

func (b *byteBuffer) wakeAllReaders() {
	for {
		w, ok := b.readers.Pop()
		if !ok {
			return
		}
		w()
	}
}

func (b *byteBuffer) wakeAllWriters() {
	for {
		w, ok := b.writers.Pop()
		if !ok {
			return
		}
		w()
	}
}

// socketHalf is one side of a full-duplex in-memory connection (spec.md
// §3's "socket pair"). send is the buffer this half writes into (read by
// the peer); recv is the peer's send buffer (this half reads from it).
type socketHalf struct {
	localAddr Addr
	peerAddr  Addr
	send      *byteBuffer
	recv      *byteBuffer

	readShutdown  bool
	writeShutdown bool
	closed        bool

	// fault, if set, is consulted by Socket.Read/Write before touching the
	// buffers (spec.md §4.5).
	fault *faultHalf
}

// newSocketPair builds a connected pair of socket halves, A's outgoing
// buffer feeding B's reads and vice versa (spec.md §4.4's connect step 3).
func newSocketPair(localA, localB Addr, bufferSize int) (a, b *socketHalf) {
	ab := newByteBuffer(bufferSize)
	ba := newByteBuffer(bufferSize)
	a = &socketHalf{localAddr: localA, peerAddr: localB, send: ab, recv: ba}
	b = &socketHalf{localAddr: localB, peerAddr: localA, send: ba, recv: ab}
	return a, b
}

func (h *socketHalf) close() {
	if h.closed {
		return
	}
	h.closed = true
	h.send.writerClosed = true
	h.send.wakeAllReaders()
	h.recv.readerGone = true
	h.recv.wakeAllWriters()
}

// Close implements io.Closer; Socket.Close calls it. Fabric.Close calls
// close directly through registry.CloseAll at shutdown.
func (h *socketHalf) Close() error {
	h.close()
	return nil
}

// Socket is the application-facing full-duplex byte stream (spec.md §6's
// Socket API).
type Socket struct {
	half *socketHalf
}

func wrapSocket(h *socketHalf) *Socket { return &Socket{half: h} }

// LocalAddr returns this socket's local address.
func (s *Socket) LocalAddr() Addr { return s.half.localAddr }

// PeerAddr returns the address of the connected peer.
func (s *Socket) PeerAddr() Addr { return s.half.peerAddr }

// Read reads up to len(p) bytes, blocking while empty and the peer's
// write direction is still open (spec.md §6). Returns io.EOF once the
// peer has shut down writing or closed and the buffer is drained; returns
// ErrNotConnected if this socket's own read direction is shut down or it is
// closed. ErrConnectionReset comes only from a fault injector's synthetic
// drop.
func (s *Socket) Read(env *Environment, p []byte) (int, error) {
	h := s.half
	if h.fault != nil {
		if dropped := faultDelay(env, h.fault); dropped {
			return 0, ErrConnectionReset
		}
	}
	for {
		if h.readShutdown || h.closed {
			return 0, ErrNotConnected
		}
		if len(h.recv.data) > 0 {
			n := copy(p, h.recv.data)
			h.recv.data = h.recv.data[n:]
			h.recv.wakeOneWriter()
			return n, nil
		}
		if h.recv.writerClosed {
			return 0, io.EOF
		}
		cancelled := env.scheduler.suspend(env.task, env.abortSignal, func(wake func()) {
			h.recv.readers.Push(wake)
		})
		if cancelled {
			return 0, ErrElapsed
		}
	}
}

// Write writes len(p) bytes, blocking while the send buffer is full and
// the peer is alive (spec.md §6). Returns ErrConnectionReset if the peer
// has gone away (shut down reading, or dropped) before all bytes are
// accepted.
func (s *Socket) Write(env *Environment, p []byte) (int, error) {
	h := s.half
	if h.fault != nil {
		if dropped := faultDelay(env, h.fault); dropped {
			return 0, ErrConnectionReset
		}
	}
	written := 0
	for written < len(p) {
		if h.writeShutdown || h.closed {
			return written, ErrNotConnected
		}
		if h.send.readerGone {
			return written, ErrConnectionReset
		}
		free := h.send.cap - len(h.send.data)
		if free > 0 {
			n := min(free, len(p)-written)
			h.send.data = append(h.send.data, p[written:written+n]...)
			written += n
			h.send.wakeOneReader()
			continue
		}
		cancelled := env.scheduler.suspend(env.task, env.abortSignal, func(wake func()) {
			h.send.writers.Push(wake)
		})
		if cancelled {
			return written, ErrElapsed
		}
	}
	return written, nil
}

// Flush is a no-op: Write already delivers bytes straight into the peer's
// recv buffer, so there is never anything buffered locally left to push
// (spec.md §6). Present for API parity with a real net.Conn-style stream,
// and so callers written against that shape don't need a simulation-only
// branch. Returns ErrNotConnected if the socket has already been closed.
func (s *Socket) Flush() error {
	if s.half.closed {
		return ErrNotConnected
	}
	return nil
}

// Shutdown half-closes the socket in the given direction(s) (spec.md §6).
func (s *Socket) Shutdown(dir ShutdownDirection) error {
	h := s.half
	if dir&ShutdownRead != 0 {
		h.readShutdown = true
		h.recv.readerGone = true
		h.recv.wakeAllWriters()
	}
	if dir&ShutdownWrite != 0 {
		h.writeShutdown = true
		h.send.writerClosed = true
		h.send.wakeAllReaders()
	}
	return nil
}

// Close shuts down both directions and releases the socket.
func (s *Socket) Close() error {
	return s.half.Close()
}
