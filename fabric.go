package simrt

// Fabric is the process-wide in-memory network substrate (spec.md §4.4,
// C4): a registry of bound listener endpoints, plus the machinery to wire
// up full-duplex socket pairs on connect. Single-threaded by the same
// discipline as Scheduler — only the active task goroutine ever touches
// it — so no mutex guards the endpoint map, unlike the "lock-protected
// map" the spec describes for a concurrent host.
type Fabric struct {
	clock *Clock
	prng  *Prng

	endpoints map[Addr]*Listener
	nextPort  map[string]uint16

	ephemeralLow  uint16
	ephemeralHigh uint16

	sockets   *registry[socketHalf]
	listeners *registry[Listener]

	socketBufferSize int

	faults  []faultDecorator
	metrics *RuntimeMetrics

	bindRate    float64 // tokens/sec; zero disables limiting
	bindBurst   float64
	bindBuckets map[string]*tokenBucket

	// overload, if set, is invoked whenever allowRate rejects a bind or
	// connect — the hook Runtime.OnOverload installs.
	overload func(ip, op string)
}

// tokenBucket is a virtual-time token bucket, refilled against a Clock
// instead of the wall clock, so WithBindRateLimit stays deterministic
// (spec.md §5: all waiting and all rate accounting flows through C1/C2,
// never real time or extra goroutines — the reason this runtime implements
// its own limiter rather than wiring in a wall-clock-based rate limiter).
type tokenBucket struct {
	tokens     float64
	lastRefill Instant
}

func (f *Fabric) allowRate(ip string) bool {
	if f.bindRate <= 0 {
		return true
	}
	if f.bindBuckets == nil {
		f.bindBuckets = make(map[string]*tokenBucket)
	}
	b, ok := f.bindBuckets[ip]
	if !ok {
		b = &tokenBucket{tokens: f.bindBurst, lastRefill: f.clock.Now()}
		f.bindBuckets[ip] = b
	}
	now := f.clock.Now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed > 0 {
		b.tokens = min(f.bindBurst, b.tokens+float64(elapsed)/float64(Second)*f.bindRate)
		b.lastRefill = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// SetMetrics installs the RuntimeMetrics sink the fabric reports bind and
// connect counts to. Called once by Runtime during construction.
func (f *Fabric) SetMetrics(m *RuntimeMetrics) {
	f.metrics = m
}

// SetOverloadHook installs the callback fired each time WithBindRateLimit's
// budget rejects a bind or connect. Called by Runtime.OnOverload.
func (f *Fabric) SetOverloadHook(hook func(ip, op string)) {
	f.overload = hook
}

// faultDecorator wraps a freshly-connected socket half pair before they are
// handed to the caller and the peer listener (spec.md §4.5).
type faultDecorator func(local, remote *socketHalf) (*socketHalf, *socketHalf)

// NewFabric constructs an empty Fabric. socketBufferSize configures the
// default bounded buffer capacity for new socket pairs (spec.md §3, default
// 64 KiB — see WithSocketBufferSize); ephemeralLow/ephemeralHigh bound the
// port range assigned when a bind or connect requests port 0.
func NewFabric(clock *Clock, prng *Prng, socketBufferSize int, ephemeralLow, ephemeralHigh uint16, bindRate float64, bindBurst int) *Fabric {
	return &Fabric{
		clock:            clock,
		prng:             prng,
		endpoints:        make(map[Addr]*Listener),
		nextPort:         make(map[string]uint16),
		ephemeralLow:     ephemeralLow,
		ephemeralHigh:    ephemeralHigh,
		sockets:          newRegistry[socketHalf](),
		listeners:        newRegistry[Listener](),
		socketBufferSize: socketBufferSize,
		bindRate:         bindRate,
		bindBurst:        float64(bindBurst),
	}
}

// addFaultDecorator installs a decorator applied to every subsequently
// connected socket pair. Used by Runtime.LatencyFault (spec.md §4.5).
func (f *Fabric) addFaultDecorator(d faultDecorator) {
	f.faults = append(f.faults, d)
}

func (f *Fabric) allocateEphemeral(ip string) uint16 {
	port := f.nextPort[ip]
	if port == 0 {
		port = f.ephemeralLow
	}
	for {
		candidate := port
		if _, taken := f.endpoints[Addr{IP: ip, Port: candidate}]; !taken {
			port++
			if port > f.ephemeralHigh {
				port = f.ephemeralLow
			}
			f.nextPort[ip] = port
			return candidate
		}
		port++
		if port > f.ephemeralHigh {
			port = f.ephemeralLow
		}
		if port == f.nextPort[ip] {
			// Wrapped all the way around with nothing free; spec.md does
			// not define this case for a single IP's ephemeral exhaustion,
			// so fail the same way a real listener's backlog would.
			return 0
		}
	}
}

// Bind registers addr (or, if addr.Port == 0, an assigned ephemeral port on
// addr.IP) as a listening endpoint (spec.md §4.4 bind). Returns
// ErrAddressInUse if the resolved (ip, port) pair is already bound.
func (f *Fabric) Bind(addr Addr) (*Listener, error) {
	if !f.allowRate(addr.IP) {
		if f.overload != nil {
			f.overload(addr.IP, "bind")
		}
		return nil, ErrBindRateLimited
	}
	if addr.Port == 0 {
		addr.Port = f.allocateEphemeral(addr.IP)
		if addr.Port == 0 {
			return nil, ErrAddressInUse
		}
	} else if _, taken := f.endpoints[addr]; taken {
		return nil, ErrAddressInUse
	}

	l := newListener(f, addr)
	f.endpoints[addr] = l
	f.listeners.Register(l)
	f.listeners.Scavenge(registryScavengeBatch)
	f.metrics.recordBind()
	return l, nil
}

// unbind removes addr's entry from the endpoint map, called by
// Listener.Close.
func (f *Fabric) unbind(addr Addr) {
	delete(f.endpoints, addr)
}

// Connect locates the listener bound at addr and establishes a full-duplex
// socket pair between it and a newly allocated ephemeral endpoint on
// localIP (spec.md §4.4 connect). Returns ErrConnectionRefused if no
// listener is registered, or if the listener was closed between lookup and
// delivery.
func (f *Fabric) Connect(localIP string, addr Addr) (*Socket, error) {
	if !f.allowRate(localIP) {
		if f.overload != nil {
			f.overload(localIP, "connect")
		}
		return nil, ErrBindRateLimited
	}
	listener, ok := f.endpoints[addr]
	if !ok {
		return nil, ErrConnectionRefused
	}

	localPort := f.allocateEphemeral(localIP)
	if localPort == 0 {
		return nil, ErrConnectionRefused
	}
	localAddr := Addr{IP: localIP, Port: localPort}

	clientHalf, serverHalf := newSocketPair(localAddr, addr, f.socketBufferSize)
	for _, d := range f.faults {
		clientHalf, serverHalf = d(clientHalf, serverHalf)
	}

	if !listener.push(serverHalf) {
		return nil, ErrConnectionRefused
	}

	f.sockets.Register(clientHalf)
	f.sockets.Register(serverHalf)
	f.sockets.Scavenge(registryScavengeBatch)
	f.metrics.recordConnect(0)
	return wrapSocket(clientHalf), nil
}

// registryScavengeBatch bounds the per-call cost of the ring-buffer partial
// sweep registry.Scavenge performs after every Bind/Connect, so reclaiming
// dropped sockets and listeners stays proportional to traffic rather than
// to how large the registries have grown (registry.go).
const registryScavengeBatch = 32

// Close force-closes every socket and listener still registered, used by
// Runtime shutdown (spec.md §4.4's "removed when the listener is dropped").
func (f *Fabric) Close() {
	f.sockets.CloseAll(func(h *socketHalf) { h.close() })
	f.listeners.CloseAll(func(l *Listener) { _ = l.Close() })
}

// ScopedHandle is a view of the runtime fixed to one simulated IP, rewriting
// bind(port) to (ip, port) and connect's local endpoint to an ephemeral
// port on ip (spec.md §4.4 "Address scoping"). Every task spawned through a
// ScopedHandle receives an Environment pinned to the same IP, so nested
// Binds/Connects default to it too.
type ScopedHandle struct {
	fabric    *Fabric
	scheduler *Scheduler
	ip        string
}

// NewScopedHandle returns a handle scoped to ip.
func NewScopedHandle(f *Fabric, s *Scheduler, ip string) *ScopedHandle {
	return &ScopedHandle{fabric: f, scheduler: s, ip: ip}
}

// IP returns the handle's fixed simulated IP.
func (h *ScopedHandle) IP() string { return h.ip }

// Bind binds port on this handle's IP (port 0 assigns an ephemeral port).
func (h *ScopedHandle) Bind(port uint16) (*Listener, error) {
	return h.fabric.Bind(Addr{IP: h.ip, Port: port})
}

// Connect connects to addr, originating from an ephemeral port on this
// handle's IP.
func (h *ScopedHandle) Connect(addr Addr) (*Socket, error) {
	return h.fabric.Connect(h.ip, addr)
}

// Spawn starts fn as a new task whose Environment is pinned to this
// handle's IP.
func (h *ScopedHandle) Spawn(fn func(env *Environment)) (uint64, error) {
	return h.scheduler.SpawnScoped(h.ip, fn)
}
