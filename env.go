package simrt

// Environment is the per-task handle through which simulated code performs
// every effect the runtime can observe and control: spawning, reading the
// virtual clock, delaying, timing out, and reaching the network fabric.
// Every Environment is scoped to exactly one Task and carries that task's
// own forked PRNG handle (spec.md §5), so draws made on two different
// tasks never share state.
type Environment struct {
	scheduler *Scheduler
	task      *Task
	prng      *Prng

	// abortSignal, when non-nil, is the enclosing Timeout's cancellation
	// signal: every suspension point reached through this Environment
	// races its own wake against this signal, so a timed-out env cancels
	// whatever its task is currently blocked on.
	abortSignal *AbortSignal

	ip     string
	fabric *Fabric
}

// Spawn starts fn as a new concurrently-scheduled task and returns its id
// (spec.md §4.3). The child task gets its own forked PRNG handle but
// inherits no abort signal from its parent — Timeout scopes only the
// Environment it returns, not tasks spawned through it.
func (e *Environment) Spawn(fn func(env *Environment)) (uint64, error) {
	return e.scheduler.Spawn(fn)
}

// Now returns the current virtual time (spec.md §4.2).
func (e *Environment) Now() Instant {
	return e.scheduler.Clock().Now()
}

// Rand returns this task's forked PRNG handle (spec.md §4.1, §5).
func (e *Environment) Rand() *Prng {
	return e.prng
}

// Delay suspends the calling task until d of virtual time has elapsed
// (spec.md §6's delay_from). Returns immediately if d <= 0.
func (e *Environment) Delay(d Duration) error {
	if d <= 0 {
		return nil
	}
	return e.DelayUntil(e.Now().Add(d))
}

// DelayUntil suspends the calling task until the virtual clock reaches
// deadline (spec.md §6's delay(deadline)). Returns immediately if deadline
// has already passed.
func (e *Environment) DelayUntil(deadline Instant) error {
	if deadline <= e.Now() {
		return nil
	}
	var timer *Timer
	cancelled := e.scheduler.suspend(e.task, e.abortSignal, func(wake func()) {
		timer = e.scheduler.Clock().Register(deadline, wake)
	})
	if cancelled {
		// The enclosing Timeout won the race: drop our own still-pending
		// timer rather than leaving it to fire later and advance virtual
		// time for no one (spec.md §4.2's Park would otherwise treat it as
		// outstanding work).
		timer.Cancel()
		return ErrElapsed
	}
	return nil
}

// Timeout runs fn with a derived Environment whose operations race against
// a deadline d of virtual time away: if d elapses before fn returns, every
// suspension point fn is blocked on (or next reaches) unblocks early with
// ErrElapsed, and Timeout itself returns ErrElapsed once fn's task has
// wound down. Otherwise Timeout returns fn's own error, unwrapped (spec.md
// §5 "Cancellation & timeouts").
func (e *Environment) Timeout(d Duration, fn func(env *Environment) error) error {
	controller := NewAbortController()
	deadline := e.Now().Add(d)
	timer := e.scheduler.Clock().Register(deadline, func() {
		controller.Abort(ErrElapsed)
	})

	child := &Environment{
		scheduler:   e.scheduler,
		task:        e.task,
		prng:        e.prng,
		abortSignal: controller.Signal(),
		ip:          e.ip,
		fabric:      e.fabric,
	}

	err := fn(child)
	timer.Cancel()
	if controller.Signal().Aborted() && err != nil {
		return ErrElapsed
	}
	return err
}

// Bind registers a listening endpoint at the given port on this
// Environment's IP (0 assigns an ephemeral port), per spec.md §4.4.
func (e *Environment) Bind(port uint16) (*Listener, error) {
	return e.fabric.Bind(Addr{IP: e.ip, Port: port})
}

// Connect establishes a socket to addr, originating from an ephemeral port
// on this Environment's IP (spec.md §4.4).
func (e *Environment) Connect(addr Addr) (*Socket, error) {
	return e.fabric.Connect(e.ip, addr)
}

// Accept blocks until a connection arrives on l or it is closed — a thin
// convenience so call sites can write env.Accept(l) alongside env.Connect.
func (e *Environment) Accept(l *Listener) (*Socket, Addr, error) {
	return l.Accept(e)
}

// IP returns the simulated IP this Environment's binds and connects
// originate from.
func (e *Environment) IP() string {
	return e.ip
}
