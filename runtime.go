// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package simrt

// Runtime owns one instance of every component — Prng, Clock, Scheduler,
// Fabric — and wires them together (spec.md §4, doc.go's Architecture).
// Grounded on the original implementation's DeterministicRuntime
// (original_source/.../mod.rs): a single struct exposing New/NewWithSeed,
// Handle, LocalhostHandle, LatencyFault, Spawn, Run, BlockOn.
type Runtime struct {
	seed   uint64
	prng   *Prng
	clock  *Clock
	sched  *Scheduler
	fabric *Fabric
	logger *Logger

	metrics *RuntimeMetrics
}

// New constructs a Runtime using defaultSeed unless a WithSeed option
// overrides it. Prefer NewWithSeed (or WithSeed) when the seed needs to be
// chosen deliberately — e.g. varied across repeated runs or recorded
// alongside a failure.
func New(opts ...RuntimeOption) (*Runtime, error) {
	return NewWithSeed(defaultSeed, opts...)
}

// defaultSeed is used by New when no seed is supplied via WithSeed. Fixed
// (not time-derived) so that New without options is itself reproducible;
// callers wanting fresh entropy should supply their own seed.
const defaultSeed = 0x9E3779B97F4A7C15

// NewWithSeed constructs a Runtime with an explicit PRNG seed (spec.md
// §4.1), from which every task's forked PRNG handle, and every fault
// injector's sampling, ultimately derives.
func NewWithSeed(seed uint64, opts ...RuntimeOption) (*Runtime, error) {
	cfg, err := resolveRuntimeOptions(opts)
	if err != nil {
		return nil, WrapError("simrt: resolving runtime options", err)
	}
	if cfg.seedSet {
		seed = cfg.seed
	}

	logger := cfg.logger
	if logger == nil {
		logger = newDefaultLogger()
	}

	prng := NewPrng(seed)
	clock := NewClock()
	sched := NewScheduler(clock, prng.Fork())
	sched.SetDiagnostics(seed, logger)
	fabric := NewFabric(clock, prng.Fork(), cfg.socketBufferSize, cfg.ephemeralPortLow, cfg.ephemeralPortHigh, cfg.bindRateLimit, cfg.bindRateBurst)

	rt := &Runtime{
		seed:   seed,
		prng:   prng,
		clock:  clock,
		sched:  sched,
		fabric: fabric,
		logger: logger,
	}
	if cfg.metricsEnabled {
		rt.metrics = newRuntimeMetrics()
		sched.SetMetrics(rt.metrics)
		fabric.SetMetrics(rt.metrics)
		clock.SetFireHook(rt.metrics.recordTimerFire)
	}

	sched.SetEnvFactory(
		func(t *Task, p *Prng) *Environment {
			return &Environment{scheduler: sched, task: t, prng: p, ip: "127.0.0.1", fabric: fabric}
		},
		func(ip string, t *Task, p *Prng) *Environment {
			return &Environment{scheduler: sched, task: t, prng: p, ip: ip, fabric: fabric}
		},
	)

	return rt, nil
}

// Seed returns the PRNG seed this Runtime was constructed with — the value
// to log or record so a failing run can be replayed exactly (spec.md
// §4.1, FatalInvariantError.Seed).
func (rt *Runtime) Seed() uint64 { return rt.seed }

// Now returns the current virtual time.
func (rt *Runtime) Now() Instant { return rt.clock.Now() }

// Handle returns a ScopedHandle pinned to ip (spec.md §4.4 "Address
// scoping").
func (rt *Runtime) Handle(ip string) *ScopedHandle {
	return NewScopedHandle(rt.fabric, rt.sched, ip)
}

// LocalhostHandle returns a ScopedHandle pinned to "127.0.0.1", the
// default IP tasks spawned via Runtime.Spawn receive.
func (rt *Runtime) LocalhostHandle() *ScopedHandle {
	return rt.Handle("127.0.0.1")
}

// OnOverload installs a callback fired whenever a WithBindRateLimit budget
// rejects a Bind or Connect (op is "bind" or "connect"), before the call
// returns ErrBindRateLimited. Replaces any previously installed callback.
// Unlike the teacher's OnOverload (fired from its external-queue budget,
// backed by a wall-clock rate limiter), this fires off the same
// virtual-time token bucket WithBindRateLimit itself uses — see fabric.go's
// tokenBucket and DESIGN.md's go-catrate entry for why no wall-clock
// limiter library is wired in here.
func (rt *Runtime) OnOverload(fn func(ip, op string)) {
	rt.fabric.SetOverloadHook(fn)
}

// LatencyFault installs a fault injector applied to every socket pair
// connected from this point forward (spec.md §4.5). Existing connections
// are unaffected.
func (rt *Runtime) LatencyFault(policy FaultPolicy) {
	rt.fabric.addFaultDecorator(newLatencyFaultDecorator(rt.clock, rt.prng, policy, rt.metrics))
}

// Spawn starts fn as a new task with an Environment pinned to
// "127.0.0.1" (spec.md §4.3). Equivalent to rt.LocalhostHandle().Spawn.
// Returns ErrLoopTerminated if the scheduler has already finished running.
func (rt *Runtime) Spawn(fn func(env *Environment)) (uint64, error) {
	return rt.sched.Spawn(fn)
}

// Run drives every spawned task to quiescence (spec.md §4.3).
func (rt *Runtime) Run() error {
	err := rt.sched.Run()
	rt.fabric.Close()
	return err
}

// BlockOn drives the scheduler until fn's task completes, returning its
// result.
func BlockOn[T any](rt *Runtime, fn func(env *Environment) T) (T, error) {
	return schedulerBlockOn(rt.sched, fn)
}

// Metrics returns the runtime's metrics snapshot, or nil if WithMetrics
// was not enabled.
func (rt *Runtime) Metrics() *RuntimeMetrics {
	return rt.metrics
}

// activeEnv is the ambient Environment installed by the innermost Enter
// call. A plain package-level variable suffices — never a goroutine-local —
// because the scheduler's single-active-goroutine discipline (spec.md §5)
// guarantees only one task's code ever runs at a time, the same guarantee
// that lets byteBuffer and friends skip locking.
var activeEnv *Environment

// Enter installs env as the ambient Environment for the duration of fn, so
// library code written without an explicit *Environment parameter can call
// CurrentEnvironment to reach the virtual clock and fabric this task is
// running under. Restores whatever was active before Enter was called,
// including if fn panics. Nested Enter calls (e.g. around a Timeout's
// derived Environment) compose: the innermost one wins for its own extent.
func (rt *Runtime) Enter(env *Environment, fn func()) {
	prev := activeEnv
	activeEnv = env
	defer func() { activeEnv = prev }()
	fn()
}

// CurrentEnvironment returns the Environment installed by the innermost
// active Enter call, or nil if no Enter call is in progress.
func CurrentEnvironment() *Environment {
	return activeEnv
}
