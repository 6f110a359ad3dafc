// Package simrt provides a deterministic simulation runtime for concurrent,
// network-oriented Go programs, in the style of FoundationDB's simulation
// testing. Application code written against the narrow [Environment]
// interface (spawn tasks, sleep until a deadline, bind/accept/connect over
// in-memory "TCP"-like streams, draw random bits) can be driven with a
// virtual clock, an in-process scheduler, and an in-memory network fabric
// standing in for wall clock, real sockets, and the OS scheduler. Given the
// same seed and the same program, two runs produce identical task
// interleavings, identical clock advances, and identical bytes delivered
// between endpoints.
//
// # Architecture
//
// Five components, leaves first:
//
//   - [Prng]: seeded deterministic random source ([Prng.Fork] produces
//     independent child streams).
//   - [Clock]: monotonic virtual time, a timer wheel, and a Park primitive
//     that advances time to the nearest pending deadline.
//   - [Scheduler]: single-threaded cooperative task executor; deterministic
//     ready-queue order; parks via the [Clock] when no task is ready.
//   - fabric ([ScopedHandle.Bind]/[ScopedHandle.Connect]): a process-wide
//     registry of bound listener endpoints and full-duplex in-memory socket
//     pairs.
//   - fault injectors ([Runtime.LatencyFault]): decorators on socket halves
//     that add sampled latency to reads and writes or fail them with a
//     synthetic [ErrConnectionReset], driven by the [Prng] and [Clock].
//     Throughput is not clamped, and links are not closed by a fault.
//
// A [Runtime] owns one of each and wires them together. [Runtime.Handle]
// vends a [ScopedHandle] — an [Environment] pinned to one simulated IP — used
// as the source address for binds and connects, modelling many hosts inside
// one process.
//
// # Execution model
//
// The scheduler is genuinely single-threaded: exactly one task's code runs
// at a time, in deterministic FIFO order by spawn id. [Scheduler.Run] drains
// the ready queue to quiescence, then parks — which fast-forwards the clock
// to the earliest deadline, fires matching timers, and returns newly-ready
// tasks for the next turn. The only sources of nondeterminism are the
// caller's seed and the application's own polling pattern, and the
// scheduler orders that pattern deterministically too.
//
// # Usage
//
//	rt, err := simrt.NewWithSeed(7)
//	if err != nil {
//		log.Fatal(err)
//	}
//	h := rt.LocalhostHandle()
//	h.Spawn(func(env *simrt.Environment) {
//		ln, err := env.Bind(8080)
//		if err != nil {
//			log.Fatal(err)
//		}
//		sock, _, err := ln.Accept(env)
//		...
//	})
//	if err := rt.Run(); err != nil {
//		log.Fatal(err)
//	}
//
// # Error types
//
// Boundary errors are values: [ErrAddressInUse], [ErrConnectionRefused],
// [ErrConnectionReset], [ErrNotConnected], [ErrElapsed], [ErrRuntimeBuild],
// [ErrInvalidInput]. Internal invariant violations panic with
// [FatalInvariantError], carrying the seed that produced them so a failing
// run is reproducible.
package simrt
