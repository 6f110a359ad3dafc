package simrt

// Scheduler is the single-threaded cooperative task executor (spec.md
// §4.3, C3). It drains a deterministic FIFO ready queue one task at a
// time; when the queue empties it parks via a Clock, which fast-forwards
// virtual time to the earliest pending deadline and fires matching timers
// — those firings re-populate the ready queue for the next pass.
//
// Grounded on the teacher's Loop (loop.go): a goroutine-driven run loop
// guarded by a state machine and a reentrancy check (isLoopThread). Unlike
// the teacher, which drives real concurrent I/O across many goroutines,
// this scheduler drives logical single-threadedness: exactly one task
// goroutine is ever unblocked at a time, by turn/yield handoff (task.go).
type Scheduler struct {
	clock *Clock
	prng  *Prng // root handle; each task forks its own at spawn time (spec.md §5)

	state SchedulerState

	tasks      map[uint64]*Task
	nextTaskID uint64
	ready      *chunkedQueue[uint64]

	firstPanic any

	// envFactory and scopedEnvFactory build the Environment handed to a
	// newly spawned task's body. Scheduler itself has no notion of the
	// network fabric or a task's simulated IP (spec.md §4.3 describes C3
	// independent of C4); Runtime installs the real factories once it has
	// constructed the Fabric alongside this Scheduler.
	envFactory       func(t *Task, prng *Prng) *Environment
	scopedEnvFactory func(ip string, t *Task, prng *Prng) *Environment

	metrics *RuntimeMetrics

	// seed and logger back FatalInvariantError's diagnostic (spec.md §7):
	// set once by Runtime via SetDiagnostics, left zero-valued for bare
	// Scheduler tests that never trigger an internal invariant check.
	seed   uint64
	logger *Logger
}

// SetDiagnostics installs the seed and logger FatalInvariantError reports
// when an internal invariant check fails. Called once by Runtime during
// construction.
func (s *Scheduler) SetDiagnostics(seed uint64, logger *Logger) {
	s.seed = seed
	s.logger = logger
}

// SetMetrics installs the RuntimeMetrics sink the scheduler reports turn
// counts to. Called once by Runtime during construction.
func (s *Scheduler) SetMetrics(m *RuntimeMetrics) {
	s.metrics = m
}

// SetEnvFactory installs the functions used to build each task's
// Environment, for plain Spawn and for ScopedHandle.Spawn respectively.
// Called once by Runtime during construction.
func (s *Scheduler) SetEnvFactory(f func(t *Task, prng *Prng) *Environment, scoped func(ip string, t *Task, prng *Prng) *Environment) {
	s.envFactory = f
	s.scopedEnvFactory = scoped
}

func (s *Scheduler) buildEnv(t *Task, prng *Prng) *Environment {
	if s.envFactory != nil {
		return s.envFactory(t, prng)
	}
	return &Environment{scheduler: s, task: t, prng: prng}
}

func (s *Scheduler) buildScopedEnv(ip string, t *Task, prng *Prng) *Environment {
	if s.scopedEnvFactory != nil {
		return s.scopedEnvFactory(ip, t, prng)
	}
	env := s.buildEnv(t, prng)
	env.ip = ip
	return env
}

// SpawnScoped enqueues fn as a new task whose Environment is pinned to ip
// (spec.md §4.4 "Address scoping"), used by ScopedHandle.Spawn.
func (s *Scheduler) SpawnScoped(ip string, fn func(env *Environment)) (uint64, error) {
	if !s.state.CanAcceptWork() {
		return 0, ErrLoopTerminated
	}
	t := s.spawn(func(t *Task) {
		fn(s.buildScopedEnv(ip, t, s.forkTaskPrng(t)))
	})
	return t.id, nil
}

// NewScheduler constructs a Scheduler backed by clock, forking task-local
// PRNG handles from prng.
func NewScheduler(clock *Clock, prng *Prng) *Scheduler {
	return &Scheduler{
		clock: clock,
		prng:  prng,
		tasks: make(map[uint64]*Task),
		ready: newChunkedQueue[uint64](),
	}
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() *Clock { return s.clock }

// forkTaskPrng derives a fresh PRNG handle for a newly spawned task. Not
// called from inside a task's own turn for any *other* task, so it never
// races with that task's own draws.
func (s *Scheduler) forkTaskPrng(*Task) *Prng {
	return s.prng.Fork()
}

// spawn allocates a task id, starts its goroutine (parked on its own turn
// channel), and enqueues it as ready. body receives the Task so it can
// suspend/resume itself via the scheduler; it is invoked on the task's own
// goroutine only once the driver grants its first turn.
func (s *Scheduler) spawn(body func(t *Task)) *Task {
	s.nextTaskID++
	t := &Task{
		id:    s.nextTaskID,
		state: TaskReady,
		turn:  make(chan struct{}),
		yield: make(chan struct{}),
	}
	s.tasks[t.id] = t
	s.ready.Push(t.id)
	go func() {
		<-t.turn
		t.state = TaskRunning
		defer func() {
			if r := recover(); r != nil {
				t.panicValue = r
			}
			t.state = TaskDone
			t.yield <- struct{}{}
		}()
		body(t)
	}()
	return t
}

// Spawn enqueues fn as a new task and returns its id. Per spec.md §4.3,
// Spawn may be called from inside a running task (it simply appends to the
// ready queue the same as an external caller) or from outside a turn.
func (s *Scheduler) Spawn(fn func(env *Environment)) (uint64, error) {
	if !s.state.CanAcceptWork() {
		return 0, ErrLoopTerminated
	}
	t := s.spawn(func(t *Task) {
		fn(s.buildEnv(t, s.forkTaskPrng(t)))
	})
	return t.id, nil
}

// wakeTask moves a blocked task back to the ready queue. Safe to call from
// either the driver (e.g. from inside Clock.Park's synchronous firing) or
// from whichever task currently holds the turn (e.g. a writer unblocking a
// blocked reader) — in both cases exactly one goroutine is actively
// mutating scheduler state, per this package's execution model.
func (s *Scheduler) wakeTask(t *Task) {
	if t.state != TaskBlocked {
		return
	}
	t.state = TaskReady
	s.ready.Push(t.id)
}

// suspend parks the calling task until woken, optionally racing an
// AbortSignal. arm is invoked with a wake callback that the caller (a
// timer, a socket buffer, a listener) must invoke exactly once to return
// the task to the ready queue. If signal is non-nil and fires before arm's
// wake does, suspend returns true (cancelled) — this is the primitive
// behind Environment.Timeout (spec.md §5 "Cancellation & timeouts"), which
// races a deadline's AbortSignal against each suspension point. suspend
// must only be called from the task's own goroutine, while it holds the
// turn.
func (s *Scheduler) suspend(t *Task, signal *AbortSignal, arm func(wake func())) (cancelled bool) {
	t.state = TaskBlocked
	woken := false
	arm(func() {
		if woken {
			return
		}
		woken = true
		s.wakeTask(t)
	})
	if signal != nil {
		signal.OnAbort(func(any) {
			if woken {
				return
			}
			woken = true
			cancelled = true
			s.wakeTask(t)
		})
	}
	t.yield <- struct{}{}
	<-t.turn
	t.state = TaskRunning
	return cancelled
}

// hasWork reports whether the scheduler has anything left to do: ready
// tasks, or the clock has pending timers (which may yet wake a blocked
// task).
func (s *Scheduler) hasWork() bool {
	return s.ready.Length() > 0 || s.clock.Pending()
}

// Run drives the scheduler until the ready queue is empty and the clock
// reports no pending timers (spec.md §4.3). Returns ErrReentrantRun if the
// scheduler is already running (e.g. when called from inside a task it is
// driving), and ErrLoopTerminated once it has terminated.
func (s *Scheduler) Run() error {
	return s.run(nil)
}

// schedulerBlockOn drives the scheduler, same as Run, but returns as soon
// as the task produced by fn completes, yielding fn's return value. Other
// spawned tasks may be left unfinished; the scheduler itself keeps its
// state and may be driven again. Exported at the Runtime level as the
// package's public BlockOn (runtime.go) — kept unexported here since a bare
// Scheduler has no Environment.fabric/ip wiring of its own outside tests.
func schedulerBlockOn[T any](s *Scheduler, fn func(env *Environment) T) (T, error) {
	var result T
	var done bool
	target := s.spawn(func(t *Task) {
		env := s.buildEnv(t, s.forkTaskPrng(t))
		result = fn(env)
	})
	err := s.run(func() bool {
		done = target.state == TaskDone
		return done
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// run is the shared driver loop. exitWhen, if non-nil, is polled after each
// completed task to allow BlockOn's early exit; Run passes nil and runs to
// full quiescence.
func (s *Scheduler) run(exitWhen func() bool) (err error) {
	if s.state == StateRunning || s.state == StateParked {
		return ErrReentrantRun
	}
	if s.state == StateTerminated {
		return ErrLoopTerminated
	}
	s.state = StateRunning
	defer func() {
		if s.firstPanic != nil {
			p := s.firstPanic
			s.firstPanic = nil
			panic(p)
		}
	}()

	for {
		if exitWhen != nil && exitWhen() {
			s.state = StateAwake
			return nil
		}

		id, ok := s.ready.Pop()
		if !ok {
			if !s.hasWork() {
				s.state = StateTerminated
				return nil
			}
			s.state = StateParked
			s.clock.Park(nil)
			s.state = StateRunning
			continue
		}

		t, ok := s.tasks[id]
		if !ok || t.state != TaskReady {
			// The ready queue only ever gains an id via spawn (state
			// TaskReady) or wakeTask (state TaskBlocked -> TaskReady), and a
			// task is only removed from s.tasks once TaskDone. Reaching here
			// means those invariants were violated elsewhere — e.g. a waker
			// fired for a task that no longer exists.
			err := &FatalInvariantError{Seed: s.seed, Message: "ready queue entry has no matching live task"}
			logFatalInvariant(s.logger, s.seed, err.Message, nil)
			panic(err)
		}

		t.turn <- struct{}{}
		<-t.yield
		s.metrics.recordTurn()

		if t.state == TaskDone {
			delete(s.tasks, id)
			if t.panicValue != nil && s.firstPanic == nil {
				s.firstPanic = t.panicValue
			}
		}
	}
}
