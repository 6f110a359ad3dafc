package simrt

// TaskState mirrors spec.md §3's Task state machine: Ready, Blocked, Done.
type TaskState uint8

const (
	// TaskReady means the task sits in the scheduler's ready queue awaiting
	// its turn.
	TaskReady TaskState = iota
	// TaskRunning means the task currently holds the turn and is executing
	// application code.
	TaskRunning
	// TaskBlocked means the task has suspended at one of spec.md §5's
	// suspension points, waiting on a registered Waker to fire.
	TaskBlocked
	// TaskDone means the task's body returned (or panicked); it has been
	// removed from the scheduler's task table.
	TaskDone
)

// Task is one unit of cooperatively-scheduled work (spec.md §3, C3). Each
// Task runs on its own goroutine, but turn and yield serialize control so
// that exactly one task's code is ever logically executing: the goroutine
// is a convenient way to keep an arbitrary call stack suspended at a
// blocking point without an explicit state machine, not a source of real
// parallelism.
type Task struct {
	id    uint64
	state TaskState

	// turn is sent on by the driver to grant this task control.
	turn chan struct{}
	// yield is sent on by the task to hand control back to the driver,
	// either because it blocked or because its body returned.
	yield chan struct{}

	// panicValue captures a recovered panic from the task body, propagated
	// by the driver once the task's completion is observed (spec.md §4.3:
	// "run() propagates the first panic from a task").
	panicValue any
}

// ID returns the task's spawn-order id.
func (t *Task) ID() uint64 { return t.id }

// State returns the task's current state.
func (t *Task) State() TaskState { return t.state }
