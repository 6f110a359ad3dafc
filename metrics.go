package simrt

// RuntimeMetrics tracks Runtime statistics (spec.md §4 ambient wiring):
// scheduler turn and timer-fire counts, bind and connect counts, and
// streaming latency percentiles for connects, measured in virtual Duration rather than
// wall time. Adapted from the teacher's Metrics/LatencyMetrics
// (metrics.go): those guard every field with a mutex because the teacher's
// loop is driven from multiple goroutines; this runtime is single-
// threaded (spec.md §5), so RuntimeMetrics carries no locks at all.
//
// Enabled via WithMetrics(true); Runtime.Metrics returns nil otherwise.
type RuntimeMetrics struct {
	// Turns counts completed scheduler turns (one per task dispatch).
	Turns uint64
	// TimerFires counts Clock timer callbacks invoked.
	TimerFires uint64
	// Binds and Connects count successful Fabric operations.
	Binds    uint64
	Connects uint64
	// Faults counts fault-injector events: latency delays injected and
	// synthetic drops (spec.md §4.5).
	Faults uint64

	connectLatency *multiQuantileEstimator
}

// newRuntimeMetrics returns a zeroed RuntimeMetrics with its latency
// estimator initialized to track P50/P90/P95/P99.
func newRuntimeMetrics() *RuntimeMetrics {
	return &RuntimeMetrics{
		connectLatency: newMultiQuantileEstimator(0.50, 0.90, 0.95, 0.99),
	}
}

// recordTurn increments the turn counter.
func (m *RuntimeMetrics) recordTurn() {
	if m == nil {
		return
	}
	m.Turns++
}

// recordTimerFire increments the timer-fire counter.
func (m *RuntimeMetrics) recordTimerFire() {
	if m == nil {
		return
	}
	m.TimerFires++
}

// recordBind increments the bind counter.
func (m *RuntimeMetrics) recordBind() {
	if m == nil {
		return
	}
	m.Binds++
}

// recordConnect increments the connect counter and samples latency (the
// virtual-time cost, in nanoseconds, of resolving the connect). Fabric.Connect
// completes without suspending, so it always records zero.
func (m *RuntimeMetrics) recordConnect(latency Duration) {
	if m == nil {
		return
	}
	m.Connects++
	m.connectLatency.Update(latency)
}

// recordFault increments the fault-injection counter.
func (m *RuntimeMetrics) recordFault() {
	if m == nil {
		return
	}
	m.Faults++
}

// ConnectLatencyQuantile returns the streaming estimate for one of the
// four tracked quantiles (0=P50, 1=P90, 2=P95, 3=P99), as a Duration. Returns
// zero before any connect has been recorded.
func (m *RuntimeMetrics) ConnectLatencyQuantile(i int) Duration {
	if m == nil || m.connectLatency == nil || m.connectLatency.Count() == 0 {
		return 0
	}
	return m.connectLatency.Quantile(i)
}
