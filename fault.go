package simrt

// FaultPolicy configures a latency/drop fault injector (spec.md §4.5). A
// zero-value FaultPolicy injects no delay and never drops.
type FaultPolicy struct {
	// LatencyLambda is the rate parameter of the exponential distribution
	// sampled for each read/write's injected delay. Zero disables latency
	// injection.
	LatencyLambda float64

	// DropProbability is the chance, in [0, 1), that a read/write is
	// resolved as a synthetic ErrConnectionReset instead of being forwarded
	// to the inner socket half, sampled once per operation.
	DropProbability float64
}

// faultHalf decorates a socketHalf with a FaultPolicy, sampling a delay from
// C1 for every Read/Write and suspending on C2's clock before (or instead
// of) forwarding to the wrapped half, per spec.md §4.5: "On each
// read/write, it samples a delay from the policy... and returns Pending
// until that timer fires, after which it forwards the operation to the
// inner half."
//
// faultHalf does not itself implement the Read/Write suspension primitive;
// the delay is injected by faultDelay, called from Socket.Read/Write before
// they touch the underlying buffers — see newLatencyFaultDecorator.
type faultHalf struct {
	clock   *Clock
	prng    *Prng
	policy  FaultPolicy
	metrics *RuntimeMetrics
}

// faultDelay blocks the calling task for a duration drawn from the policy's
// exponential distribution, or returns immediately if LatencyLambda is
// zero. Returns true if a synthetic drop should be applied instead of
// proceeding, in which case no delay is injected.
func faultDelay(env *Environment, f *faultHalf) (dropped bool) {
	if f.policy.DropProbability > 0 && f.prng.NextFloat64() < f.policy.DropProbability {
		f.metrics.recordFault()
		return true
	}
	if f.policy.LatencyLambda <= 0 {
		return false
	}
	delay := f.prng.SampleExponential(f.policy.LatencyLambda)
	deadline := f.clock.Now().Add(Duration(delay * float64(Second)))
	env.scheduler.suspend(env.task, nil, func(wake func()) {
		f.clock.Register(deadline, wake)
	})
	f.metrics.recordFault()
	return false
}

// Second is the Duration value representing one second of virtual time
// (spec.md §4.2's Duration unit — nanoseconds).
const Second Duration = 1_000_000_000

// newLatencyFaultDecorator returns a faultDecorator (fabric.go) that wraps
// both halves of a freshly connected socket pair so every Read/Write on
// either side pays the configured policy. Registered via
// Runtime.LatencyFault.
func newLatencyFaultDecorator(clock *Clock, prng *Prng, policy FaultPolicy, metrics *RuntimeMetrics) faultDecorator {
	return func(local, remote *socketHalf) (*socketHalf, *socketHalf) {
		local.fault = &faultHalf{clock: clock, prng: prng.Fork(), policy: policy, metrics: metrics}
		remote.fault = &faultHalf{clock: clock, prng: prng.Fork(), policy: policy, metrics: metrics}
		return local, remote
	}
}
