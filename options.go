// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package simrt

// runtimeOptions holds configuration resolved from RuntimeOption values.
type runtimeOptions struct {
	seed              uint64
	seedSet           bool
	logger            *Logger
	metricsEnabled    bool
	socketBufferSize  int
	ephemeralPortLow  uint16
	ephemeralPortHigh uint16
	bindRateLimit     float64
	bindRateBurst     int
}

// RuntimeOption configures a Runtime instance.
type RuntimeOption interface {
	applyRuntime(*runtimeOptions) error
}

// runtimeOptionFunc implements RuntimeOption.
type runtimeOptionFunc struct {
	apply func(*runtimeOptions) error
}

func (f *runtimeOptionFunc) applyRuntime(opts *runtimeOptions) error {
	return f.apply(opts)
}

// WithSeed sets the PRNG seed explicitly. Equivalent to calling
// NewWithSeed, but composable with other options.
func WithSeed(seed uint64) RuntimeOption {
	return &runtimeOptionFunc{func(opts *runtimeOptions) error {
		opts.seed = seed
		opts.seedSet = true
		return nil
	}}
}

// WithLogger injects a structured logger. When omitted, a stumpy-backed
// logiface logger at LevelInfo is used by default (see logging.go).
func WithLogger(logger *Logger) RuntimeOption {
	return &runtimeOptionFunc{func(opts *runtimeOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics enables runtime metrics collection (scheduler turn counts,
// timer fire counts, fabric connect/bind counts and latencies).
func WithMetrics(enabled bool) RuntimeOption {
	return &runtimeOptionFunc{func(opts *runtimeOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithSocketBufferSize sets the per-direction capacity (in bytes) of each
// socket half's send buffer. Defaults to 64 KiB per spec.md §3.
func WithSocketBufferSize(n int) RuntimeOption {
	return &runtimeOptionFunc{func(opts *runtimeOptions) error {
		opts.socketBufferSize = n
		return nil
	}}
}

// WithEphemeralPortRange overrides the default ephemeral port range
// [49152, 65535] used to assign port 0 binds and outbound connect sources.
func WithEphemeralPortRange(low, high uint16) RuntimeOption {
	return &runtimeOptionFunc{func(opts *runtimeOptions) error {
		opts.ephemeralPortLow = low
		opts.ephemeralPortHigh = high
		return nil
	}}
}

// WithBindRateLimit configures a token-bucket budget (events/sec, burst)
// applied per simulated IP to Bind and Connect, returning ErrBindRateLimited
// once exhausted. Refills against virtual time (the Clock), not the wall
// clock, so the limit is exercised deterministically like everything else
// in the runtime. A zero rate disables the limiter (default).
func WithBindRateLimit(perSecond float64, burst int) RuntimeOption {
	return &runtimeOptionFunc{func(opts *runtimeOptions) error {
		opts.bindRateLimit = perSecond
		opts.bindRateBurst = burst
		return nil
	}}
}

const (
	defaultSocketBufferSize  = 64 * 1024
	defaultEphemeralPortLow  = 49152
	defaultEphemeralPortHigh = 65535
)

// resolveRuntimeOptions applies RuntimeOption instances to runtimeOptions.
func resolveRuntimeOptions(opts []RuntimeOption) (*runtimeOptions, error) {
	cfg := &runtimeOptions{
		socketBufferSize:  defaultSocketBufferSize,
		ephemeralPortLow:  defaultEphemeralPortLow,
		ephemeralPortHigh: defaultEphemeralPortHigh,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRuntime(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
