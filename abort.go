// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package simrt

// AbortSignal communicates cancellation to a suspended operation, modeled on
// the W3C DOM AbortController/AbortSignal pattern. Unlike the teacher's
// version, this one carries no mutex: a signal is only ever read or aborted
// by whichever goroutine currently holds the scheduler's turn (spec.md §5),
// so there is nothing to race.
//
// Env.Timeout is built directly on this type: the timer that represents the
// deadline aborts the signal when it fires, and every suspension point
// (Delay, Read, Write, Accept) registers an OnAbort handler alongside its
// own wake registration, so whichever happens first — the inner operation
// completing, or the deadline — wins (spec.md §5 "Cancellation & timeouts").
type AbortSignal struct {
	handlers []func(reason any)
	reason   any
	aborted  bool
}

func newAbortSignal() *AbortSignal {
	return &AbortSignal{}
}

// Aborted reports whether the signal has fired.
func (s *AbortSignal) Aborted() bool {
	return s.aborted
}

// Reason returns the abort reason, or nil if not yet aborted.
func (s *AbortSignal) Reason() any {
	return s.reason
}

// OnAbort registers handler to run when the signal aborts. If already
// aborted, handler runs immediately.
func (s *AbortSignal) OnAbort(handler func(reason any)) {
	if handler == nil {
		return
	}
	if s.aborted {
		handler(s.reason)
		return
	}
	s.handlers = append(s.handlers, handler)
}

// abort fires the signal exactly once, running every registered handler in
// registration order.
func (s *AbortSignal) abort(reason any) {
	if s.aborted {
		return
	}
	s.aborted = true
	s.reason = reason
	handlers := s.handlers
	s.handlers = nil
	for _, h := range handlers {
		h(reason)
	}
}

// AbortController owns an AbortSignal and can fire it.
type AbortController struct {
	signal *AbortSignal
}

// NewAbortController returns a controller with a fresh, unaborted signal.
func NewAbortController() *AbortController {
	return &AbortController{signal: newAbortSignal()}
}

// Signal returns the controller's AbortSignal.
func (c *AbortController) Signal() *AbortSignal {
	return c.signal
}

// Abort fires the controller's signal with reason. A second call is a
// no-op — the first reason sticks.
func (c *AbortController) Abort(reason any) {
	c.signal.abort(reason)
}
