// Package cloudcore implements the composable future/promise runtime, the
// single-threaded event loop that delivers completions, and the thread pool
// that executes blocking work on the caller's behalf.
package cloudcore

import (
	"sync"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
)

type promiseState int

const (
	statePending promiseState = iota
	stateFulfilled
	stateRejected
	stateCancelled
)

// Promise is a single-value, single-producer, multi-consumer future. At
// most one of Fulfill/Reject ever takes effect; later calls are no-ops.
// Continuations registered after settlement are delivered at once: run
// synchronously on the registering call when the promise has no event
// loop, otherwise queued on the loop.
type Promise[T any] struct {
	mu         sync.Mutex
	state      promiseState
	value      T
	err        error
	loop       *EventLoop
	onSettled  []func()
	onCancel   []func()
	cancelOnce sync.Once
}

// NewPromise creates a Promise together with its fulfill/reject resolvers.
// loop may be nil, in which case continuations run synchronously on
// whichever goroutine calls Fulfill/Reject — useful in tests.
func NewPromise[T any](loop *EventLoop) (*Promise[T], func(T), func(error)) {
	p := &Promise[T]{loop: loop}

	return p, p.fulfill, p.reject
}

func (p *Promise[T]) fulfill(v T) {
	p.mu.Lock()
	if p.state != statePending {
		p.mu.Unlock()

		return
	}

	p.state = stateFulfilled
	p.value = v
	settled := p.onSettled
	p.onSettled = nil
	p.mu.Unlock()

	p.runSettled(settled)
}

func (p *Promise[T]) reject(err error) {
	p.mu.Lock()
	if p.state != statePending {
		p.mu.Unlock()

		return
	}

	if _, ok := err.(*clouderr.Error); ok { //nolint:errorlint // classification, not unwrap chase
		p.state = stateRejected
	} else if err != nil {
		p.state = stateRejected
	}

	p.err = err
	settled := p.onSettled
	p.onSettled = nil
	p.mu.Unlock()

	p.runSettled(settled)
}

func (p *Promise[T]) runSettled(fns []func()) {
	for _, fn := range fns {
		p.deliver(fn)
	}
}

func (p *Promise[T]) deliver(fn func()) {
	if p.loop == nil {
		fn()

		return
	}

	p.loop.Invoke(fn)
}

// OnCancel registers a hook invoked exactly once when Cancel reaches this
// promise. The original promise at the root of a then-chain is the one
// whose hook actually aborts the underlying work.
func (p *Promise[T]) OnCancel(fn func()) {
	p.mu.Lock()
	if p.state == stateCancelled {
		p.mu.Unlock()
		fn()

		return
	}

	p.onCancel = append(p.onCancel, fn)
	p.mu.Unlock()
}

// Cancel propagates backward along the chain via the registered OnCancel
// hooks and, if the promise is still pending, rejects it with
// clouderr.Aborted(). Safe to call multiple times or after settlement.
func (p *Promise[T]) Cancel() {
	p.cancelOnce.Do(func() {
		p.mu.Lock()
		hooks := p.onCancel
		p.onCancel = nil
		var settled []func()
		wasPending := p.state == statePending
		if wasPending {
			p.state = stateCancelled
			p.err = clouderr.Aborted()
			settled = p.onSettled
			p.onSettled = nil
		}
		p.mu.Unlock()

		for _, h := range hooks {
			h()
		}

		if wasPending {
			p.runSettled(settled)
		}
	})
}

// Await registers fn to run once p settles successfully and returns a new
// Promise for its result. This is the package-level equivalent of `then` —
// Go methods cannot introduce new type parameters, so
// chaining is expressed as a function, not a method.
func Await[T, U any](p *Promise[T], loop *EventLoop, fn func(T) (U, error)) *Promise[U] {
	next, fulfillNext, rejectNext := NewPromise[U](loop)

	next.OnCancel(p.Cancel)

	register(p, func(v T, err error) {
		if err != nil {
			rejectNext(err)

			return
		}

		u, uerr := fn(v)
		if uerr != nil {
			rejectNext(uerr)

			return
		}

		fulfillNext(u)
	})

	return next
}

// AwaitPromise is the monadic-bind form of Await: fn itself returns a
// Promise[U], and the two chains are joined so cancelling next also
// cancels the inner promise once it exists.
func AwaitPromise[T, U any](p *Promise[T], loop *EventLoop, fn func(T) (*Promise[U], error)) *Promise[U] {
	next, fulfillNext, rejectNext := NewPromise[U](loop)

	next.OnCancel(p.Cancel)

	register(p, func(v T, err error) {
		if err != nil {
			rejectNext(err)

			return
		}

		inner, ierr := fn(v)
		if ierr != nil {
			rejectNext(ierr)

			return
		}

		next.OnCancel(inner.Cancel)

		register(inner, func(u U, uerr error) {
			if uerr != nil {
				rejectNext(uerr)

				return
			}

			fulfillNext(u)
		})
	})

	return next
}

// Catch runs fn only if the rejection is a *clouderr.Error of the given
// kind; any other rejection (or a fulfilled value) propagates unchanged.
func Catch[T any](p *Promise[T], loop *EventLoop, kind clouderr.Kind, fn func(*clouderr.Error) (T, error)) *Promise[T] {
	next, fulfillNext, rejectNext := NewPromise[T](loop)

	next.OnCancel(p.Cancel)

	register(p, func(v T, err error) {
		if err == nil {
			fulfillNext(v)

			return
		}

		ce, ok := err.(*clouderr.Error) //nolint:errorlint // classification only
		if !ok || ce.Kind != kind {
			rejectNext(err)

			return
		}

		u, uerr := fn(ce)
		if uerr != nil {
			rejectNext(uerr)

			return
		}

		fulfillNext(u)
	})

	return next
}

// register arranges for fn to run (via the promise's event loop, or
// synchronously if none) exactly once, when p settles — immediately if p
// has already settled.
func register[T any](p *Promise[T], fn func(T, error)) {
	p.mu.Lock()

	switch p.state {
	case statePending:
		p.onSettled = append(p.onSettled, func() { fn(p.snapshot()) })
		p.mu.Unlock()
	case stateFulfilled, stateRejected, stateCancelled:
		v, err := p.value, p.err
		p.mu.Unlock()
		p.deliver(func() { fn(v, err) })
	}
}

func (p *Promise[T]) snapshot() (T, error) {
	return p.value, p.err
}

// Wait blocks the calling goroutine until p settles and returns its result.
// Intended for tests and for synchronous top-level callers (e.g. a CLI) —
// library code should prefer Await/AwaitPromise.
func (p *Promise[T]) Wait() (T, error) {
	done := make(chan struct{})

	var (
		v   T
		err error
	)

	register(p, func(val T, e error) {
		v, err = val, e
		close(done)
	})

	<-done

	return v, err
}
