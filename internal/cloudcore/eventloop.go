package cloudcore

import (
	"context"
	"os"
	"os/signal"
)

// EventLoop is the single-threaded queue a caller pumps with ProcessEvents
// or Exec. All user-visible promise continuations registered
// with a non-nil loop are delivered here, never on an arbitrary engine
// goroutine.
type EventLoop struct {
	tasks chan func()
	quit  chan struct{}
}

// NewEventLoop creates an EventLoop with a generously buffered task queue.
// The buffer only smooths bursts; ProcessEvents/Exec still must be pumped
// for tasks to actually run.
func NewEventLoop() *EventLoop {
	return &EventLoop{
		tasks: make(chan func(), 4096),
		quit:  make(chan struct{}),
	}
}

// Invoke schedules task to run on the event-loop thread.
func (l *EventLoop) Invoke(task func()) {
	l.tasks <- task
}

// ProcessEvents drains every task currently queued, without blocking for
// more. Safe to call repeatedly from a caller-driven pump (e.g. a UI frame
// callback).
func (l *EventLoop) ProcessEvents() {
	for {
		select {
		case t := <-l.tasks:
			t()
		default:
			return
		}
	}
}

// Exec blocks, running tasks as they arrive, until Quit is called, ctx is
// done, or the process receives SIGINT.
func (l *EventLoop) Exec(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	for {
		select {
		case t := <-l.tasks:
			t()
		case <-l.quit:
			return
		case <-ctx.Done():
			return
		case <-sigCh:
			return
		}
	}
}

// Quit unblocks a pending Exec call.
func (l *EventLoop) Quit() {
	close(l.quit)
}
