// Package eventloop implements the single-threaded dispatch model shared by the
// host and the collar.
//
// Stack events arrive through a bounded Queue in arrival order. Timers never touch
// handler state: they post bits into a Mailbox, and the loop turns pending bits
// into ordinary events. All handler invocations run on the goroutine calling Run,
// one at a time, so handler state needs no locks.
package eventloop

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrStopped is returned by Run when the event queue was closed.
var ErrStopped = errors.New("event loop stopped")

// Handler processes one event. A non-nil error stops the loop.
type Handler[E any] func(E) error

// Loop dispatches events of type E.
type Loop[E any] struct {
	queue    *Queue[E]
	mailbox  *Mailbox
	toEvent  func(Signal) E
	logger   *logrus.Logger
	handled  int64
	signaled int64
}

// New creates a loop with a queue of the given capacity. toEvent converts a single
// signal bit into the role's event type.
func New[E any](capacity int, toEvent func(Signal) E, logger *logrus.Logger) *Loop[E] {
	if logger == nil {
		logger = logrus.New()
	}
	return &Loop[E]{
		queue:   NewQueue[E](capacity),
		mailbox: NewMailbox(),
		toEvent: toEvent,
		logger:  logger,
	}
}

// Post enqueues a stack event. Safe from any goroutine.
func (l *Loop[E]) Post(ctx context.Context, ev E) error {
	return l.queue.Post(ctx, ev)
}

// Mailbox returns the signal mailbox timers post into.
func (l *Loop[E]) Mailbox() *Mailbox {
	return l.mailbox
}

// Queue returns the stack event queue.
func (l *Loop[E]) Queue() *Queue[E] {
	return l.queue
}

// Handled returns the number of events dispatched so far, signals included.
func (l *Loop[E]) Handled() int64 {
	return l.handled
}

// Run dispatches until ctx ends, the queue is closed, or h fails.
// Pending signals are dispatched before the next stack event.
func (l *Loop[E]) Run(ctx context.Context, h Handler[E]) error {
	for {
		if err := l.drainSignals(h); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.mailbox.C():
		case ev, ok := <-l.queue.C():
			if !ok {
				return ErrStopped
			}
			l.queue.metrics.addProcessed()
			if err := l.dispatch(h, ev); err != nil {
				return err
			}
		}
	}
}

// Step dispatches everything currently pending without blocking and returns the
// number of events handled. Used by tests and simulations that drive time by hand.
func (l *Loop[E]) Step(h Handler[E]) (int, error) {
	n := 0
	for {
		before := l.handled
		if err := l.drainSignals(h); err != nil {
			return n, err
		}
		n += int(l.handled - before)

		ev, ok := l.queue.TryReceive()
		if !ok {
			if l.mailbox.pending.Load() == 0 {
				return n, nil
			}
			continue
		}
		if err := l.dispatch(h, ev); err != nil {
			return n, err
		}
		n++
	}
}

func (l *Loop[E]) drainSignals(h Handler[E]) error {
	var err error
	l.mailbox.Take().Each(func(sig Signal) {
		if err != nil {
			return
		}
		l.signaled++
		err = l.dispatch(h, l.toEvent(sig))
	})
	return err
}

func (l *Loop[E]) dispatch(h Handler[E], ev E) error {
	l.handled++
	if err := h(ev); err != nil {
		l.logger.WithError(err).WithField("event", fmt.Sprintf("%T", ev)).Error("Event handler failed")
		return err
	}
	return nil
}
