// Package event implements the completion handle of one inbound worker event.
//
// A handler receives an *Event, may extend its lifetime with WaitUntil, and
// returns. The dispatcher then calls Settle. The event is done once it is
// settled and every extension task has returned; Wait joins on that point.
// Extension tasks run on a context detached from the caller's cancellation,
// so a response can be returned early while its cache write still completes.
package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Type names the kind of inbound event.
type Type string

const (
	TypeInstall           Type = "install"
	TypeActivate          Type = "activate"
	TypeFetch             Type = "fetch"
	TypePush              Type = "push"
	TypeNotificationClick Type = "notificationclick"
	TypeSync              Type = "sync"
	TypeMessage           Type = "message"
)

// ErrFinished is returned by WaitUntil once the event is done.
var ErrFinished = errors.New("event already finished")

// Event is a promise-like completion for one inbound event.
type Event struct {
	typ Type
	ctx context.Context

	mu       sync.Mutex
	pending  int
	settled  bool
	finished bool
	errs     []error
	done     chan struct{}
}

// New creates an event whose extension tasks run on a context derived
// from ctx without its cancellation.
func New(ctx context.Context, typ Type) *Event {
	return &Event{
		typ:  typ,
		ctx:  context.WithoutCancel(ctx),
		done: make(chan struct{}),
	}
}

// Type returns the event type.
func (e *Event) Type() Type {
	return e.typ
}

// WaitUntil keeps the event alive until task returns. A task error is
// reported by Wait and Err.
func (e *Event) WaitUntil(task func(ctx context.Context) error) error {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return ErrFinished
	}
	e.pending++
	e.mu.Unlock()

	go func() {
		err := run(e.ctx, task)

		e.mu.Lock()
		defer e.mu.Unlock()
		if err != nil {
			e.errs = append(e.errs, err)
		}
		e.pending--
		e.finishLocked()
	}()
	return nil
}

// Settle marks the handler as returned. Safe to call more than once.
func (e *Event) Settle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settled = true
	e.finishLocked()
}

// Fail records err as a handler failure and settles the event.
func (e *Event) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil && !e.finished {
		e.errs = append(e.errs, err)
	}
	e.settled = true
	e.finishLocked()
}

func (e *Event) finishLocked() {
	if e.finished || !e.settled || e.pending > 0 {
		return
	}
	e.finished = true
	close(e.done)
}

// Done is closed once the event is settled and all extensions returned.
func (e *Event) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the event is done or ctx ends.
// Returns the joined errors of the handler and its extension tasks.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return e.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the joined errors recorded so far.
func (e *Event) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Join(e.errs...)
}

func run(ctx context.Context, task func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event task panic: %v", r)
		}
	}()
	return task(ctx)
}
