// Package fsm holds small helpers around looplab/fsm callbacks.
package fsm

import (
	"context"

	"github.com/looplab/fsm"
)

// WrapEvent adapts a callback that returns an error. A non-nil error is stored on the
// event and returned by fsm.Event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// Callback keys in the looplab/fsm naming scheme.
func EnterState(state string) string  { return "enter_" + state }
func LeaveState(state string) string  { return "leave_" + state }
func BeforeEvent(event string) string { return "before_" + event }
func AfterEvent(event string) string  { return "after_" + event }

// Arg returns the i-th event argument when it has type T.
func Arg[T any](event *fsm.Event, i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(event.Args) {
		return zero, false
	}
	v, ok := event.Args[i].(T)
	return v, ok
}
