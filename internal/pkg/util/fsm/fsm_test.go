package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/looplab/fsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapEventCancels(t *testing.T) {
	guard := errors.New("door locked")
	var entered []string

	m := fsm.NewFSM("closed",
		fsm.Events{
			{Name: "open", Src: []string{"closed"}, Dst: "open"},
			{Name: "close", Src: []string{"open"}, Dst: "closed"},
		},
		fsm.Callbacks{
			BeforeEvent("open"): WrapEvent(func(_ context.Context, e *fsm.Event) error {
				if locked, ok := Arg[bool](e, 0); ok && locked {
					e.Cancel(guard)
				}
				return nil
			}),
			EnterState("open"): WrapEvent(func(_ context.Context, e *fsm.Event) error {
				entered = append(entered, e.Dst)
				return nil
			}),
		},
	)

	err := m.Event(context.Background(), "open", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), guard.Error())
	assert.Equal(t, "closed", m.Current())

	require.NoError(t, m.Event(context.Background(), "open", false))
	assert.Equal(t, "open", m.Current())
	assert.Equal(t, []string{"open"}, entered)
}

func TestArg(t *testing.T) {
	e := &fsm.Event{Args: []any{errors.New("boom"), 3}}

	err, ok := Arg[error](e, 0)
	require.True(t, ok)
	assert.EqualError(t, err, "boom")

	n, ok := Arg[int](e, 1)
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = Arg[string](e, 1)
	assert.False(t, ok)
	_, ok = Arg[int](e, 5)
	assert.False(t, ok)
}

func TestCallbackKeys(t *testing.T) {
	assert.Equal(t, "enter_idle", EnterState("idle"))
	assert.Equal(t, "leave_idle", LeaveState("idle"))
	assert.Equal(t, "before_fail", BeforeEvent("fail"))
	assert.Equal(t, "after_fail", AfterEvent("fail"))
}
