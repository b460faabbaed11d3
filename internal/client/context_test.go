package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlags_HasLoginAndControlControl(t *testing.T) {
	ctx := &Context{Flags: FlagLogin}
	assert.True(t, ctx.HasLogin())
	assert.False(t, ctx.HasControlControl())

	ctx.Flags |= FlagControlControl
	assert.True(t, ctx.HasControlControl())
}

func TestSetState_MonotonicAdvance(t *testing.T) {
	ctx := &Context{}
	assert.Equal(t, StateWait, ctx.State)

	ctx.setState(StateAttached)
	assert.Equal(t, StateAttached, ctx.State)
	assert.True(t, ctx.WasAttached())

	ctx.setState(StateExiting)
	assert.Equal(t, StateExiting, ctx.State)
}

func TestSetState_WaitCanJumpStraightToExiting(t *testing.T) {
	ctx := &Context{}
	ctx.setState(StateExiting)
	assert.Equal(t, StateExiting, ctx.State)
	assert.False(t, ctx.WasAttached())
}

func TestSetState_PanicsOnBackwardsTransition(t *testing.T) {
	ctx := &Context{State: StateAttached}
	assert.Panics(t, func() {
		ctx.setState(StateWait)
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "wait", StateWait.String())
	assert.Equal(t, "attached", StateAttached.String())
	assert.Equal(t, "exiting", StateExiting.String())
}
