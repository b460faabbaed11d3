// Package client implements the client half of the dmux handshake and
// message-dispatch state machine: socket bring-up, identity burst, signal
// translation, stdin relay, and orderly teardown. See SPEC_FULL.md for the
// package boundaries and DESIGN.md for what each file is grounded on.
package client

import (
	"golang.org/x/sys/unix"
)

// Flag is a boolean client mode, set from argv0/CLI flags before Attach.
type Flag uint32

const (
	// FlagLogin means the shell exec'd for -c should see argv0 prefixed
	// with "-", the same as a real login shell.
	FlagLogin Flag = 1 << iota
	// FlagControlControl requests the machine-readable %exit/ESC\ framing
	// used by programmatic front-ends.
	FlagControlControl
)

// State is the client's position in the two-state (plus terminal) machine.
type State int

const (
	StateWait State = iota
	StateAttached
	StateExiting
)

func (s State) String() string {
	switch s {
	case StateWait:
		return "wait"
	case StateAttached:
		return "attached"
	case StateExiting:
		return "exiting"
	default:
		return "unknown"
	}
}

// ExitReason explains why the loop stopped, used to pick the Terminator's
// banner (spec.md §4.7).
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitDetached
	ExitDetachedHup
	ExitLostTty
	ExitTerminated
	ExitLostServer
	ExitExited
	ExitServerExited
)

// ExitType is the last terminal message kind received from the server; it
// selects the Terminator's post-loop action.
type ExitType int

const (
	ExitTypeNone ExitType = iota
	ExitTypeDetach
	ExitTypeDetachKill
	ExitTypeExec
)

// Context is the process-wide client state described in spec.md §3. One
// Context is created at startup and lives until the Terminator returns.
type Context struct {
	Flags Flag

	State State

	ExitReason  ExitReason
	ExitCode    int
	ExitType    ExitType
	ExitSession string // optional, for the Detach/DetachKill banner

	// Populated only when ExitType == ExitTypeExec; read only after the
	// event loop has returned.
	ExecShell   string
	ExecCommand string

	// ParentHup is set when DetachKill requires the parent to receive
	// SIGHUP after the loop exits (spec.md §4.4's DetachKill row).
	ParentHup bool

	// SavedTTY holds the terminal attributes captured before raw mode was
	// entered, present only when FlagControlControl is set; restored
	// exactly once by the Terminator.
	SavedTTY *unix.Termios

	// runID correlates the debug log lines for one client run, grounded on
	// streamsh's per-session uuid short-id convention (SPEC_FULL.md DOMAIN
	// STACK, google/uuid row). Not part of the wire protocol.
	runID string

	// wasAttached records whether the loop ever reached StateAttached, so
	// the Terminator can tell "never attached" apart from "attached then
	// kicked back to Exiting" once State itself has moved to Exiting.
	wasAttached bool
}

func (f Flag) has(bit Flag) bool { return f&bit != 0 }

// HasLogin reports whether the LOGIN flag is set.
func (c *Context) HasLogin() bool { return c.Flags.has(FlagLogin) }

// HasControlControl reports whether CONTROLCONTROL mode was requested.
func (c *Context) HasControlControl() bool { return c.Flags.has(FlagControlControl) }

// setState enforces the Wait -> Attached -> Exiting monotonic ordering
// (spec.md §3 invariants). Wait may jump directly to Exiting.
func (c *Context) setState(next State) {
	if next < c.State && next != StateExiting {
		panic("client: state must advance monotonically")
	}
	if next == StateAttached {
		c.wasAttached = true
	}
	c.debugf("state %s -> %s", c.State, next)
	c.State = next
}

// WasAttached reports whether the loop ever reached StateAttached, even if
// State has since moved on to StateExiting.
func (c *Context) WasAttached() bool { return c.wasAttached }
