package client

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ellery/dmux/internal/transport"
)

// SignalBridge registers a single dispatcher for the signals of interest
// (spec.md §4.5) and translates each delivery into either a local action or
// an outgoing control message, depending on whether the client is attached.
//
// Handler bodies only set flags or push onto a buffered channel — exactly
// what os/signal already guarantees is safe — so the actual message sends
// happen on the event loop's goroutine in Handle, never inside a true
// asynchronous signal handler.
type SignalBridge struct {
	ctx  *Context
	conn *transport.Conn
	ch   chan os.Signal
}

// NewSignalBridge installs the handler for CHLD, TERM, HUP, WINCH, CONT.
// CHLD is handled in every state. Attach installs the bridge only after
// SocketBringup and Identify have returned, so a SIGCHLD delivered during
// SocketBringup is not seen; a child left by it is reaped at the next
// SIGCHLD, since reapZombies waits for any child.
func NewSignalBridge(ctx *Context, conn *transport.Conn) *SignalBridge {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch,
		syscall.SIGCHLD,
		syscall.SIGTERM,
		syscall.SIGHUP,
		syscall.SIGWINCH,
		syscall.SIGCONT,
	)
	return &SignalBridge{ctx: ctx, conn: conn, ch: ch}
}

// C is the channel the event loop selects on.
func (b *SignalBridge) C() <-chan os.Signal { return b.ch }

// Stop unregisters the handler.
func (b *SignalBridge) Stop() { signal.Stop(b.ch) }

// Handle translates one delivered signal per spec.md §4.5.
func (b *SignalBridge) Handle(sig os.Signal) error {
	switch sig {
	case syscall.SIGCHLD:
		reapZombies()
		return nil

	case syscall.SIGTERM:
		if b.ctx.State != StateAttached {
			b.ctx.setState(StateExiting)
			return nil
		}
		b.ctx.ExitReason = ExitTerminated
		b.ctx.ExitCode = 1
		return b.sendExiting()

	case syscall.SIGHUP:
		if b.ctx.State != StateAttached {
			return nil
		}
		b.ctx.ExitReason = ExitLostTty
		b.ctx.ExitCode = 1
		return b.sendExiting()

	case syscall.SIGWINCH:
		if b.ctx.State != StateAttached {
			return nil
		}
		return b.sendResize()

	case syscall.SIGCONT:
		if b.ctx.State != StateAttached {
			return nil
		}
		// Ignoring SIGTSTP here is what makes the resumed foreground shell
		// (not us) the one that decides whether to stop again.
		signal.Ignore(syscall.SIGTSTP)
		return b.conn.Send(transport.Wakeup, nil)
	}
	return nil
}

func (b *SignalBridge) sendExiting() error {
	b.ctx.setState(StateExiting)
	return b.conn.Send(transport.Exiting, nil)
}

func (b *SignalBridge) sendResize() error {
	rows, cols, err := getWinsize()
	if err != nil {
		return nil
	}
	payload := make([]byte, 4)
	payload[0] = byte(rows >> 8)
	payload[1] = byte(rows)
	payload[2] = byte(cols >> 8)
	payload[3] = byte(cols)
	return b.conn.Send(transport.Resize, payload)
}

// reapZombies non-blockingly waits for any exited children, draining every
// one currently pending.
func reapZombies() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}
	}
}
