package client

import (
	"io"
	"net"

	"golang.org/x/sys/unix"

	"github.com/ellery/dmux/internal/transport"
)

// pollTimeoutMs bounds how long the loop can go without checking for a
// delivered signal; spec.md §5 has no built-in timeouts, this only stands
// in for true self-pipe integration so os/signal's channel delivery (which
// Poll cannot itself wait on) gets noticed promptly.
const pollTimeoutMs = 200

// Run is the central event loop (spec.md §5): it multiplexes the
// transport, standard input, and signal delivery until ctx reaches
// StateExiting. Everything between two events happens synchronously on this
// one goroutine — the feeder of "events" here is unix.Poll plus a
// non-blocking drain of the signal channel, not separate worker goroutines,
// so Dispatch/Handle/Fire are always serialized in the call order spec.md
// §5 requires. A non-nil return is a protocol violation or unrecoverable
// transport error (spec.md §7); the caller runs Terminate only after a nil
// return.
func Run(ctx *Context, conn *transport.Conn, stdin *StdinPump, sigs *SignalBridge) error {
	sm := NewStateMachine(ctx, conn, stdin)

	connFD, err := socketFD(conn.Raw())
	if err != nil {
		return err
	}

	pollFDs := make([]unix.PollFd, 0, 2)

	for ctx.State != StateExiting {
		if err := drainSignals(ctx, sigs); err != nil {
			return err
		}
		if ctx.State == StateExiting {
			break
		}

		pollFDs = pollFDs[:0]
		pollFDs = append(pollFDs, unix.PollFd{Fd: int32(connFD), Events: unix.POLLIN})
		if stdin.Enabled() {
			pollFDs = append(pollFDs, unix.PollFd{Fd: int32(stdin.FD()), Events: unix.POLLIN})
		}

		n, err := unix.Poll(pollFDs, pollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n <= 0 {
			continue
		}

		for _, pfd := range pollFDs {
			if pfd.Revents == 0 {
				continue
			}
			switch int(pfd.Fd) {
			case connFD:
				if err := handleConnReadable(ctx, conn, sm); err != nil {
					return err
				}
			case stdin.FD():
				// A Ready handled earlier in this same round may have
				// disabled the pump after the poll set was built.
				if !stdin.Enabled() {
					continue
				}
				if err := stdin.Fire(); err != nil {
					return err
				}
			}
			if ctx.State == StateExiting {
				break
			}
		}
	}

	return nil
}

func handleConnReadable(ctx *Context, conn *transport.Conn, sm *StateMachine) error {
	frame, err := conn.Recv()
	if err != nil {
		if err == io.EOF {
			ctx.ExitReason = ExitLostServer
			ctx.ExitCode = 1
			ctx.setState(StateExiting)
			return nil
		}
		return err
	}
	return sm.Dispatch(frame)
}

func drainSignals(ctx *Context, sigs *SignalBridge) error {
	for {
		select {
		case sig := <-sigs.C():
			if err := sigs.Handle(sig); err != nil {
				return err
			}
			if ctx.State == StateExiting {
				return nil
			}
		default:
			return nil
		}
	}
}

// socketFD extracts the underlying file descriptor of a connected Unix
// socket for use with unix.Poll, without duplicating or otherwise
// disturbing the net.UnixConn's ownership of it.
func socketFD(uc *net.UnixConn) (int, error) {
	rawConn, err := uc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	ctrlErr := rawConn.Control(func(f uintptr) {
		fd = int(f)
	})
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}
