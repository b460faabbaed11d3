package client

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/ellery/dmux/internal/transport"
)

// ProtocolVersion is this client's wire-protocol version, printed next to
// the server's version when a Version message arrives (spec.md §8 scenario
// S2). Any Version message is treated as a mismatch; the values are not
// compared.
const ProtocolVersion = 8

// ProtocolError is returned for a frame whose payload shape disagrees with
// its type. Per spec.md §7 these are programming bugs, not recoverable.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "dmux: protocol violation: " + e.Msg }

// StateMachine is the two-state (plus terminal) dispatcher of spec.md §4.4.
type StateMachine struct {
	ctx   *Context
	conn  *transport.Conn
	stdin *StdinPump
}

// NewStateMachine builds a dispatcher bound to ctx, conn, and the stdin
// pump it enables/disables in response to Ready and flow-control frames.
func NewStateMachine(ctx *Context, conn *transport.Conn, stdin *StdinPump) *StateMachine {
	return &StateMachine{ctx: ctx, conn: conn, stdin: stdin}
}

// Dispatch interprets one inbound frame and mutates ctx accordingly. A
// non-nil error is always a ProtocolError or an I/O error from sending a
// reply; both are fatal for the caller's event loop.
func (sm *StateMachine) Dispatch(f *transport.Frame) error {
	if sm.ctx.State == StateAttached {
		return sm.dispatchAttached(f)
	}
	return sm.dispatchWait(f)
}

func (sm *StateMachine) dispatchWait(f *transport.Frame) error {
	switch f.Type {
	case transport.Exit:
		if len(f.Payload) == 4 {
			sm.ctx.ExitCode = int(int32(binary.BigEndian.Uint32(f.Payload)))
		} else if len(f.Payload) != 0 {
			return &ProtocolError{Msg: "Exit: bad payload length"}
		}
		sm.ctx.setState(StateExiting)
		return nil

	case transport.Shutdown:
		if len(f.Payload) == 4 {
			sm.ctx.ExitCode = int(int32(binary.BigEndian.Uint32(f.Payload)))
		} else if len(f.Payload) != 0 {
			return &ProtocolError{Msg: "Shutdown: bad payload length"}
		}
		sm.ctx.ExitReason = ExitServerExited
		sm.ctx.setState(StateExiting)
		return nil

	case transport.Ready:
		if len(f.Payload) != 0 {
			return &ProtocolError{Msg: "Ready: expected empty payload"}
		}
		sm.stdin.Disable()
		sm.ctx.setState(StateAttached)
		return sm.sendResize()

	case transport.Stdin:
		if len(f.Payload) != 0 {
			return &ProtocolError{Msg: "Stdin (flow control): expected empty payload"}
		}
		sm.stdin.Enable()
		return nil

	case transport.Stdout:
		return writeRetrying(os.Stdout, f.Payload)

	case transport.Stderr:
		return writeRetrying(os.Stderr, f.Payload)

	case transport.Version:
		if len(f.Payload) != 4 {
			return &ProtocolError{Msg: "Version: bad payload length"}
		}
		serverVersion := binary.BigEndian.Uint32(f.Payload)
		fmt.Fprintf(os.Stderr, "protocol version mismatch (client %d, server %d)\n",
			ProtocolVersion, serverVersion)
		sm.ctx.ExitCode = 1
		sm.ctx.setState(StateExiting)
		return nil

	case transport.ShellReply:
		shellPath, ok := trimOneNul(f.Payload)
		if !ok {
			return &ProtocolError{Msg: "Shell: missing NUL terminator"}
		}
		sm.ctx.ExecShell = shellPath
		sm.ctx.ExitType = ExitTypeExec
		sm.ctx.setState(StateExiting)
		return nil

	case transport.Detach, transport.DetachKill:
		// Unusual while still in Wait, but accepted: just acknowledge.
		return sm.sendExiting()

	case transport.Exited:
		sm.ctx.setState(StateExiting)
		return nil

	default:
		return &ProtocolError{Msg: fmt.Sprintf("unexpected frame type %d in Wait", f.Type)}
	}
}

func (sm *StateMachine) dispatchAttached(f *transport.Frame) error {
	switch f.Type {
	case transport.Detach:
		name, ok := trimOneNul(f.Payload)
		if !ok {
			return &ProtocolError{Msg: "Detach: missing NUL terminator"}
		}
		sm.ctx.ExitSession = name
		sm.ctx.ExitType = ExitTypeDetach
		sm.ctx.ExitReason = ExitDetached
		return sm.sendExiting()

	case transport.DetachKill:
		name, ok := trimOneNul(f.Payload)
		if !ok {
			return &ProtocolError{Msg: "DetachKill: missing NUL terminator"}
		}
		sm.ctx.ExitSession = name
		sm.ctx.ExitType = ExitTypeDetachKill
		sm.ctx.ExitReason = ExitDetachedHup
		sm.ctx.ParentHup = true
		return sm.sendExiting()

	case transport.Exec:
		cmd, shell, err := decodeExecPayload(f.Payload)
		if err != nil {
			return &ProtocolError{Msg: "Exec: " + err.Error()}
		}
		sm.ctx.ExecCommand = cmd
		sm.ctx.ExecShell = shell
		sm.ctx.ExitType = ExitTypeExec
		return sm.sendExiting()

	case transport.Exit:
		if len(f.Payload) == 4 {
			sm.ctx.ExitCode = int(int32(binary.BigEndian.Uint32(f.Payload)))
		} else if len(f.Payload) != 0 {
			return &ProtocolError{Msg: "Exit: bad payload length"}
		}
		// Open question in spec.md §9: exit_reason is set unconditionally
		// here even when a non-zero code was supplied. Mirrored verbatim.
		sm.ctx.ExitReason = ExitExited
		return sm.sendExiting()

	case transport.Exited:
		sm.ctx.setState(StateExiting)
		return nil

	case transport.Shutdown:
		sm.ctx.ExitReason = ExitServerExited
		sm.ctx.ExitCode = 1
		return sm.sendExiting()

	case transport.Suspend:
		// Restore default disposition for the job-stop signal, then
		// self-send it; the Cont handler ignores SIGTSTP on resumption.
		signal.Reset(unix.SIGTSTP)
		unix.Kill(os.Getpid(), unix.SIGTSTP)
		return nil

	case transport.Lock:
		command, ok := trimOneNul(f.Payload)
		if !ok {
			return &ProtocolError{Msg: "Lock: missing NUL terminator"}
		}
		runLockCommand(command)
		return sm.conn.Send(transport.Unlock, nil)

	default:
		return &ProtocolError{Msg: fmt.Sprintf("unexpected frame type %d in Attached", f.Type)}
	}
}

func (sm *StateMachine) sendExiting() error {
	sm.ctx.setState(StateExiting)
	return sm.conn.Send(transport.Exiting, nil)
}

func (sm *StateMachine) sendResize() error {
	rows, cols, err := getWinsize()
	if err != nil {
		rows, cols = 24, 80
	}
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], uint16(rows))
	binary.BigEndian.PutUint16(payload[2:4], uint16(cols))
	return sm.conn.Send(transport.Resize, payload)
}

func getWinsize() (rows, cols int, err error) {
	ws, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, err
	}
	return int(ws.Row), int(ws.Col), nil
}

// trimOneNul strips exactly one trailing NUL byte and reports whether one
// was present.
func trimOneNul(b []byte) (string, bool) {
	if len(b) == 0 || b[len(b)-1] != 0 {
		return "", false
	}
	return string(b[:len(b)-1]), true
}

// decodeExecPayload parses an Exec frame's two back-to-back NUL-terminated
// strings (the command, then the shell). Both must be non-empty and the
// payload must end in NUL; this preserves the `strlen(data) == datalen - 1`
// check from spec.md §9, which rejects a payload containing only one
// string.
func decodeExecPayload(p []byte) (cmd, shell string, err error) {
	if len(p) == 0 || p[len(p)-1] != 0 {
		return "", "", fmt.Errorf("missing trailing NUL")
	}
	idx := -1
	for i, b := range p {
		if b == 0 {
			idx = i
			break
		}
	}
	if idx < 0 || idx == len(p)-1 {
		return "", "", fmt.Errorf("payload contains only one string")
	}
	cmd = string(p[:idx])
	rest := p[idx+1:]
	if len(rest) < 2 {
		return "", "", fmt.Errorf("shell string missing or empty")
	}
	for _, b := range rest[:len(rest)-1] {
		if b == 0 {
			return "", "", fmt.Errorf("shell string contains embedded NUL")
		}
	}
	shell = string(rest[:len(rest)-1])
	if cmd == "" || shell == "" {
		return "", "", fmt.Errorf("empty command or shell")
	}
	return cmd, shell, nil
}

// writeRetrying writes b to w, retrying on interrupted or would-block
// errors and silently giving up on anything else (the terminal may already
// be gone).
func writeRetrying(w *os.File, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if n > 0 {
			b = b[n:]
		}
		if err == nil {
			continue
		}
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		return nil
	}
	return nil
}

// runLockCommand runs a server-supplied command through the host's command
// interpreter (spec.md §4.4's Lock row), best effort: "sh -c <command>",
// so pipes, redirection, globbing, and $VAR expansion all behave the way a
// shell command is supposed to, not just a bare argv split.
func runLockCommand(command string) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	_ = cmd.Run()
}
