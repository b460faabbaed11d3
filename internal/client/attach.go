package client

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ellery/dmux/internal/transport"
)

// Request is what the command-parser collaborator (spec.md §6) hands the
// client: either a Command argv to run inside the session, or a bare
// request for an interactive shell.
type Request struct {
	Argv        []string // nil/empty means "Shell"
	SocketPath  string
	StartServer bool
	Flags       Flag
	Starter     ServerStarter
}

// Attach runs one full client lifecycle: SocketBringup, raw-mode entry,
// Identify, the first Command/Shell frame, the event loop, and Terminate.
// It returns the process exit code. Grounded on thicc client.go's
// Connect()+Run() pair, generalized from THICC's single Hello/Welcome
// exchange to the ordered identify burst and two-state dispatcher spec.md
// describes.
func Attach(req Request) int {
	ctx := &Context{Flags: req.Flags}

	conn, err := Bringup(req.SocketPath, req.StartServer, req.Starter)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer conn.Close()

	origTermios, rawErr := makeRaw(os.Stdin.Fd())
	if rawErr == nil {
		if ctx.HasControlControl() {
			saved := *origTermios
			ctx.SavedTTY = &saved
		}
	}

	if err := Identify(conn, ctx.Flags); err != nil {
		restoreIfNotControl(ctx, origTermios)
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if err := sendFirstRequest(conn, req.Argv); err != nil {
		restoreIfNotControl(ctx, origTermios)
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	stdin, err := NewStdinPump(conn)
	if err != nil {
		restoreIfNotControl(ctx, origTermios)
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	sigs := NewSignalBridge(ctx, conn)
	defer sigs.Stop()

	if runErr := Run(ctx, conn, stdin, sigs); runErr != nil {
		// Fatal: protocol violation or unrecoverable transport error
		// (spec.md §7). Restore whichever termios we saved, unconditionally,
		// and skip the normal Terminate banner/exec path.
		if origTermios != nil {
			unix.IoctlSetTermios(int(os.Stdin.Fd()), unix.TCSETS, origTermios)
		}
		fmt.Fprintln(os.Stderr, runErr)
		return 1
	}

	restoreIfNotControl(ctx, origTermios)
	return Terminate(ctx)
}

// sendFirstRequest sends the first outgoing payload after the identify
// burst (spec.md §6): Command with packed argv, or an empty Shell request.
func sendFirstRequest(conn *transport.Conn, argv []string) error {
	if len(argv) == 0 {
		return conn.Send(transport.Shell, nil)
	}
	var packed []byte
	for _, a := range argv {
		packed = append(packed, []byte(a)...)
		packed = append(packed, 0)
	}
	if len(packed) > transport.MaxPayload-8 {
		return fmt.Errorf("command too long")
	}
	payload := make([]byte, 4+len(packed))
	payload[0] = byte(len(argv) >> 24)
	payload[1] = byte(len(argv) >> 16)
	payload[2] = byte(len(argv) >> 8)
	payload[3] = byte(len(argv))
	copy(payload[4:], packed)
	return conn.Send(transport.Command, payload)
}

func makeRaw(fd uintptr) (*unix.Termios, error) {
	termios, err := unix.IoctlGetTermios(int(fd), unix.TCGETS)
	if err != nil {
		return nil, err
	}
	saved := *termios

	raw := *termios
	raw.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	raw.Oflag &^= unix.OPOST
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cflag &^= unix.CSIZE | unix.PARENB
	raw.Cflag |= unix.CS8
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(int(fd), unix.TCSETS, &raw); err != nil {
		return nil, err
	}
	return &saved, nil
}

// restoreIfNotControl restores the original termios immediately, unless
// CONTROLCONTROL is in effect — in that mode the Terminator itself restores
// ctx.SavedTTY after emitting the ESC \ sequence, so restoring here would
// race the banner framing.
func restoreIfNotControl(ctx *Context, origTermios *unix.Termios) {
	if origTermios == nil || ctx.HasControlControl() {
		return
	}
	unix.IoctlSetTermios(int(os.Stdin.Fd()), unix.TCSETS, origTermios)
}
