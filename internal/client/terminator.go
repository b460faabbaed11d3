package client

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const maxCloseFD = 256

// Terminate runs after the event loop returns (spec.md §4.7): it either
// execs a user shell command, restores the terminal, prints the exit
// banner, and returns the process exit code.
func Terminate(ctx *Context) int {
	if ctx.ExitType == ExitTypeExec {
		execShellCommand(ctx)
		// execShellCommand only returns on failure.
		fmt.Fprintf(os.Stderr, "dmux: exec failed, exiting\n")
		return 1
	}

	if ctx.ExitType == ExitTypeDetachKill {
		ppid := unix.Getppid()
		if ppid > 1 {
			unix.Kill(ppid, unix.SIGHUP)
		}
	}

	// CONTROLCONTROL is checked first and unconditionally: a control client
	// that reached Attached must still leave through the %exit/ESC\ path
	// (spec.md §8 scenario S6), never the bracket-banner path below.
	if ctx.HasControlControl() {
		if ctx.ExitReason != ExitNone {
			fmt.Printf("%%exit %s", bannerMessage(ctx.ExitReason, ctx.ExitSession))
		} else {
			fmt.Printf("%%exit")
		}
		fmt.Print("\033\\")
		restoreSavedTTY(ctx)
		return ctx.ExitCode
	}

	if ctx.WasAttached() {
		if ctx.ExitReason != ExitNone {
			fmt.Printf("[%s]\n", bannerMessage(ctx.ExitReason, ctx.ExitSession))
		}
		return ctx.ExitCode
	}

	if ctx.ExitReason != ExitNone {
		fmt.Fprintf(os.Stderr, "%s\n", bannerMessage(ctx.ExitReason, ctx.ExitSession))
	}
	return ctx.ExitCode
}

func bannerMessage(reason ExitReason, session string) string {
	switch reason {
	case ExitDetached:
		if session != "" {
			return "detached (from session " + session + ")"
		}
		return "detached"
	case ExitDetachedHup:
		if session != "" {
			return "detached and SIGHUP (from session " + session + ")"
		}
		return "detached and SIGHUP"
	case ExitLostTty:
		return "lost tty"
	case ExitTerminated:
		return "terminated"
	case ExitLostServer:
		return "lost server"
	case ExitExited:
		return "exited"
	case ExitServerExited:
		return "server exited"
	default:
		return ""
	}
}

// execShellCommand replaces the process image with the recorded shell
// running `-c <command>`. argv[0] is the shell's basename, prefixed with
// "-" when FlagLogin is set. Standard streams are restored to blocking mode
// and every descriptor above stderr is closed before the handoff, matching
// the rest of the pack's exec-handoff convention. Only returns on failure.
func execShellCommand(ctx *Context) {
	for _, fd := range []int{0, 1, 2} {
		unix.SetNonblock(fd, false)
	}
	for fd := 3; fd < maxCloseFD; fd++ {
		unix.Close(fd)
	}

	argv := execArgv(ctx)
	_ = unix.Exec(ctx.ExecShell, argv, os.Environ())
}

// execArgv builds the argv unix.Exec hands to the recorded shell: argv[0]
// is the shell's basename, prefixed with "-" when FlagLogin is set, so the
// shell sees itself invoked as a login shell.
func execArgv(ctx *Context) []string {
	argv0 := filepath.Base(ctx.ExecShell)
	if ctx.HasLogin() {
		argv0 = "-" + argv0
	}
	return []string{argv0, "-c", ctx.ExecCommand}
}

func restoreSavedTTY(ctx *Context) {
	if ctx.SavedTTY == nil {
		return
	}
	unix.IoctlSetTermios(int(os.Stdout.Fd()), unix.TCSETS, ctx.SavedTTY)
}
