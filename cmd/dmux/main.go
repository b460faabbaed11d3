// Command dmux is the client half of a detachable terminal multiplexer: it
// brings up a connection to a named session's server, performs the identify
// handshake, and relays a terminal until the session detaches, the server
// exits, or the user asks to leave (see SPEC_FULL.md).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-errors/errors"
	shellquote "github.com/kballard/go-shellquote"

	"github.com/ellery/dmux/internal/client"
	"github.com/ellery/dmux/internal/config"
)

var (
	flagSession   = flag.String("session", "default", "Name of the session to attach to or create")
	flagSocketDir = flag.String("socket-dir", "", "Directory session sockets live in (overrides DMUX_SOCKET_DIR)")
	flagNoStart   = flag.Bool("no-start", false, "Fail instead of starting a server if none is running")
	flagLogin     = flag.Bool("l", false, "Run the attached shell as a login shell")
	flagControl   = flag.Bool("C", false, "Use the machine-readable %exit/control-control framing")
	flagCommand   = flag.String("c", "", "Shell-quoted command to run inside the session instead of a shell")
	flagVersion   = flag.Bool("version", false, "Show the protocol version and exit")
	flagDebug     = flag.Bool("debug", false, "Enable debug mode (prints debug info to ./log.txt)")
)

func main() {
	flag.Usage = func() {
		fmt.Println("Usage: dmux [OPTIONS] [-- COMMAND [ARGS...]]")
		fmt.Println("")
		fmt.Println("Options:")
		fmt.Println("  -session NAME     Session to attach to or create (default \"default\")")
		fmt.Println("  -socket-dir DIR   Directory session sockets live in")
		fmt.Println("  -no-start         Fail instead of starting a server if none is running")
		fmt.Println("  -l                Run the attached shell as a login shell")
		fmt.Println("  -C                Use the machine-readable %exit/control-control framing")
		fmt.Println("  -c COMMAND        Run shell-quoted COMMAND instead of a shell")
		fmt.Println("  -version          Show the protocol version and exit")
		fmt.Println("  -debug            Enable debug mode (prints debug info to ./log.txt)")
	}
	flag.Parse()

	if *flagVersion {
		fmt.Printf("dmux protocol %d\n", client.ProtocolVersion)
		os.Exit(0)
	}

	if *flagDebug {
		if err := client.EnableDebug("log.txt"); err != nil {
			fmt.Fprintln(os.Stderr, wrap(err))
			os.Exit(1)
		}
	}

	if err := config.InitSocketDir(*flagSocketDir); err != nil {
		fmt.Fprintln(os.Stderr, wrap(err))
		// A missing -socket-dir only warns: InitSocketDir has already
		// fallen back to, and created, the default directory.
		if _, statErr := os.Stat(config.SocketDir); statErr != nil {
			os.Exit(1)
		}
	}

	var flags client.Flag
	if *flagLogin {
		flags |= client.FlagLogin
	}
	if *flagControl {
		flags |= client.FlagControlControl
	}

	argv := flag.Args()
	if *flagCommand != "" {
		words, err := shellquote.Split(*flagCommand)
		if err != nil {
			fmt.Fprintln(os.Stderr, wrap(err))
			os.Exit(1)
		}
		argv = append(words, argv...)
	}

	req := client.Request{
		Argv:        argv,
		SocketPath:  config.SocketPath(*flagSession),
		StartServer: !*flagNoStart,
		Flags:       flags,
		Starter:     startServer,
	}

	os.Exit(client.Attach(req))
}

// startServer would daemonize a fresh multiplexer server and hand back an
// already-connected socket to it; the server half of dmux is out of scope
// here (SPEC_FULL.md Non-goals). SocketBringup still calls this whenever it
// wins the start race, so the only honest thing to do is report that plainly
// instead of silently wedging.
func startServer(lockFD int, lockfilePath string) (*os.File, error) {
	return nil, fmt.Errorf("dmux: no server implementation bundled with this client (lock held at %s)", lockfilePath)
}

// wrap gives a fatal top-level error a stack trace the same way thicc's
// cmd/thicc/micro.go does for its own crash reporting, without thicc's full
// recover()-based crash-report machinery (there is no screen/editor state
// here to tear down first).
func wrap(err error) error {
	return errors.Wrap(err, 1)
}
