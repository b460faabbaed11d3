package client

import (
	"encoding/binary"
	"os"
	"strconv"

	homedir "github.com/mitchellh/go-homedir"
	"golang.org/x/sys/unix"

	"github.com/ellery/dmux/internal/transport"
)

// Identify sends the ordered identity burst described in spec.md §4.3. The
// server may start using earlier fields before the burst completes but must
// not promote the client to Attached before IdentifyDone arrives.
func Identify(conn *transport.Conn, flags Flag) error {
	if err := conn.Send(transport.IdentifyFlags, encodeUint32(uint32(flags))); err != nil {
		return err
	}
	if err := conn.Send(transport.IdentifyTerm, nulString(os.Getenv("TERM"))); err != nil {
		return err
	}
	if err := conn.Send(transport.IdentifyTtyName, nulString(ttyName())); err != nil {
		return err
	}
	if err := conn.Send(transport.IdentifyCwd, nulString(cwdOrHome())); err != nil {
		return err
	}

	stdinDup, err := unix.Dup(int(os.Stdin.Fd()))
	if err != nil {
		return err
	}
	// The server receives its own copy of the duplicate, so closing the
	// duplicate here, or os.Stdin later, does not invalidate it.
	defer unix.Close(stdinDup)
	if err := conn.SendFD(transport.IdentifyStdin, nil, stdinDup); err != nil {
		return err
	}

	if err := conn.Send(transport.IdentifyClientPid, encodeUint32(uint32(os.Getpid()))); err != nil {
		return err
	}

	for _, kv := range os.Environ() {
		payload := nulString(kv)
		if len(payload) > transport.MaxPayload-64 {
			// Silently skipped per spec.md §4.3.
			continue
		}
		if err := conn.Send(transport.IdentifyEnviron, payload); err != nil {
			return err
		}
	}

	return conn.Send(transport.IdentifyDone, nil)
}

func encodeUint32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

func nulString(s string) []byte {
	return append([]byte(s), 0)
}

// ttyName returns the name of the controlling tty, or "" if stdin is not a
// tty.
func ttyName() string {
	if _, err := unix.IoctlGetTermios(int(os.Stdin.Fd()), unix.TCGETS); err != nil {
		return ""
	}
	name, err := os.Readlink("/proc/self/fd/" + strconv.Itoa(int(os.Stdin.Fd())))
	if err != nil {
		return ""
	}
	return name
}

// cwdOrHome returns the current working directory; if unobtainable, the
// user's home directory; else "/" (spec.md §4.3 IdentifyCwd).
func cwdOrHome() string {
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	if home, err := homedir.Dir(); err == nil {
		return home
	}
	return "/"
}
