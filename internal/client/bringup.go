package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ellery/dmux/internal/transport"
)

// ErrNameTooLong is returned when the socket path exceeds what a Unix
// address can hold.
var ErrNameTooLong = errors.New("dmux: socket path too long")

// ServerStarter is the collaborator from spec.md §6: given the held lock fd
// and the lockfile path, it daemonizes a fresh server and returns an
// already-connected socket to it. The real implementation lives in the
// server half of dmux, out of scope here (spec.md §1); callers that never
// need to start a server (start_server == false) may pass nil.
type ServerStarter func(lockFD int, lockfilePath string) (*os.File, error)

// Bringup implements SocketBringup (spec.md §4.1): connect to the server's
// socket, or — if permitted — win the cooperative start-race and spawn one.
func Bringup(path string, startServer bool, starter ServerStarter) (*transport.Conn, error) {
	if len(path) >= len(unix.RawSockaddrUnix{}.Path) {
		return nil, ErrNameTooLong
	}

	var (
		lockFile *os.File
		locked   bool
	)
	defer func() {
		if lockFile != nil {
			unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
			lockFile.Close()
		}
	}()

	for {
		uc, err := dial(path)
		if err == nil {
			return transport.New(uc), nil
		}
		if !isRefusedOrMissing(err) {
			return nil, err
		}
		if !startServer {
			return nil, fmt.Errorf("no server running on %s", path)
		}

		if !locked {
			lockPath := path + ".lock"
			f, openErr := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
			if openErr != nil {
				// Best effort: proceed without a lock and retry the connect.
				continue
			}
			if flockErr := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); flockErr == nil {
				lockFile = f
				locked = true
				// Mandatory extra retry: between our failed connect and
				// this flock, another client may have already started and
				// released a server. Retrying here avoids a duplicate.
				continue
			}
			// Someone else holds the lock: wait for them to finish
			// bringing the server up, then retry our own connect.
			if flockErr := unix.Flock(int(f.Fd()), unix.LOCK_EX); flockErr != nil {
				f.Close()
				return nil, flockErr
			}
			unix.Flock(int(f.Fd()), unix.LOCK_UN)
			f.Close()
			continue
		}

		// We hold the lock and the connect still failed: we are the one
		// that starts the server.
		os.Remove(path) // tolerate NotFound
		if starter == nil {
			return nil, fmt.Errorf("no server running on %s", path)
		}
		sockFile, startErr := starter(int(lockFile.Fd()), lockFile.Name())
		if startErr != nil {
			return nil, startErr
		}
		uc2, convErr := net.FileConn(sockFile)
		sockFile.Close()
		if convErr != nil {
			return nil, convErr
		}
		unixConn, ok := uc2.(*net.UnixConn)
		if !ok {
			uc2.Close()
			return nil, fmt.Errorf("dmux: server-start fd is not a unix socket")
		}
		return transport.New(unixConn), nil
	}
}

func dial(path string) (*net.UnixConn, error) {
	addr := &net.UnixAddr{Name: path, Net: "unix"}
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("dmux: unexpected connection type for %s", addr.Name)
	}
	rawConn, err := uc.SyscallConn()
	if err == nil {
		rawConn.Control(func(fd uintptr) {
			unix.SetNonblock(int(fd), true)
		})
	}
	return uc, nil
}

func isRefusedOrMissing(err error) bool {
	return errors.Is(err, unix.ECONNREFUSED) || errors.Is(err, unix.ENOENT) ||
		errors.Is(err, os.ErrNotExist)
}
