package client

import (
	"net"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestBringup_NameTooLong(t *testing.T) {
	path := strings.Repeat("a", 2048)
	_, err := Bringup(path, false, nil)
	assert.Equal(t, ErrNameTooLong, err)
}

func TestBringup_NoServerRunningWithoutStartServer(t *testing.T) {
	path := t.TempDir() + "/nothing-here.sock"
	_, err := Bringup(path, false, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no server running")
}

func TestBringup_ConnectsToExistingListener(t *testing.T) {
	path := t.TempDir() + "/existing.sock"
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		uc, err := ln.AcceptUnix()
		if err == nil {
			defer uc.Close()
		}
	}()

	conn, err := Bringup(path, false, nil)
	require.NoError(t, err)
	defer conn.Close()
}

func TestBringup_StartsServerWhenNoneRunning(t *testing.T) {
	path := t.TempDir() + "/start-race.sock"

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	serverSide := os.NewFile(uintptr(fds[0]), "server-side")
	clientSide := os.NewFile(uintptr(fds[1]), "client-side")
	defer serverSide.Close()

	var starterCalled bool
	starter := func(lockFD int, lockfilePath string) (*os.File, error) {
		starterCalled = true
		assert.NotEqual(t, -1, lockFD)
		assert.Contains(t, lockfilePath, "start-race.sock.lock")
		return clientSide, nil
	}

	conn, err := Bringup(path, true, starter)
	require.NoError(t, err)
	defer conn.Close()

	assert.True(t, starterCalled)
}
