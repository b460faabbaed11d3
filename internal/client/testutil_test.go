package client

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ellery/dmux/internal/transport"
)

// connPair returns two connected transport.Conns over a real Unix-domain
// socket, one side standing in for the client under test and the other for
// a scripted peer.
func connPair(t *testing.T) (*transport.Conn, *transport.Conn) {
	t.Helper()
	path := t.TempDir() + "/client-test.sock"

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	defer ln.Close()

	type result struct {
		uc  *net.UnixConn
		err error
	}
	acceptCh := make(chan result, 1)
	go func() {
		uc, err := ln.AcceptUnix()
		acceptCh <- result{uc, err}
	}()

	clientConn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)

	r := <-acceptCh
	require.NoError(t, r.err)

	return transport.New(clientConn), transport.New(r.uc)
}
