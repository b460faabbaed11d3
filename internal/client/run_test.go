package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellery/dmux/internal/testserver"
	"github.com/ellery/dmux/internal/transport"
)

// TestRun_AttachThenServerDetaches drives one full lifecycle against
// internal/testserver: identify, a Shell request, the server's Ready, and a
// Detach a moment later (spec.md §8 scenario S1 in miniature).
func TestRun_AttachThenServerDetaches(t *testing.T) {
	srv := testserver.New(t)

	ctx := &Context{}
	clientErrCh := make(chan error, 1)
	var conn *transport.Conn

	connectedCh := make(chan struct{})
	go func() {
		uc, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: srv.SocketPath, Net: "unix"})
		if err != nil {
			clientErrCh <- err
			return
		}
		defer uc.Close()
		conn = transport.New(uc)
		close(connectedCh)

		if err := Identify(conn, 0); err != nil {
			clientErrCh <- err
			return
		}
		if err := conn.Send(transport.Shell, nil); err != nil {
			clientErrCh <- err
			return
		}

		stdin, err := NewStdinPump(conn)
		if err != nil {
			clientErrCh <- err
			return
		}
		sigs := NewSignalBridge(ctx, conn)
		defer sigs.Stop()

		clientErrCh <- Run(ctx, conn, stdin, sigs)
	}()

	srv.Accept()
	srv.ReadIdentifyBurst()
	shellFrame := srv.ReadFrame()
	require.Equal(t, transport.Shell, shellFrame.Type)

	srv.Send(transport.Ready, nil)
	resizeFrame := srv.ReadFrame()
	require.Equal(t, transport.Resize, resizeFrame.Type)

	srv.Send(transport.Detach, append([]byte("main"), 0))

	select {
	case err := <-clientErrCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Detach")
	}

	assert.Equal(t, StateExiting, ctx.State)
	assert.Equal(t, ExitDetached, ctx.ExitReason)
	assert.Equal(t, ExitTypeDetach, ctx.ExitType)
	assert.Equal(t, "main", ctx.ExitSession)
	assert.True(t, ctx.WasAttached())
}

// TestRun_LostServerReportsExitReason covers the EOF path (spec.md §7):
// the server disappearing mid-session must not hang the loop.
func TestRun_LostServerReportsExitReason(t *testing.T) {
	srv := testserver.New(t)

	ctx := &Context{}
	clientErrCh := make(chan error, 1)

	go func() {
		uc, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: srv.SocketPath, Net: "unix"})
		if err != nil {
			clientErrCh <- err
			return
		}
		defer uc.Close()
		conn := transport.New(uc)

		if err := Identify(conn, 0); err != nil {
			clientErrCh <- err
			return
		}
		if err := conn.Send(transport.Shell, nil); err != nil {
			clientErrCh <- err
			return
		}

		stdin, err := NewStdinPump(conn)
		if err != nil {
			clientErrCh <- err
			return
		}
		sigs := NewSignalBridge(ctx, conn)
		defer sigs.Stop()

		clientErrCh <- Run(ctx, conn, stdin, sigs)
	}()

	srv.Accept()
	srv.ReadIdentifyBurst()
	srv.ReadFrame()
	srv.Close()

	select {
	case err := <-clientErrCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after server went away")
	}

	assert.Equal(t, StateExiting, ctx.State)
	assert.Equal(t, ExitLostServer, ctx.ExitReason)
	assert.Equal(t, 1, ctx.ExitCode)
}
