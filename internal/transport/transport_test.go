package transport

import (
	"io"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unixSocketPair returns two connected transport.Conns backed by a real
// Unix-domain socket (needed for fd passing, which net.Pipe cannot carry).
func unixSocketPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	path := t.TempDir() + "/pair.sock"

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

	return New(clientConn), New(r.uc)
}

func TestSendRecv_RoundTrip(t *testing.T) {
	a, b := unixSocketPair(t)
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Send(Stdout, []byte("hello")))

	frame, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, Stdout, frame.Type)
	assert.Equal(t, []byte("hello"), frame.Payload)
}

func TestSendRecv_EmptyPayload(t *testing.T) {
	a, b := unixSocketPair(t)
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Send(IdentifyDone, nil))

	frame, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, IdentifyDone, frame.Type)
	assert.Empty(t, frame.Payload)
}

func TestRecv_EOFOnClose(t *testing.T) {
	a, b := unixSocketPair(t)
	defer b.Close()

	a.Close()

	_, err := b.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestSend_RejectsOversizePayload(t *testing.T) {
	a, b := unixSocketPair(t)
	defer a.Close()
	defer b.Close()

	err := a.Send(Stdin, make([]byte, MaxPayload+1))
	assert.Error(t, err)
}

func TestSendFD_CarriesDescriptor(t *testing.T) {
	a, b := unixSocketPair(t)
	defer a.Close()
	defer b.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, a.SendFD(IdentifyStdin, nil, int(r.Fd())))

	frame, fd, err := b.RecvFD()
	require.NoError(t, err)
	assert.Equal(t, IdentifyStdin, frame.Type)
	require.NotEqual(t, -1, fd)
	passed := os.NewFile(uintptr(fd), "passed")
	defer passed.Close()

	// Prove it is a working duplicate of the read end: write into w, read
	// the byte back out through the passed fd.
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	buf := make([]byte, 1)
	n, err := passed.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte('x'), buf[0])
}

func TestRecvFD_NoDescriptorWhenNoneSent(t *testing.T) {
	a, b := unixSocketPair(t)
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Send(Resize, []byte{0, 24, 0, 80}))

	frame, fd, err := b.RecvFD()
	require.NoError(t, err)
	assert.Equal(t, Resize, frame.Type)
	assert.Equal(t, -1, fd)
}
