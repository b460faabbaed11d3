// Package testserver is a minimal in-process stand-in for the multiplexer
// server, used only to drive internal/client's tests end-to-end (spec.md §8
// scenarios) without a real server implementation, which is out of scope
// (spec.md §1). It is not part of the shipped dmux client.
package testserver

import (
	"net"
	"testing"

	"github.com/ellery/dmux/internal/transport"
)

// Fake accepts exactly one client connection and lets a test script frames
// at it / read frames off it, the same accept-then-relay shape as thicc's
// server.go, trimmed down to bare protocol plumbing.
type Fake struct {
	t          testing.TB
	ln         *net.UnixListener
	SocketPath string
	conn       *transport.Conn
	StdinFD    int
}

// New creates a listening socket at a fresh path under t.TempDir().
func New(t testing.TB) *Fake {
	t.Helper()
	path := t.TempDir() + "/dmux-test.sock"
	addr := &net.UnixAddr{Name: path, Net: "unix"}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		t.Fatalf("testserver: listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return &Fake{t: t, ln: ln, SocketPath: path, StdinFD: -1}
}

// Accept blocks for the client's connection.
func (f *Fake) Accept() {
	f.t.Helper()
	conn, err := f.ln.AcceptUnix()
	if err != nil {
		f.t.Fatalf("testserver: accept: %v", err)
	}
	f.conn = transport.New(conn)
}

// ReadIdentifyBurst reads frames until (and including) IdentifyDone,
// capturing the fd attached to IdentifyStdin into f.StdinFD.
func (f *Fake) ReadIdentifyBurst() []*transport.Frame {
	f.t.Helper()
	var frames []*transport.Frame
	for {
		frame, fd, err := f.conn.RecvFD()
		if err != nil {
			f.t.Fatalf("testserver: recv identify burst: %v", err)
		}
		if fd >= 0 {
			f.StdinFD = fd
		}
		frames = append(frames, frame)
		if frame.Type == transport.IdentifyDone {
			return frames
		}
	}
}

// ReadFrame reads a single non-identify frame (e.g. the client's first
// Command/Shell request, or an Exiting/Resize/Unlock reply).
func (f *Fake) ReadFrame() *transport.Frame {
	f.t.Helper()
	frame, err := f.conn.Recv()
	if err != nil {
		f.t.Fatalf("testserver: recv: %v", err)
	}
	return frame
}

// Send writes one frame to the client.
func (f *Fake) Send(typ transport.Type, payload []byte) {
	f.t.Helper()
	if err := f.conn.Send(typ, payload); err != nil {
		f.t.Fatalf("testserver: send: %v", err)
	}
}

// Close closes the accepted connection (simulating the server vanishing).
func (f *Fake) Close() {
	if f.conn != nil {
		f.conn.Close()
	}
}
