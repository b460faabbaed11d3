package client

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ellery/dmux/internal/transport"
)

const stdinBufSize = 4096

// StdinPump is the level-triggered (polled), non-blocking standard-input
// reader of spec.md §4.6. The event loop calls Fire only when the fd is readable and
// the pump is enabled.
type StdinPump struct {
	conn    *transport.Conn
	fd      int
	enabled bool
	buf     []byte
}

// NewStdinPump puts stdin in non-blocking mode and starts the pump enabled
// (the server disables it once it sends Ready).
func NewStdinPump(conn *transport.Conn) (*StdinPump, error) {
	fd := int(os.Stdin.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	return &StdinPump{conn: conn, fd: fd, enabled: true, buf: make([]byte, stdinBufSize)}, nil
}

// FD is the descriptor the event loop polls.
func (p *StdinPump) FD() int { return p.fd }

// Enabled reports whether the loop should include FD() in its poll set.
func (p *StdinPump) Enabled() bool { return p.enabled }

// Enable re-arms the pump in response to a server flow-control frame.
func (p *StdinPump) Enable() { p.enabled = true }

// Disable arms down the pump, either because the server asked to pause
// input or because EOF/a hard error was already reported.
func (p *StdinPump) Disable() { p.enabled = false }

// Fire reads one buffer's worth of stdin and forwards it. On EOF or a hard
// read error it sends a terminator frame (size <= 0) and disables itself;
// the server may later re-enable the pump via a Stdin control frame.
func (p *StdinPump) Fire() error {
	n, err := unix.Read(p.fd, p.buf)
	if err != nil {
		if err == unix.EINTR || err == unix.EAGAIN {
			return nil
		}
		p.enabled = false
		return p.conn.Send(transport.Stdin, encodeStdinFrame(0, nil))
	}
	if n <= 0 {
		p.enabled = false
		return p.conn.Send(transport.Stdin, encodeStdinFrame(0, nil))
	}
	return p.conn.Send(transport.Stdin, encodeStdinFrame(n, p.buf[:n]))
}

func encodeStdinFrame(size int, data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out[0:4], uint32(size))
	copy(out[4:], data)
	return out
}
