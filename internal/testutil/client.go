package testutil

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/tank2d/masterserver/internal/protocol"
)

// ControlClient is a line-protocol test client for gateway integration
// testing. It sends typed envelopes and reads typed replies.
type ControlClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

// NewControlClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected ControlClient or fails the test.
func NewControlClient(t *testing.T, addr string) *ControlClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return &ControlClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
		t:      t,
	}
}

// Send encodes msg and writes it as one line.
func (c *ControlClient) Send(msg protocol.Message) {
	c.t.Helper()

	line, err := protocol.Encode(msg)
	if err != nil {
		c.t.Fatalf("encoding %T: %v", msg, err)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		c.t.Fatalf("sending %T: %v", msg, err)
	}
}

// SendRaw writes a raw line, for exercising the malformed-input path.
func (c *ControlClient) SendRaw(line string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("sending raw line: %v", err)
	}
}

// Read returns the next envelope from the server, whatever its type.
func (c *ControlClient) Read(timeout time.Duration) protocol.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		c.t.Fatalf("reading envelope: %v", err)
	}
	msg, err := protocol.Decode(line)
	if err != nil {
		c.t.Fatalf("decoding envelope %q: %v", line, err)
	}
	return msg
}

// Expect reads envelopes until one of the wanted type arrives, skipping
// pushes of other types (room updates can interleave with replies).
func (c *ControlClient) Expect(want protocol.Type, timeout time.Duration) protocol.Message {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if !time.Now().Before(deadline) {
			c.t.Fatalf("no envelope of type %d within %s", want, timeout)
		}
		msg := c.Read(time.Until(deadline))
		if msg.MessageType() == want {
			return msg
		}
		c.t.Logf("skipping envelope of type %d while waiting for %d", msg.MessageType(), want)
	}
}

// Close closes the underlying connection immediately, simulating an
// abrupt client disconnect.
func (c *ControlClient) Close() {
	_ = c.conn.Close()
}
