package rendezvous

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tank2d/masterserver/internal/config"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(config.RendezvousConfig{Host: "127.0.0.1", Port: 0}, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	t.Cleanup(func() {
		s.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("rendezvous server did not stop in time")
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("rendezvous server did not start in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s
}

func dialServer(t *testing.T, s *Server) *net.UDPConn {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s.Addr())
	require.NoError(t, err)
	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func request(t *testing.T, conn *net.UDPConn, msg string) string {
	t.Helper()
	_, err := conn.Write([]byte(msg))
	require.NoError(t, err)

	buf := make([]byte, 1024)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func localPort(t *testing.T, conn *net.UDPConn) int {
	t.Helper()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestRegisterFirstPeerGetsEmptyList(t *testing.T) {
	s := startServer(t)
	conn := dialServer(t, s)

	reply := request(t, conn, "REGISTER 7 alice")
	assert.Equal(t, "PEERS ", reply)
	assert.Equal(t, 1, s.RoomCount())
}

func TestRegisterReturnsOtherPeersOnly(t *testing.T) {
	s := startServer(t)
	alice := dialServer(t, s)
	bob := dialServer(t, s)

	require.Equal(t, "PEERS ", request(t, alice, "REGISTER 7 alice"))

	reply := request(t, bob, "REGISTER 7 bob")
	want := fmt.Sprintf("PEERS alice:127.0.0.1:%d;", localPort(t, alice))
	assert.Equal(t, want, reply)

	// Re-registering refreshes alice's entry and now lists bob.
	reply = request(t, alice, "REGISTER 7 alice")
	want = fmt.Sprintf("PEERS bob:127.0.0.1:%d;", localPort(t, bob))
	assert.Equal(t, want, reply)
}

func TestRegisterRoomsAreIsolated(t *testing.T) {
	s := startServer(t)
	alice := dialServer(t, s)
	bob := dialServer(t, s)

	require.Equal(t, "PEERS ", request(t, alice, "REGISTER 1 alice"))
	assert.Equal(t, "PEERS ", request(t, bob, "REGISTER 2 bob"))
	assert.Equal(t, 2, s.RoomCount())
}

func TestUnregisterPrunesEmptyRoom(t *testing.T) {
	s := startServer(t)
	conn := dialServer(t, s)

	require.Equal(t, "PEERS ", request(t, conn, "REGISTER 7 alice"))
	_, err := conn.Write([]byte("UNREGISTER 7 alice"))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for s.RoomCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("room was not pruned after last member unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMalformedRequestsIgnored(t *testing.T) {
	s := startServer(t)
	conn := dialServer(t, s)

	for _, msg := range []string{"", "REGISTER", "REGISTER seven alice", "HELLO 7 alice", "REGISTER 7 alice extra"} {
		_, err := conn.Write([]byte(msg))
		require.NoError(t, err)
	}

	// Server keeps serving after the garbage.
	assert.Equal(t, "PEERS ", request(t, conn, "REGISTER 9 carol"))
}
