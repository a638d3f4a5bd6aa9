// Package rendezvous provides the UDP hole-punch registry. Clients
// register their public address under a (room, username) pair and receive
// every other registered peer in the room, enabling direct peer-to-peer
// connectivity attempts. Registration is unauthenticated.
package rendezvous

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tank2d/masterserver/internal/config"
)

// readPollInterval bounds how long the listener blocks before rechecking
// the quit signal.
const readPollInterval = 100 * time.Millisecond

// Server is the rendezvous listener. It is purely request/response: no
// periodic activity, no state beyond the per-room address maps.
type Server struct {
	cfg    config.RendezvousConfig
	logger *zap.Logger

	conn    *net.UDPConn
	quit    chan struct{}
	mu      sync.Mutex
	running bool

	tableMu sync.Mutex
	rooms   map[int]map[string]*net.UDPAddr
}

// NewServer creates a rendezvous Server with the given configuration.
//
// Precondition: cfg must have a valid port; logger must be non-nil.
func NewServer(cfg config.RendezvousConfig, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		quit:   make(chan struct{}),
		rooms:  make(map[int]map[string]*net.UDPAddr),
	}
}

// Start binds the UDP socket and serves requests until Stop is called.
//
// Precondition: The server must not already be running.
// Postcondition: The socket is closed when this method returns.
func (s *Server) Start() error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("resolving %s: %w", s.cfg.Addr(), err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	s.mu.Lock()
	s.conn = conn
	s.running = true
	s.mu.Unlock()

	s.logger.Info("rendezvous listening", zap.String("addr", conn.LocalAddr().String()))

	buf := make([]byte, 1024)
	for {
		select {
		case <-s.quit:
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, sender, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.quit:
				return nil
			default:
				s.logger.Warn("rendezvous read error", zap.Error(err))
				continue
			}
		}

		s.handleRequest(strings.TrimSpace(string(buf[:n])), sender)
	}
}

// Stop signals the listener and closes the socket.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	close(s.quit)
	if s.conn != nil {
		s.conn.Close()
	}
	s.logger.Info("rendezvous stopped")
}

// Addr returns the actual bound address, or empty string before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.LocalAddr().String()
	}
	return ""
}

// RoomCount reports how many rooms have at least one registration.
func (s *Server) RoomCount() int {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	return len(s.rooms)
}

// handleRequest applies one REGISTER or UNREGISTER request. Anything else
// is dropped; a bad datagram never stops the listener.
func (s *Server) handleRequest(msg string, sender *net.UDPAddr) {
	parts := strings.Fields(msg)
	if len(parts) != 3 {
		return
	}
	roomID, err := strconv.Atoi(parts[1])
	if err != nil {
		s.logger.Debug("rendezvous dropped request with bad room id", zap.String("msg", msg))
		return
	}
	username := parts[2]

	switch parts[0] {
	case "REGISTER":
		peers := s.register(roomID, username, sender)
		if _, err := s.conn.WriteToUDP([]byte(peers), sender); err != nil {
			s.logger.Warn("rendezvous reply failed",
				zap.Int("room_id", roomID),
				zap.String("username", username),
				zap.Error(err),
			)
		}
		s.logger.Info("rendezvous registered",
			zap.Int("room_id", roomID),
			zap.String("username", username),
			zap.String("addr", sender.String()),
		)

	case "UNREGISTER":
		s.unregister(roomID, username)
		s.logger.Info("rendezvous unregistered",
			zap.Int("room_id", roomID),
			zap.String("username", username),
		)
	}
}

// register records the caller and returns the PEERS reply listing every
// other member of the room.
func (s *Server) register(roomID int, username string, addr *net.UDPAddr) string {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		room = make(map[string]*net.UDPAddr)
		s.rooms[roomID] = room
	}
	room[username] = addr

	// Deterministic peer order keeps replies stable for clients and tests.
	names := make([]string, 0, len(room))
	for name := range room {
		if name != username {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var reply strings.Builder
	reply.WriteString("PEERS ")
	for _, name := range names {
		peer := room[name]
		fmt.Fprintf(&reply, "%s:%s:%d;", name, peer.IP.String(), peer.Port)
	}
	return reply.String()
}

// unregister removes the entry and prunes the room once empty.
func (s *Server) unregister(roomID int, username string) {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return
	}
	delete(room, username)
	if len(room) == 0 {
		delete(s.rooms, roomID)
	}
}
