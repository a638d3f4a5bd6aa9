// Package relay provides the UDP match-state relay: it aggregates each
// room's latest player state and fans it back out to every member at a
// fixed tick. Delivery is best-effort with no ordering, acknowledgement,
// or retry; the protocol is unreliable by design.
package relay

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tank2d/masterserver/internal/config"
)

// updateArity is the token count of a well-formed UPDATE datagram:
// verb, room id, username, then the nine state fields
// (x y bodyAngle gunAngle up down left right backward).
const updateArity = 12

// readPollInterval bounds how long the receive loop blocks before
// rechecking the quit signal.
const readPollInterval = 100 * time.Millisecond

// Relay serves one UDP socket shared by any number of rooms. It runs two
// long-lived goroutines: a receive loop that applies JOIN/UPDATE/LEAVE
// datagrams to the room table, and a broadcast loop that snapshots and
// fans out each room's state at the configured tick rate.
type Relay struct {
	cfg    config.RelayConfig
	logger *zap.Logger

	conn    *net.UDPConn
	table   *table
	quit    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewRelay creates a Relay with the given configuration.
//
// Precondition: cfg must have a valid port and tick rate; logger must be non-nil.
func NewRelay(cfg config.RelayConfig, logger *zap.Logger) *Relay {
	return &Relay{
		cfg:    cfg,
		logger: logger,
		table:  newTable(),
		quit:   make(chan struct{}),
	}
}

// Start binds the UDP socket and runs the receive and broadcast loops.
// It blocks until Stop is called.
//
// Precondition: The relay must not already be running.
// Postcondition: The socket is closed when this method returns.
func (r *Relay) Start() error {
	addr, err := net.ResolveUDPAddr("udp", r.cfg.Addr())
	if err != nil {
		return fmt.Errorf("resolving %s: %w", r.cfg.Addr(), err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", r.cfg.Addr(), err)
	}

	r.mu.Lock()
	r.conn = conn
	r.running = true
	r.mu.Unlock()

	r.logger.Info("relay listening",
		zap.String("addr", conn.LocalAddr().String()),
		zap.Int("tick_rate", r.cfg.TickRate),
	)

	r.wg.Add(1)
	go r.broadcastLoop()

	r.receiveLoop()
	r.wg.Wait()
	return nil
}

// Stop signals both loops and closes the socket. Shutdown is cooperative
// and bounded by one polling interval.
//
// Postcondition: Both loops have exited.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	r.running = false

	close(r.quit)
	if r.conn != nil {
		r.conn.Close()
	}
	r.logger.Info("relay stopped")
}

// Addr returns the actual bound address, or empty string before Start.
func (r *Relay) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn.LocalAddr().String()
	}
	return ""
}

// RoomCount reports how many rooms currently hold at least one member.
func (r *Relay) RoomCount() int {
	return r.table.roomCount()
}

// receiveLoop polls for inbound datagrams with a short deadline so it can
// observe the quit signal; it never coordinates with the broadcast loop
// beyond the table's own locking.
func (r *Relay) receiveLoop() {
	buf := make([]byte, 4096)
	for {
		select {
		case <-r.quit:
			return
		default:
		}

		_ = r.conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-r.quit:
				return
			default:
				r.logger.Warn("relay read error", zap.Error(err))
				continue
			}
		}

		r.handleDatagram(strings.TrimSpace(string(buf[:n])), addr)
	}
}

// handleDatagram applies one inbound command. Malformed datagrams are
// dropped; they must never stop the loop.
func (r *Relay) handleDatagram(msg string, addr *net.UDPAddr) {
	parts := strings.Fields(msg)
	if len(parts) < 3 {
		return
	}

	roomID, err := strconv.Atoi(parts[1])
	if err != nil {
		r.logger.Debug("relay dropped datagram with bad room id", zap.String("msg", msg))
		return
	}
	username := parts[2]

	switch parts[0] {
	case "JOIN":
		r.table.join(roomID, username, addr)
		ack := fmt.Sprintf("JOINED %d", roomID)
		if _, err := r.conn.WriteToUDP([]byte(ack), addr); err != nil {
			r.logger.Warn("relay ack failed",
				zap.Int("room_id", roomID),
				zap.String("username", username),
				zap.Error(err),
			)
		}
		r.logger.Info("relay member joined",
			zap.Int("room_id", roomID),
			zap.String("username", username),
			zap.String("addr", addr.String()),
		)

	case "UPDATE":
		if len(parts) != updateArity {
			return
		}
		// Record keeps the username so broadcast frames are self-describing.
		record := strings.Join(parts[2:], " ")
		r.table.update(roomID, username, addr, record)

	case "LEAVE":
		r.table.leave(roomID, username)
		r.logger.Info("relay member left",
			zap.Int("room_id", roomID),
			zap.String("username", username),
		)
	}
}

// broadcastLoop snapshots every room and sends one frame per room to every
// known member address at the configured cadence, whether or not anyone is
// sending updates.
func (r *Relay) broadcastLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(r.cfg.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-ticker.C:
			for _, f := range r.table.snapshot() {
				for _, addr := range f.addrs {
					if _, err := r.conn.WriteToUDP(f.payload, addr); err != nil {
						r.logger.Debug("relay broadcast error",
							zap.String("addr", addr.String()),
							zap.Error(err),
						)
					}
				}
			}
		}
	}
}
