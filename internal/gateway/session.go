package gateway

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tank2d/masterserver/internal/lobby"
	"github.com/tank2d/masterserver/internal/protocol"
)

// session is the per-connection mutable state. Only the handler goroutine
// touches the auth and room fields; the write mutex exists because room
// broadcasts push envelopes from other sessions' goroutines.
type session struct {
	id           uuid.UUID
	conn         net.Conn
	writeTimeout time.Duration
	logger       *zap.Logger

	writeMu sync.Mutex

	username  string
	accountID int64
	room      *lobby.Room
}

func newSession(conn net.Conn, writeTimeout time.Duration, logger *zap.Logger) *session {
	id := uuid.New()
	return &session{
		id:           id,
		conn:         conn,
		writeTimeout: writeTimeout,
		logger: logger.With(
			zap.String("session_id", id.String()),
			zap.String("remote_addr", conn.RemoteAddr().String()),
		),
	}
}

// Name returns the logged-in username, or empty before authentication.
func (s *session) Name() string { return s.username }

// Push encodes msg and writes it as one line on the session's connection.
// Safe to call from any goroutine. Write failures are logged and dropped;
// the read loop notices the dead socket and runs disconnect cleanup.
func (s *session) Push(msg protocol.Message) {
	line, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error("encoding push", zap.Int("type", int(msg.MessageType())), zap.Error(err))
		return
	}
	line = append(line, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if _, err := s.conn.Write(line); err != nil {
		s.logger.Debug("pushing envelope", zap.Int("type", int(msg.MessageType())), zap.Error(err))
	}
}

// authenticated reports whether a login has succeeded on this session.
func (s *session) authenticated() bool { return s.username != "" }
