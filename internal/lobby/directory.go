package lobby

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tank2d/masterserver/internal/events"
	"github.com/tank2d/masterserver/internal/protocol"
)

// ErrRoomNotFound is returned when a room id is not registered.
var ErrRoomNotFound = errors.New("room not found")

// ErrRoomFull is returned when a join would exceed room capacity.
var ErrRoomFull = errors.New("room is full")

// ErrWrongPassword is returned when a join supplies the wrong password.
var ErrWrongPassword = errors.New("wrong password")

// ErrNotHost is returned when a non-host attempts a host-only action.
var ErrNotHost = errors.New("only the host may do that")

// Directory is the process-wide room registry. One mutex guards every
// mutation; lobby operations are rare compared to relay traffic, so the
// single critical section is deliberate.
type Directory struct {
	mu     sync.Mutex
	rooms  map[int]*Room
	nextID int

	sink   *events.Sink
	logger *zap.Logger
}

// NewDirectory creates an empty Directory publishing into the given sink.
//
// Precondition: sink and logger must be non-nil.
func NewDirectory(sink *events.Sink, logger *zap.Logger) *Directory {
	return &Directory{
		rooms:  make(map[int]*Room),
		nextID: 1,
		sink:   sink,
		logger: logger,
	}
}

// CreateRoom registers a new room with host as its sole member.
// Room ids are sequential and never reused within the process lifetime.
//
// Precondition: host must be non-nil.
// Postcondition: Returns a room whose member list contains exactly host.
func (d *Directory) CreateRoom(name string, host Member, maxPlayers int, password string) (*Room, error) {
	if maxPlayers < 1 {
		return nil, fmt.Errorf("room capacity must be >= 1, got %d", maxPlayers)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	room := &Room{
		id:         d.nextID,
		name:       name,
		host:       host,
		members:    []Member{host},
		maxPlayers: maxPlayers,
		password:   password,
		mapID:      DefaultMapID,
	}
	d.nextID++
	d.rooms[room.id] = room

	d.logger.Info("room created",
		zap.Int("room_id", room.id),
		zap.String("name", name),
		zap.String("host", host.Name()),
		zap.Int("max_players", maxPlayers),
		zap.Bool("locked", room.HasPassword()),
	)
	d.notifyRoomsChanged()
	return room, nil
}

// JoinRoom adds m to the identified room. Re-joining a room the member is
// already in is a no-op, not an error. On any failure the room's member
// list is unchanged.
//
// Postcondition: Returns the joined room, or ErrRoomNotFound, ErrRoomFull,
// or ErrWrongPassword.
func (d *Directory) JoinRoom(id int, password string, m Member) (*Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, ok := d.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if room.contains(m) {
		return room, nil
	}
	if room.IsFull() {
		return nil, ErrRoomFull
	}
	if !room.CheckPassword(password) {
		return nil, ErrWrongPassword
	}

	room.members = append(room.members, m)

	d.logger.Info("member joined room",
		zap.Int("room_id", room.id),
		zap.String("member", m.Name()),
		zap.Int("members", len(room.members)),
	)
	d.notifyRoomsChanged()
	return room, nil
}

// LeaveRoom removes m from room. The room is deleted from the directory
// the moment it becomes empty.
func (d *Directory) LeaveRoom(room *Room, m Member) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, existing := range room.members {
		if existing == m {
			room.members = append(room.members[:i], room.members[i+1:]...)
			break
		}
	}

	if len(room.members) == 0 {
		delete(d.rooms, room.id)
		d.logger.Info("room removed", zap.Int("room_id", room.id))
	} else {
		d.logger.Info("member left room",
			zap.Int("room_id", room.id),
			zap.String("member", m.Name()),
			zap.Int("members", len(room.members)),
		)
	}
	d.notifyRoomsChanged()
}

// GetRoom returns the room with the given id, or nil.
func (d *Directory) GetRoom(id int) *Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rooms[id]
}

// RoomCount returns the number of registered rooms.
func (d *Directory) RoomCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

// ListRooms returns a snapshot summary of every registered room.
func (d *Directory) ListRooms() []protocol.RoomInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := make([]protocol.RoomInfo, 0, len(d.rooms))
	for _, r := range d.rooms {
		status := "Open"
		if r.IsFull() {
			status = "Full"
		}
		list = append(list, protocol.RoomInfo{
			ID:          r.id,
			Name:        r.name,
			Players:     len(r.members),
			MaxPlayers:  r.maxPlayers,
			HasPassword: r.HasPassword(),
			Status:      status,
		})
	}
	return list
}

// SetSelectedMap changes the room's map and announces it to every member.
// Host only.
//
// Postcondition: Returns ErrNotHost and mutates nothing when caller is not
// the host.
func (d *Directory) SetSelectedMap(room *Room, caller Member, mapID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if room.host != caller {
		return ErrNotHost
	}
	room.mapID = mapID

	for _, m := range room.members {
		m.Push(&protocol.MapSelected{MapID: mapID})
	}
	d.logger.Info("map selected",
		zap.Int("room_id", room.id),
		zap.Int("map_id", mapID),
	)
	return nil
}

// StartMatch pushes the relay address, each member's slot assignment, and
// the resolved map id to every member. Host only. The room stays in the
// directory afterwards and keeps appearing in listings.
//
// Postcondition: Returns ErrNotHost and pushes nothing when caller is not
// the host.
func (d *Directory) StartMatch(room *Room, caller Member, relayAddr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if room.host != caller {
		return ErrNotHost
	}

	players := make([]protocol.PlayerSlot, 0, len(room.members))
	for i, m := range room.members {
		players = append(players, protocol.PlayerSlot{
			Name:   m.Name(),
			Slot:   i,
			TankID: 1,
			GunID:  1,
		})
	}

	for i, m := range room.members {
		m.Push(&protocol.StartGame{
			Msg:       "Game is starting!",
			RelayAddr: relayAddr,
			HostName:  room.host.Name(),
			MapID:     room.mapID,
			Slot:      i,
			Players:   players,
		})
	}

	d.logger.Info("match started",
		zap.Int("room_id", room.id),
		zap.Int("map_id", room.mapID),
		zap.Int("members", len(room.members)),
		zap.String("relay_addr", relayAddr),
	)
	return nil
}

// BroadcastUpdate pushes a ROOM_UPDATE envelope carrying msg and the
// current member list to every member of room.
func (d *Directory) BroadcastUpdate(room *Room, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	update := &protocol.RoomUpdate{Msg: msg, Players: room.PlayerNames()}
	for _, m := range room.members {
		m.Push(update)
	}
}

func (d *Directory) notifyRoomsChanged() {
	d.sink.Publish(events.Event{
		Type:    events.RoomUpdated,
		Source:  "SERVER",
		Message: fmt.Sprintf("%d rooms registered", len(d.rooms)),
	})
}
