package relay

import (
	"net"
	"sync"
)

// roomState holds the per-room address and latest-state maps. Both are
// last-value-wins: the receive loop overwrites entries while the broadcast
// loop snapshots them, with no cross-map consistency required.
type roomState struct {
	addrs  map[string]*net.UDPAddr
	states map[string]string
}

// table is the relay's registry of rooms, keyed by the numeric room id
// carried inside each datagram. It is independent of the lobby directory's
// notion of rooms. Safe for concurrent use.
type table struct {
	mu    sync.Mutex
	rooms map[int]*roomState
}

func newTable() *table {
	return &table{rooms: make(map[int]*roomState)}
}

// join records the sender's address for username, creating the room's maps
// on first use.
func (t *table) join(roomID int, username string, addr *net.UDPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.room(roomID).addrs[username] = addr
}

// update refreshes username's address and overwrites its latest state
// record. A member whose NAT rebinds mid-session is reachable at the new
// address on the next broadcast tick.
func (t *table) update(roomID int, username string, addr *net.UDPAddr, record string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.room(roomID)
	r.addrs[username] = addr
	r.states[username] = record
}

// leave removes username from both maps and prunes the room entirely once
// it has no members left, bounding memory.
func (t *table) leave(roomID int, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[roomID]
	if !ok {
		return
	}
	delete(r.addrs, username)
	delete(r.states, username)
	if len(r.addrs) == 0 && len(r.states) == 0 {
		delete(t.rooms, roomID)
	}
}

// room returns the state for roomID, creating it if absent. Caller holds mu.
func (t *table) room(roomID int) *roomState {
	r, ok := t.rooms[roomID]
	if !ok {
		r = &roomState{
			addrs:  make(map[string]*net.UDPAddr),
			states: make(map[string]string),
		}
		t.rooms[roomID] = r
	}
	return r
}

// frame is one broadcast unit: the assembled STATE payload and every
// address it goes to.
type frame struct {
	payload []byte
	addrs   []*net.UDPAddr
}

// snapshot assembles one frame per room from the current maps.
func (t *table) snapshot() []frame {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]frame, 0, len(t.rooms))
	for _, r := range t.rooms {
		payload := make([]byte, 0, 64)
		payload = append(payload, "STATE "...)
		for _, record := range r.states {
			payload = append(payload, record...)
			payload = append(payload, "; "...)
		}

		addrs := make([]*net.UDPAddr, 0, len(r.addrs))
		for _, addr := range r.addrs {
			addrs = append(addrs, addr)
		}
		out = append(out, frame{payload: payload, addrs: addrs})
	}
	return out
}

// roomCount reports how many rooms currently hold at least one member.
func (t *table) roomCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}

// memberAddr returns the last-known address for username in roomID, or nil.
func (t *table) memberAddr(roomID int, username string) *net.UDPAddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	return r.addrs[username]
}
