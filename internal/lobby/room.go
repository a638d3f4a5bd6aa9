// Package lobby provides the in-process room registry: room lifecycle,
// membership, and host-only match control.
package lobby

import "github.com/tank2d/masterserver/internal/protocol"

// DefaultMapID is the map used when the host never selects one.
const DefaultMapID = 2

// Member is one connected session participating in a room. Push is a
// best-effort delivery of a server-initiated envelope; implementations must
// never block indefinitely.
type Member interface {
	Name() string
	Push(msg protocol.Message)
}

// Room is a lobby grouping of members prior to and during a match. All
// mutation happens inside Directory methods under the directory mutex; a
// Room handed out to callers must be treated as read-through-accessors only.
type Room struct {
	id         int
	name       string
	host       Member
	members    []Member
	maxPlayers int
	password   string
	mapID      int
}

// ID returns the room's unique, never-reused identifier.
func (r *Room) ID() int { return r.id }

// Name returns the display name.
func (r *Room) Name() string { return r.name }

// Host returns the room's host member.
func (r *Room) Host() Member { return r.host }

// MaxPlayers returns the room capacity.
func (r *Room) MaxPlayers() int { return r.maxPlayers }

// MapID returns the selected map, DefaultMapID if the host never chose.
func (r *Room) MapID() int { return r.mapID }

// MemberCount returns the current number of members.
func (r *Room) MemberCount() int { return len(r.members) }

// HasPassword reports whether joining requires a password.
func (r *Room) HasPassword() bool { return r.password != "" }

// IsFull reports whether the room is at capacity.
func (r *Room) IsFull() bool { return len(r.members) >= r.maxPlayers }

// CheckPassword reports whether input grants entry. A room without a
// password admits any input.
func (r *Room) CheckPassword(input string) bool {
	if !r.HasPassword() {
		return true
	}
	return r.password == input
}

// Members returns a copy of the ordered member list, host first.
func (r *Room) Members() []Member {
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}

// PlayerNames returns display names in member order, the host tagged.
func (r *Room) PlayerNames() []string {
	names := make([]string, 0, len(r.members))
	for _, m := range r.members {
		name := m.Name()
		if m == r.host {
			name += " (Host)"
		}
		names = append(names, name)
	}
	return names
}

// contains reports whether m is already a member.
func (r *Room) contains(m Member) bool {
	for _, existing := range r.members {
		if existing == m {
			return true
		}
	}
	return false
}
