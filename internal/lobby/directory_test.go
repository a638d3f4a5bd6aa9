package lobby

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/tank2d/masterserver/internal/events"
	"github.com/tank2d/masterserver/internal/protocol"
)

type fakeMember struct {
	name   string
	pushed []protocol.Message
}

func (f *fakeMember) Name() string              { return f.name }
func (f *fakeMember) Push(msg protocol.Message) { f.pushed = append(f.pushed, msg) }

func (f *fakeMember) lastPush() protocol.Message {
	if len(f.pushed) == 0 {
		return nil
	}
	return f.pushed[len(f.pushed)-1]
}

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	sink := events.NewSink(64)
	t.Cleanup(sink.Close)
	return NewDirectory(sink, zap.NewNop())
}

func TestCreateRoom(t *testing.T) {
	d := newTestDirectory(t)
	host := &fakeMember{name: "alice"}

	room, err := d.CreateRoom("battle", host, 4, "")
	require.NoError(t, err)

	assert.Equal(t, 1, room.ID())
	assert.Equal(t, "battle", room.Name())
	assert.Equal(t, 1, room.MemberCount())
	assert.Equal(t, host, room.Host())
	assert.Equal(t, DefaultMapID, room.MapID())
	assert.False(t, room.HasPassword())
}

func TestCreateRoomSequentialIDs(t *testing.T) {
	d := newTestDirectory(t)
	r1, err := d.CreateRoom("a", &fakeMember{name: "a"}, 2, "")
	require.NoError(t, err)
	r2, err := d.CreateRoom("b", &fakeMember{name: "b"}, 2, "")
	require.NoError(t, err)
	assert.Equal(t, r1.ID()+1, r2.ID())
}

func TestCreateRoomIDNeverReused(t *testing.T) {
	d := newTestDirectory(t)
	host := &fakeMember{name: "alice"}
	r1, err := d.CreateRoom("a", host, 2, "")
	require.NoError(t, err)
	d.LeaveRoom(r1, host)
	require.Equal(t, 0, d.RoomCount())

	r2, err := d.CreateRoom("b", host, 2, "")
	require.NoError(t, err)
	assert.Greater(t, r2.ID(), r1.ID())
}

func TestCreateRoomBadCapacity(t *testing.T) {
	d := newTestDirectory(t)
	_, err := d.CreateRoom("x", &fakeMember{name: "a"}, 0, "")
	assert.Error(t, err)
	assert.Equal(t, 0, d.RoomCount())
}

func TestJoinRoom(t *testing.T) {
	d := newTestDirectory(t)
	host := &fakeMember{name: "alice"}
	room, err := d.CreateRoom("battle", host, 4, "")
	require.NoError(t, err)

	bob := &fakeMember{name: "bob"}
	joined, err := d.JoinRoom(room.ID(), "", bob)
	require.NoError(t, err)
	assert.Same(t, room, joined)
	assert.Equal(t, 2, room.MemberCount())
	assert.Equal(t, []string{"alice (Host)", "bob"}, room.PlayerNames())
}

func TestJoinRoomNotFound(t *testing.T) {
	d := newTestDirectory(t)
	_, err := d.JoinRoom(99, "", &fakeMember{name: "bob"})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinRoomFullLeavesMembersUnchanged(t *testing.T) {
	d := newTestDirectory(t)
	host := &fakeMember{name: "alice"}
	room, err := d.CreateRoom("battle", host, 2, "")
	require.NoError(t, err)
	_, err = d.JoinRoom(room.ID(), "", &fakeMember{name: "bob"})
	require.NoError(t, err)

	before := room.PlayerNames()
	_, err = d.JoinRoom(room.ID(), "", &fakeMember{name: "carol"})
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, before, room.PlayerNames())
}

func TestJoinRoomWrongPassword(t *testing.T) {
	d := newTestDirectory(t)
	room, err := d.CreateRoom("battle", &fakeMember{name: "alice"}, 4, "secret")
	require.NoError(t, err)

	_, err = d.JoinRoom(room.ID(), "wrong", &fakeMember{name: "bob"})
	assert.ErrorIs(t, err, ErrWrongPassword)
	assert.Equal(t, 1, room.MemberCount())

	_, err = d.JoinRoom(room.ID(), "secret", &fakeMember{name: "bob"})
	assert.NoError(t, err)
}

func TestJoinRoomIdempotent(t *testing.T) {
	d := newTestDirectory(t)
	host := &fakeMember{name: "alice"}
	room, err := d.CreateRoom("battle", host, 4, "")
	require.NoError(t, err)

	bob := &fakeMember{name: "bob"}
	_, err = d.JoinRoom(room.ID(), "", bob)
	require.NoError(t, err)
	joined, err := d.JoinRoom(room.ID(), "", bob)
	require.NoError(t, err)
	assert.Same(t, room, joined)
	assert.Equal(t, 2, room.MemberCount())
}

func TestCheckPassword(t *testing.T) {
	open := &Room{password: ""}
	assert.True(t, open.CheckPassword(""))
	assert.True(t, open.CheckPassword("anything"))

	locked := &Room{password: "secret"}
	assert.True(t, locked.CheckPassword("secret"))
	assert.False(t, locked.CheckPassword(""))
	assert.False(t, locked.CheckPassword("Secret"))
	assert.False(t, locked.CheckPassword("secret "))
}

func TestLeaveRoomDeletesEmptyRoom(t *testing.T) {
	d := newTestDirectory(t)
	host := &fakeMember{name: "alice"}
	room, err := d.CreateRoom("battle", host, 4, "")
	require.NoError(t, err)

	d.LeaveRoom(room, host)
	assert.Equal(t, 0, d.RoomCount())
	assert.Nil(t, d.GetRoom(room.ID()))
}

func TestListRooms(t *testing.T) {
	d := newTestDirectory(t)
	_, err := d.CreateRoom("open", &fakeMember{name: "alice"}, 4, "")
	require.NoError(t, err)
	full, err := d.CreateRoom("tight", &fakeMember{name: "bob"}, 1, "pw")
	require.NoError(t, err)

	list := d.ListRooms()
	require.Len(t, list, 2)

	byID := map[int]protocol.RoomInfo{}
	for _, info := range list {
		byID[info.ID] = info
	}
	assert.Equal(t, "Open", byID[1].Status)
	assert.False(t, byID[1].HasPassword)
	assert.Equal(t, "Full", byID[full.ID()].Status)
	assert.True(t, byID[full.ID()].HasPassword)
}

func TestSetSelectedMapHostOnly(t *testing.T) {
	d := newTestDirectory(t)
	host := &fakeMember{name: "alice"}
	room, err := d.CreateRoom("battle", host, 4, "")
	require.NoError(t, err)
	bob := &fakeMember{name: "bob"}
	_, err = d.JoinRoom(room.ID(), "", bob)
	require.NoError(t, err)

	err = d.SetSelectedMap(room, bob, 5)
	assert.ErrorIs(t, err, ErrNotHost)
	assert.Equal(t, DefaultMapID, room.MapID())
	assert.Empty(t, bob.pushed)

	require.NoError(t, d.SetSelectedMap(room, host, 5))
	assert.Equal(t, 5, room.MapID())
	selected, ok := bob.lastPush().(*protocol.MapSelected)
	require.True(t, ok)
	assert.Equal(t, 5, selected.MapID)
}

func TestStartMatchNonHostRejected(t *testing.T) {
	d := newTestDirectory(t)
	host := &fakeMember{name: "alice"}
	room, err := d.CreateRoom("battle", host, 4, "")
	require.NoError(t, err)
	bob := &fakeMember{name: "bob"}
	_, err = d.JoinRoom(room.ID(), "", bob)
	require.NoError(t, err)

	err = d.StartMatch(room, bob, "127.0.0.1:5001")
	assert.ErrorIs(t, err, ErrNotHost)
	assert.Empty(t, host.pushed, "no member may receive a start push")
	assert.Empty(t, bob.pushed)
}

func TestStartMatchDefaultMap(t *testing.T) {
	d := newTestDirectory(t)
	host := &fakeMember{name: "alice"}
	room, err := d.CreateRoom("battle", host, 4, "")
	require.NoError(t, err)
	bob := &fakeMember{name: "bob"}
	_, err = d.JoinRoom(room.ID(), "", bob)
	require.NoError(t, err)

	require.NoError(t, d.StartMatch(room, host, "203.0.113.9:5001"))

	for i, m := range []*fakeMember{host, bob} {
		start, ok := m.lastPush().(*protocol.StartGame)
		require.True(t, ok, "member %d should receive StartGame", i)
		assert.Equal(t, DefaultMapID, start.MapID)
		assert.Equal(t, "203.0.113.9:5001", start.RelayAddr)
		assert.Equal(t, i, start.Slot)
		assert.Equal(t, "alice", start.HostName)
		require.Len(t, start.Players, 2)
	}

	// Starting does not remove the room from listings.
	assert.Equal(t, 1, d.RoomCount())
}

func TestStartMatchSoloHost(t *testing.T) {
	d := newTestDirectory(t)
	host := &fakeMember{name: "alice"}
	room, err := d.CreateRoom("battle", host, 4, "")
	require.NoError(t, err)

	require.NoError(t, d.StartMatch(room, host, "127.0.0.1:5001"))
	start := host.lastPush().(*protocol.StartGame)
	assert.Equal(t, 0, start.Slot)
	require.Len(t, start.Players, 1)
}

func TestBroadcastUpdate(t *testing.T) {
	d := newTestDirectory(t)
	host := &fakeMember{name: "alice"}
	room, err := d.CreateRoom("battle", host, 4, "")
	require.NoError(t, err)
	bob := &fakeMember{name: "bob"}
	_, err = d.JoinRoom(room.ID(), "", bob)
	require.NoError(t, err)

	d.BroadcastUpdate(room, "bob joined the room")

	for _, m := range []*fakeMember{host, bob} {
		update, ok := m.lastPush().(*protocol.RoomUpdate)
		require.True(t, ok)
		assert.Equal(t, "bob joined the room", update.Msg)
		assert.Equal(t, []string{"alice (Host)", "bob"}, update.Players)
	}
}

// Property test: under any interleaving of create/join/leave, every room's
// member count stays within [1, capacity] while registered, and a room is
// absent from the directory whenever its count would reach zero.
func TestPropertyMembershipInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := NewDirectory(events.NewSink(1), zap.NewNop())

		members := make([]*fakeMember, 6)
		location := make(map[*fakeMember]*Room)
		for i := range members {
			members[i] = &fakeMember{name: string(rune('a' + i))}
		}

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for s := 0; s < steps; s++ {
			m := members[rapid.IntRange(0, len(members)-1).Draw(t, "member")]
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0: // create
				if location[m] == nil {
					capacity := rapid.IntRange(1, 4).Draw(t, "capacity")
					room, err := d.CreateRoom("r", m, capacity, "")
					if err != nil {
						t.Fatalf("create: %v", err)
					}
					location[m] = room
				}
			case 1: // join
				if location[m] == nil {
					for _, info := range d.ListRooms() {
						room, err := d.JoinRoom(info.ID, "", m)
						if err == nil {
							location[m] = room
						} else if err != ErrRoomFull {
							t.Fatalf("join: %v", err)
						}
						break
					}
				}
			case 2: // leave
				if room := location[m]; room != nil {
					d.LeaveRoom(room, m)
					location[m] = nil
				}
			}

			for _, info := range d.ListRooms() {
				if info.Players < 1 || info.Players > info.MaxPlayers {
					t.Fatalf("room %d has %d members, capacity %d", info.ID, info.Players, info.MaxPlayers)
				}
			}
		}
	})
}
