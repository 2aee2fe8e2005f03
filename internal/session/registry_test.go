package session

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardsync/internal/state"
	"boardsync/internal/store"
	"boardsync/internal/wire"
)

// recorder captures everything sent to one client.
type recorder struct {
	mu   sync.Mutex
	msgs []wire.Message
}

func (r *recorder) Send(m wire.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) byKind(k wire.Kind) []wire.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []wire.Message
	for _, m := range r.msgs {
		if m.Kind() == k {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) lastOf(k wire.Kind) wire.Message {
	ms := r.byKind(k)
	if len(ms) == 0 {
		return nil
	}
	return ms[len(ms)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}

func newTestClient(reg *Registry) (*Client, *recorder) {
	rec := &recorder{}
	return reg.CreateClient(rec), rec
}

func TestCreateClient(t *testing.T) {
	reg := NewRegistry(Config{})
	c, rec := newTestClient(reg)

	require.NotEmpty(t, c.ID)
	assert.Empty(t, c.Color, "color is assigned on first join, not on connect")

	hellos := rec.byKind(wire.KindHello)
	require.Len(t, hellos, 1)
	assert.Equal(t, c.ID, hellos[0].(*wire.Hello).UserID)
}

func TestJoinRoom(t *testing.T) {
	t.Run("joiner gets identity, membership and snapshot", func(t *testing.T) {
		reg := NewRegistry(Config{})
		c, rec := newTestClient(reg)

		reg.JoinRoom(c, "design", "Alice")

		joined := rec.lastOf(wire.KindRoomJoined).(*wire.RoomJoined)
		assert.Equal(t, "design", joined.RoomID)
		assert.Equal(t, c.ID, joined.Me.UserID)
		assert.Equal(t, "Alice", joined.Me.Name)
		assert.Equal(t, palette[0], joined.Me.Color)
		require.Len(t, joined.Users, 1)
		assert.Empty(t, joined.Snapshot.Strokes)

		list := rec.lastOf(wire.KindPresenceList).(*wire.PresenceList)
		require.Len(t, list.Users, 1)
		assert.Equal(t, c.ID, list.Users[0].UserID)
	})

	t.Run("empty room id falls back to the default room", func(t *testing.T) {
		reg := NewRegistry(Config{})
		c, rec := newTestClient(reg)
		reg.JoinRoom(c, "", "Alice")

		joined := rec.lastOf(wire.KindRoomJoined).(*wire.RoomJoined)
		assert.Equal(t, DefaultRoomID, joined.RoomID)
	})

	t.Run("empty name gets a generated one", func(t *testing.T) {
		reg := NewRegistry(Config{})
		c, rec := newTestClient(reg)
		reg.JoinRoom(c, "design", "")

		joined := rec.lastOf(wire.KindRoomJoined).(*wire.RoomJoined)
		assert.Regexp(t, `^User-`, joined.Me.Name)
	})

	t.Run("existing members see the arrival", func(t *testing.T) {
		reg := NewRegistry(Config{})
		c1, rec1 := newTestClient(reg)
		reg.JoinRoom(c1, "design", "Alice")
		rec1.reset()

		c2, rec2 := newTestClient(reg)
		reg.JoinRoom(c2, "design", "Bob")

		joins := rec1.byKind(wire.KindPresenceJoin)
		require.Len(t, joins, 1)
		assert.Equal(t, c2.ID, joins[0].(*wire.PresenceJoin).UserID)
		assert.Equal(t, "Bob", joins[0].(*wire.PresenceJoin).Name)

		list := rec1.lastOf(wire.KindPresenceList).(*wire.PresenceList)
		assert.Len(t, list.Users, 2)

		assert.Empty(t, rec2.byKind(wire.KindPresenceJoin), "the joiner is not told about itself")
	})
}

func TestColorAssignment(t *testing.T) {
	t.Run("palette cycles in join order and wraps", func(t *testing.T) {
		reg := NewRegistry(Config{})
		for i := 0; i < len(palette)+1; i++ {
			c, _ := newTestClient(reg)
			reg.JoinRoom(c, "design", "")
			assert.Equal(t, palette[i%len(palette)], c.Color)
		}
	})

	t.Run("color survives a room switch", func(t *testing.T) {
		reg := NewRegistry(Config{})
		c, _ := newTestClient(reg)
		reg.JoinRoom(c, "a", "Alice")
		first := c.Color

		reg.JoinRoom(c, "b", "Alice")
		assert.Equal(t, first, c.Color)
	})

	t.Run("each room cycles its own palette", func(t *testing.T) {
		reg := NewRegistry(Config{})
		c1, _ := newTestClient(reg)
		reg.JoinRoom(c1, "a", "")
		c2, _ := newTestClient(reg)
		reg.JoinRoom(c2, "b", "")

		assert.Equal(t, palette[0], c1.Color)
		assert.Equal(t, palette[0], c2.Color, "room b starts at the head of the palette")
	})
}

func TestRoomSwitch(t *testing.T) {
	reg := NewRegistry(Config{})
	stay, stayRec := newTestClient(reg)
	reg.JoinRoom(stay, "a", "Stay")
	mover, _ := newTestClient(reg)
	reg.JoinRoom(mover, "a", "Mover")
	stayRec.reset()

	reg.JoinRoom(mover, "b", "Mover")

	assert.Equal(t, 1, reg.Room("a").Members(), "membership in at most one room at a time")
	assert.Equal(t, 1, reg.Room("b").Members())

	list := stayRec.lastOf(wire.KindPresenceList).(*wire.PresenceList)
	require.Len(t, list.Users, 1)
	assert.Equal(t, stay.ID, list.Users[0].UserID)

	t.Run("rejoining the same room keeps membership stable", func(t *testing.T) {
		reg.JoinRoom(mover, "b", "Mover")
		assert.Equal(t, 1, reg.Room("b").Members())
	})
}

func TestRemoveClient(t *testing.T) {
	t.Run("departure is announced to the rest of the room", func(t *testing.T) {
		reg := NewRegistry(Config{})
		c1, rec1 := newTestClient(reg)
		reg.JoinRoom(c1, "design", "Alice")
		c2, _ := newTestClient(reg)
		reg.JoinRoom(c2, "design", "Bob")
		rec1.reset()

		reg.RemoveClient(c2)

		leaves := rec1.byKind(wire.KindPresenceLeave)
		require.Len(t, leaves, 1)
		assert.Equal(t, c2.ID, leaves[0].(*wire.PresenceLeave).UserID)

		list := rec1.lastOf(wire.KindPresenceList).(*wire.PresenceList)
		assert.Len(t, list.Users, 1)
		assert.Equal(t, 1, reg.Room("design").Members())
	})

	t.Run("drops any live stroke of the leaver", func(t *testing.T) {
		reg := NewRegistry(Config{})
		c, _ := newTestClient(reg)
		reg.JoinRoom(c, "design", "Alice")
		room := reg.Room("design")

		room.mu.Lock()
		room.live.Begin(c.ID, "s1", state.ToolBrush, c.Color, 4, state.Point{P: 0.5})
		room.mu.Unlock()

		reg.RemoveClient(c)
		assert.Empty(t, room.LiveStrokes())
	})

	t.Run("safe for a client that never joined", func(t *testing.T) {
		reg := NewRegistry(Config{})
		c, _ := newTestClient(reg)
		reg.RemoveClient(c)
		reg.RemoveClient(nil)
	})
}

func TestGetOrCreateRoom(t *testing.T) {
	t.Run("rehydrates from storage on first use", func(t *testing.T) {
		seed := state.NewLog()
		seed.Commit(state.Stroke{ID: "s1", UserID: "alice", Tool: state.ToolBrush})
		data, err := seed.Serialize()
		require.NoError(t, err)

		st := store.NewMemoryStore()
		require.NoError(t, st.SaveRoom("history", data))

		reg := NewRegistry(Config{Store: st})
		c, rec := newTestClient(reg)
		reg.JoinRoom(c, "history", "Alice")

		joined := rec.lastOf(wire.KindRoomJoined).(*wire.RoomJoined)
		require.Len(t, joined.Snapshot.Strokes, 1)
		assert.Equal(t, "s1", joined.Snapshot.Strokes[0].ID)
		assert.Equal(t, uint64(1), joined.Snapshot.Seq)
	})

	t.Run("corrupt snapshot starts the room empty", func(t *testing.T) {
		st := store.NewMemoryStore()
		require.NoError(t, st.SaveRoom("bad", []byte("{nope")))

		reg := NewRegistry(Config{Store: st})
		room := reg.GetOrCreateRoom("bad")
		assert.Empty(t, room.Snapshot().Strokes)
	})

	t.Run("same id returns the same room", func(t *testing.T) {
		reg := NewRegistry(Config{})
		assert.Same(t, reg.GetOrCreateRoom("x"), reg.GetOrCreateRoom("x"))
	})

	t.Run("lookup without create", func(t *testing.T) {
		reg := NewRegistry(Config{})
		assert.Nil(t, reg.Room("ghost"))
	})
}

func TestBroadcast(t *testing.T) {
	reg := NewRegistry(Config{})
	c1, rec1 := newTestClient(reg)
	reg.JoinRoom(c1, "design", "Alice")
	c2, rec2 := newTestClient(reg)
	reg.JoinRoom(c2, "design", "Bob")
	rec1.reset()
	rec2.reset()

	room := reg.Room("design")
	room.mu.Lock()
	reg.Broadcast(room, &wire.Error{Type: wire.KindError, Message: "x"}, c1.ID)
	room.mu.Unlock()

	assert.Empty(t, rec1.byKind(wire.KindError), "excluded client receives nothing")
	assert.Len(t, rec2.byKind(wire.KindError), 1)
}

func TestSweepLive(t *testing.T) {
	mock := clock.NewMock()
	reg := NewRegistry(Config{Clock: mock})
	c, _ := newTestClient(reg)
	reg.JoinRoom(c, "design", "Alice")
	room := reg.Room("design")

	room.mu.Lock()
	room.live.Begin(c.ID, "s1", state.ToolBrush, c.Color, 4, state.Point{P: 0.5})
	room.mu.Unlock()

	mock.Add(11 * time.Second)
	reg.SweepLive(10 * time.Second)
	assert.Empty(t, room.LiveStrokes())
}
