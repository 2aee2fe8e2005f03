package session

import (
	"sync"

	"github.com/benbjohnson/clock"

	"boardsync/internal/state"
	"boardsync/internal/wire"
)

// Room is one isolated collaboration session: a membership set, an operation
// log and a live-stroke multiplexer. All of it is guarded by mu; messages
// belonging to a room are processed one at a time under that lock, which is
// what gives members a consistent delivery order. Rooms are independent and
// never share locks.
type Room struct {
	ID string

	mu       sync.Mutex
	clients  map[*Client]struct{}
	log      *state.Log
	live     *state.LiveSet
	colorIdx int
}

func newRoom(id string, clk clock.Clock) *Room {
	return &Room{
		ID:      id,
		clients: make(map[*Client]struct{}),
		log:     state.NewLog(),
		live:    state.NewLiveSet(clk),
	}
}

// users returns the membership in presence-list form. Callers hold r.mu.
func (r *Room) users() []wire.UserInfo {
	out := make([]wire.UserInfo, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c.Info())
	}
	return out
}

// Members returns the current member count.
func (r *Room) Members() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Snapshot returns the room's visible strokes.
func (r *Room) Snapshot() state.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Snapshot()
}

// LiveStrokes returns the room's in-progress strokes.
func (r *Room) LiveStrokes() []state.LiveStroke {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live.AllLive()
}
