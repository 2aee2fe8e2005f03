// Package session owns the room and client registries, presence fan-out and
// the protocol handler that drives the per-room state machines.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"boardsync/internal/metrics"
	"boardsync/internal/state"
	"boardsync/internal/store"
	"boardsync/internal/wire"
)

// DefaultRoomID is used when a join names no room.
const DefaultRoomID = "lobby"

// palette cycled by per-room join order. Colors repeat once membership
// exceeds the palette; that is accepted behavior, not a bug.
var palette = []string{
	"#ef4444",
	"#f97316",
	"#f59e0b",
	"#84cc16",
	"#22c55e",
	"#14b8a6",
	"#06b6d4",
	"#3b82f6",
	"#6366f1",
	"#a855f7",
	"#ec4899",
}

// Config wires the registry's collaborators. Zero values get safe defaults.
type Config struct {
	Store   store.Store
	Saver   *store.Saver
	Logger  *zap.Logger
	Clock   clock.Clock
	Metrics *metrics.Metrics
}

// Registry owns every room and connected client. It is created at process
// start, passed to the transport-accept path, and torn down at shutdown; no
// implicit singletons.
type Registry struct {
	logger *zap.Logger
	clk    clock.Clock
	store  store.Store
	saver  *store.Saver
	mets   *metrics.Metrics

	mu      sync.RWMutex
	rooms   map[string]*Room
	clients map[string]*Client
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	return &Registry{
		logger:  cfg.Logger,
		clk:     cfg.Clock,
		store:   cfg.Store,
		saver:   cfg.Saver,
		mets:    cfg.Metrics,
		rooms:   make(map[string]*Room),
		clients: make(map[string]*Client),
	}
}

// CreateClient mints an identity for a fresh connection and sends the hello
// message. No color is assigned yet; that happens on first room join.
func (reg *Registry) CreateClient(sender Sender) *Client {
	c := &Client{
		ID:     "u_" + uuid.NewString(),
		sender: sender,
	}
	reg.mu.Lock()
	reg.clients[c.ID] = c
	reg.mu.Unlock()

	c.Send(&wire.Hello{Type: wire.KindHello, UserID: c.ID})
	reg.logger.Debug("client created", zap.String("user", c.ID))
	return c
}

// RemoveClient drops a client on disconnect, broadcasting its departure to
// the room it was in. Safe to call for a client that never joined a room.
func (reg *Registry) RemoveClient(c *Client) {
	if c == nil {
		return
	}
	reg.mu.Lock()
	delete(reg.clients, c.ID)
	roomID := c.roomID
	c.roomID = ""
	var room *Room
	if roomID != "" {
		room = reg.rooms[roomID]
	}
	reg.mu.Unlock()

	if room == nil {
		return
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if _, ok := room.clients[c]; !ok {
		return
	}
	delete(room.clients, c)
	room.live.Cancel(c.ID)
	reg.Broadcast(room, &wire.PresenceLeave{Type: wire.KindPresenceLeave, UserID: c.ID}, "")
	reg.Broadcast(room, &wire.PresenceList{Type: wire.KindPresenceList, Users: room.users()}, "")
	reg.logger.Debug("client left", zap.String("user", c.ID), zap.String("room", room.ID))
}

// GetOrCreateRoom returns the named room, creating and rehydrating it from
// the storage collaborator on first use. Rooms live for the process
// lifetime; the registry never deletes them.
func (reg *Registry) GetOrCreateRoom(roomID string) *Room {
	if roomID == "" {
		roomID = DefaultRoomID
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if room, ok := reg.rooms[roomID]; ok {
		return room
	}

	room := newRoom(roomID, reg.clk)
	if data, err := reg.store.LoadRoom(roomID); err == nil {
		if herr := room.log.Hydrate(data); herr != nil {
			reg.logger.Error("snapshot hydrate failed, starting empty",
				zap.String("room", roomID), zap.Error(herr))
			room.log = state.NewLog()
		}
	} else if !errors.Is(err, store.ErrRoomNotFound) {
		reg.logger.Error("snapshot load failed, starting empty",
			zap.String("room", roomID), zap.Error(err))
	}
	reg.rooms[roomID] = room
	reg.logger.Info("room created", zap.String("room", roomID), zap.Uint64("seq", room.log.Seq()))
	return room
}

// JoinRoom moves a client into a room, leaving any previous room first: a
// client is a member of at most one room at a time. The joiner gets the full
// snapshot and membership; the rest of the room gets presence updates.
func (reg *Registry) JoinRoom(c *Client, roomID, name string) {
	room := reg.GetOrCreateRoom(roomID)

	reg.mu.Lock()
	var old *Room
	if c.roomID != "" && c.roomID != room.ID {
		old = reg.rooms[c.roomID]
	}
	c.roomID = room.ID
	reg.mu.Unlock()

	if old != nil {
		old.mu.Lock()
		if _, ok := old.clients[c]; ok {
			delete(old.clients, c)
			old.live.Cancel(c.ID)
			reg.Broadcast(old, &wire.PresenceList{Type: wire.KindPresenceList, Users: old.users()}, "")
		}
		old.mu.Unlock()
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	c.Name = name
	if c.Name == "" {
		c.Name = fmt.Sprintf("User-%s", tail(c.ID, 4))
	}
	if c.Color == "" {
		c.Color = palette[room.colorIdx%len(palette)]
		room.colorIdx++
	}
	room.clients[c] = struct{}{}

	c.Send(&wire.RoomJoined{
		Type:     wire.KindRoomJoined,
		RoomID:   room.ID,
		Me:       c.Info(),
		Users:    room.users(),
		Snapshot: room.log.Snapshot(),
	})
	reg.Broadcast(room, &wire.PresenceJoin{
		Type:   wire.KindPresenceJoin,
		UserID: c.ID,
		Name:   c.Name,
		Color:  c.Color,
	}, c.ID)
	reg.Broadcast(room, &wire.PresenceList{Type: wire.KindPresenceList, Users: room.users()}, "")
	reg.logger.Info("client joined",
		zap.String("user", c.ID),
		zap.String("room", room.ID),
		zap.String("name", c.Name))
}

// Room returns an existing room without creating it, or nil.
func (reg *Registry) Room(roomID string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.rooms[roomID]
}

// RoomOf returns the room a client is currently in, or nil.
func (reg *Registry) RoomOf(c *Client) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if c.roomID == "" {
		return nil
	}
	return reg.rooms[c.roomID]
}

// Broadcast delivers a message to every member of a room except the
// optional excluded client. Callers must hold room.mu; that is what makes
// members observe one room's messages in the order the room produced them.
func (reg *Registry) Broadcast(room *Room, m wire.Message, exceptID string) {
	for c := range room.clients {
		if exceptID != "" && c.ID == exceptID {
			continue
		}
		c.Send(m)
		reg.mets.BroadcastsTotal.Inc()
	}
}

// SweepLive drops live strokes that have not been touched within ttl, in
// every room.
func (reg *Registry) SweepLive(ttl time.Duration) {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.RUnlock()

	for _, room := range rooms {
		room.mu.Lock()
		if n := room.live.Sweep(ttl); n > 0 {
			reg.logger.Debug("swept stale live strokes",
				zap.String("room", room.ID), zap.Int("count", n))
		}
		room.mu.Unlock()
	}
}

// persist hands the room's current snapshot to the storage collaborator,
// fire and forget. Callers hold room.mu.
func (reg *Registry) persist(room *Room) {
	if reg.saver == nil {
		return
	}
	data, err := room.log.Serialize()
	if err != nil {
		reg.logger.Error("snapshot serialize failed", zap.String("room", room.ID), zap.Error(err))
		return
	}
	reg.saver.Enqueue(room.ID, data)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
