package session

import (
	"fmt"
	"math"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"boardsync/internal/metrics"
	"boardsync/internal/state"
	"boardsync/internal/wire"
)

// Handler translates inbound frames into registry and room mutations and
// emits the resulting broadcasts. One Handle call runs at a time per client
// (the read pump is sequential), and room mutations serialize on the room
// lock, so nothing here needs extra synchronization.
type Handler struct {
	reg    *Registry
	logger *zap.Logger
	mets   *metrics.Metrics
	clk    clock.Clock
}

// NewHandler returns a handler over the given registry.
func NewHandler(reg *Registry) *Handler {
	return &Handler{
		reg:    reg,
		logger: reg.logger,
		mets:   reg.mets,
		clk:    reg.clk,
	}
}

// Handle processes one raw frame from a client. Malformed frames are dropped
// silently; everything else gets either an effect or an explicit error
// reply. A single bad message never affects other clients or rooms.
func (h *Handler) Handle(c *Client, raw []byte) {
	msg, err := wire.Decode(raw)
	if err != nil {
		return
	}
	h.mets.MessagesTotal.WithLabelValues(string(msg.Kind())).Inc()

	// room:join and ping are the only messages allowed without membership.
	switch m := msg.(type) {
	case *wire.RoomJoin:
		h.reg.JoinRoom(c, m.RoomID, m.Name)
		return
	case *wire.Ping:
		pong := &wire.Pong{Type: wire.KindPong, At: h.clk.Now().UnixMilli()}
		if m.At != 0 {
			at := m.At
			pong.Echo = &at
		}
		c.Send(pong)
		return
	}

	room := h.reg.RoomOf(c)
	if room == nil {
		c.Send(&wire.Error{Type: wire.KindError, Message: "Join a room first."})
		return
	}

	switch m := msg.(type) {
	case *wire.Cursor:
		h.handleCursor(c, room, m)
	case *wire.StrokeBegin:
		h.handleStrokeBegin(c, room, m)
	case *wire.StrokePoint:
		h.handleStrokePoint(c, room, m)
	case *wire.StrokeEnd:
		h.handleStrokeEnd(c, room, m)
	case *wire.HistoryUndo:
		h.handleUndo(c, room)
	case *wire.HistoryRedo:
		h.handleRedo(c, room)
	default:
		// Well-formed but not something a client may send: either a kind we
		// reserve for the service direction or one we have never heard of.
		c.Send(&wire.Error{
			Type:    wire.KindError,
			Message: fmt.Sprintf("Unknown message type: %s", msg.Kind()),
		})
	}
}

func (h *Handler) handleCursor(c *Client, room *Room, m *wire.Cursor) {
	if !finite(m.X) || !finite(m.Y) {
		return
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	h.reg.Broadcast(room, &wire.Cursor{
		Type:   wire.KindCursor,
		UserID: c.ID,
		X:      m.X,
		Y:      m.Y,
		At:     h.clk.Now().UnixMilli(),
	}, c.ID)
}

func (h *Handler) handleStrokeBegin(c *Client, room *Room, m *wire.StrokeBegin) {
	room.mu.Lock()
	defer room.mu.Unlock()
	room.live.Begin(c.ID, m.StrokeID, m.Tool, c.Color, m.Width, m.Point)
	relay := *m
	relay.UserID = c.ID
	relay.Color = c.Color
	h.reg.Broadcast(room, &relay, c.ID)
}

func (h *Handler) handleStrokePoint(c *Client, room *Room, m *wire.StrokePoint) {
	room.mu.Lock()
	defer room.mu.Unlock()
	room.live.Append(c.ID, m.StrokeID, m.Points)
	relay := *m
	relay.UserID = c.ID
	relay.Color = c.Color
	h.reg.Broadcast(room, &relay, c.ID)
}

func (h *Handler) handleStrokeEnd(c *Client, room *Room, m *wire.StrokeEnd) {
	room.mu.Lock()
	defer room.mu.Unlock()

	room.live.End(c.ID, m.StrokeID)
	relay := *m
	relay.UserID = c.ID
	relay.Color = c.Color
	h.reg.Broadcast(room, &relay, c.ID)

	color := m.Color
	if color == "" {
		color = c.Color
	}
	op, stored, err := room.log.Commit(state.Stroke{
		ID:        m.StrokeID,
		UserID:    c.ID,
		Tool:      m.Tool,
		Color:     color,
		Width:     m.Width,
		Points:    m.Points,
		Shape:     m.Shape,
		Text:      m.Text,
		X:         m.X,
		Y:         m.Y,
		FontSize:  m.FontSize,
		ImageData: m.ImageData,
		Height:    m.Height,
	})
	if err != nil {
		c.Send(&wire.Error{
			Type:    wire.KindError,
			Message: fmt.Sprintf("Invalid stroke: %v", err),
		})
		return
	}
	if op == nil {
		// Duplicate commit: redelivery of a stroke we already have. The
		// relay above is harmless; there is nothing further to do.
		return
	}

	h.mets.CommitsTotal.Inc()
	h.reg.persist(room)
	h.reg.Broadcast(room, &wire.StrokeCommit{
		Type:   wire.KindStrokeCommit,
		Stroke: *stored,
		Op:     *op,
	}, "")
}

func (h *Handler) handleUndo(c *Client, room *Room) {
	room.mu.Lock()
	defer room.mu.Unlock()
	op := room.log.Undo(c.ID)
	if op == nil {
		return
	}
	h.reg.persist(room)
	h.reg.Broadcast(room, &wire.HistoryUndo{Type: wire.KindHistoryUndo, Op: op}, "")
}

func (h *Handler) handleRedo(c *Client, room *Room) {
	room.mu.Lock()
	defer room.mu.Unlock()
	op := room.log.Redo(c.ID)
	if op == nil {
		return
	}
	h.reg.persist(room)
	h.reg.Broadcast(room, &wire.HistoryRedo{Type: wire.KindHistoryRedo, Op: op}, "")
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
