// Package wire defines the JSON messages exchanged over the persistent
// connection. Every frame is a JSON object with a "type" field; Decode turns
// a frame into one concrete struct per kind so handlers dispatch with an
// exhaustive type switch instead of open-ended string branching.
package wire

import (
	"encoding/json"
	"errors"

	"boardsync/internal/state"
)

// ErrMalformed marks a frame that could not be parsed or has no type field.
// Such frames are dropped silently by callers: the sender cannot be
// identified reliably at that stage.
var ErrMalformed = errors.New("malformed wire frame")

// Kind is the value of a frame's "type" field.
type Kind string

// Client to service.
const (
	KindRoomJoin    Kind = "room:join"
	KindPing        Kind = "ping"
	KindCursor      Kind = "cursor"
	KindStrokeBegin Kind = "stroke:begin"
	KindStrokePoint Kind = "stroke:point"
	KindStrokeEnd   Kind = "stroke:end"
	KindHistoryUndo Kind = "history:undo"
	KindHistoryRedo Kind = "history:redo"
)

// Service to client.
const (
	KindHello         Kind = "hello"
	KindRoomJoined    Kind = "room:joined"
	KindPresenceJoin  Kind = "presence:join"
	KindPresenceLeave Kind = "presence:leave"
	KindPresenceList  Kind = "presence:list"
	KindStrokeCommit  Kind = "stroke:commit"
	KindPong          Kind = "pong"
	KindError         Kind = "error"
)

// Message is implemented by every wire message.
type Message interface {
	Kind() Kind
}

// UserInfo describes a room member in presence and join payloads.
type UserInfo struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

// RoomJoin asks to join (or create) a room. It is the only message accepted
// before any other session state exists.
type RoomJoin struct {
	Type   Kind   `json:"type"`
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

func (*RoomJoin) Kind() Kind { return KindRoomJoin }

// Ping is the client's liveness probe; At is the client clock in unix ms.
type Ping struct {
	Type Kind  `json:"type"`
	At   int64 `json:"at"`
}

func (*Ping) Kind() Kind { return KindPing }

// Cursor reports a pointer position. The service stamps UserID and At before
// relaying to the rest of the room.
type Cursor struct {
	Type   Kind    `json:"type"`
	UserID string  `json:"userId,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	At     int64   `json:"at,omitempty"`
}

func (*Cursor) Kind() Kind { return KindCursor }

// StrokeBegin opens a live stroke. UserID and Color are stamped by the
// service on relay; clients never supply them.
type StrokeBegin struct {
	Type     Kind        `json:"type"`
	StrokeID string      `json:"strokeId"`
	Tool     string      `json:"tool"`
	Color    string      `json:"color,omitempty"`
	Width    float64     `json:"width"`
	Point    state.Point `json:"point"`
	UserID   string      `json:"userId,omitempty"`
}

func (*StrokeBegin) Kind() Kind { return KindStrokeBegin }

// StrokePoint extends a live stroke with a batch of points.
type StrokePoint struct {
	Type     Kind          `json:"type"`
	StrokeID string        `json:"strokeId"`
	Points   []state.Point `json:"points"`
	UserID   string        `json:"userId,omitempty"`
	Color    string        `json:"color,omitempty"`
}

func (*StrokePoint) Kind() Kind { return KindStrokePoint }

// StrokeEnd closes a live stroke and carries the full stroke for commit.
type StrokeEnd struct {
	Type     Kind          `json:"type"`
	StrokeID string        `json:"strokeId"`
	Tool     string        `json:"tool"`
	Color    string        `json:"color,omitempty"`
	Width    float64       `json:"width"`
	Points   []state.Point `json:"points"`
	Shape    *state.Shape  `json:"shape,omitempty"`
	Text     string        `json:"text,omitempty"`
	X        float64       `json:"x,omitempty"`
	Y        float64       `json:"y,omitempty"`
	FontSize float64       `json:"fontSize,omitempty"`
	// ImageData is a data-URI reference; the core never decodes it.
	ImageData string  `json:"imageData,omitempty"`
	Height    float64 `json:"height,omitempty"`
	UserID    string  `json:"userId,omitempty"`
}

func (*StrokeEnd) Kind() Kind { return KindStrokeEnd }

// HistoryUndo requests an undo (client to service, empty) or announces one
// (service to client, with Op set).
type HistoryUndo struct {
	Type Kind      `json:"type"`
	Op   *state.Op `json:"op,omitempty"`
}

func (*HistoryUndo) Kind() Kind { return KindHistoryUndo }

// HistoryRedo is the redo counterpart of HistoryUndo.
type HistoryRedo struct {
	Type Kind      `json:"type"`
	Op   *state.Op `json:"op,omitempty"`
}

func (*HistoryRedo) Kind() Kind { return KindHistoryRedo }

// Hello assigns the connection its user id.
type Hello struct {
	Type   Kind   `json:"type"`
	UserID string `json:"userId"`
}

func (*Hello) Kind() Kind { return KindHello }

// RoomJoined confirms a join with the member's identity, the current
// membership and a full snapshot to bootstrap from.
type RoomJoined struct {
	Type     Kind           `json:"type"`
	RoomID   string         `json:"roomId"`
	Me       UserInfo       `json:"me"`
	Users    []UserInfo     `json:"users"`
	Snapshot state.Snapshot `json:"snapshot"`
}

func (*RoomJoined) Kind() Kind { return KindRoomJoined }

// PresenceJoin announces a new member to the rest of the room.
type PresenceJoin struct {
	Type   Kind   `json:"type"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

func (*PresenceJoin) Kind() Kind { return KindPresenceJoin }

// PresenceLeave announces a departure.
type PresenceLeave struct {
	Type   Kind   `json:"type"`
	UserID string `json:"userId"`
}

func (*PresenceLeave) Kind() Kind { return KindPresenceLeave }

// PresenceList is the authoritative membership, sent after every change.
type PresenceList struct {
	Type  Kind       `json:"type"`
	Users []UserInfo `json:"users"`
}

func (*PresenceList) Kind() Kind { return KindPresenceList }

// StrokeCommit announces a durable commit to the whole room, sender
// included.
type StrokeCommit struct {
	Type   Kind         `json:"type"`
	Stroke state.Stroke `json:"stroke"`
	Op     state.Op     `json:"op"`
}

func (*StrokeCommit) Kind() Kind { return KindStrokeCommit }

// Pong acknowledges a ping; Echo returns the ping's At so the client can
// measure round-trip time.
type Pong struct {
	Type Kind   `json:"type"`
	At   int64  `json:"at"`
	Echo *int64 `json:"echo"`
}

func (*Pong) Kind() Kind { return KindPong }

// Error is an explicit reply naming a problem with the sender's message.
// The connection stays open.
type Error struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

func (*Error) Kind() Kind { return KindError }

// Unknown is a well-formed frame whose type is not part of the protocol.
// Handlers answer it with an Error naming the kind rather than dropping it,
// to aid client-side diagnostics.
type Unknown struct {
	Type Kind `json:"type"`
}

func (u *Unknown) Kind() Kind { return u.Type }

// Decode parses one frame into its concrete message. It returns ErrMalformed
// for unparsable frames or frames without a type, and an *Unknown for frames
// whose type is not recognized.
func Decode(data []byte) (Message, error) {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, ErrMalformed
	}
	if probe.Type == "" {
		return nil, ErrMalformed
	}

	var msg Message
	switch probe.Type {
	case KindRoomJoin:
		msg = &RoomJoin{}
	case KindPing:
		msg = &Ping{}
	case KindCursor:
		msg = &Cursor{}
	case KindStrokeBegin:
		msg = &StrokeBegin{}
	case KindStrokePoint:
		msg = &StrokePoint{}
	case KindStrokeEnd:
		msg = &StrokeEnd{}
	case KindHistoryUndo:
		msg = &HistoryUndo{}
	case KindHistoryRedo:
		msg = &HistoryRedo{}
	case KindHello:
		msg = &Hello{}
	case KindRoomJoined:
		msg = &RoomJoined{}
	case KindPresenceJoin:
		msg = &PresenceJoin{}
	case KindPresenceLeave:
		msg = &PresenceLeave{}
	case KindPresenceList:
		msg = &PresenceList{}
	case KindStrokeCommit:
		msg = &StrokeCommit{}
	case KindPong:
		msg = &Pong{}
	case KindError:
		msg = &Error{}
	default:
		return &Unknown{Type: probe.Type}, nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, ErrMalformed
	}
	return msg, nil
}

// Encode marshals a message for the wire.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}
