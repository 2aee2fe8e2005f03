package state

import (
	"encoding/json"
	"time"
)

// Tool names as they appear on the wire. The set is closed; anything else is
// coerced to ToolBrush during normalization.
const (
	ToolBrush  = "brush"
	ToolEraser = "eraser"
	ToolRect   = "rect"
	ToolCircle = "circle"
	ToolText   = "text"
	ToolImage  = "image"
)

const (
	defaultColor    = "#111111"
	defaultWidth    = 4
	defaultFontSize = 24
	defaultImageDim = 100

	minWidth = 1
	maxWidth = 80

	maxCoord = 1e6
)

// Point is a single sample of an input device: canvas position, capture time
// in unix milliseconds, and pressure in [0,1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T int64   `json:"t"`
	P float64 `json:"p"`
}

// UnmarshalJSON applies wire defaults: a missing timestamp becomes now and a
// missing pressure becomes 0.5. Absence is only detectable at the decode
// boundary, so the defaults live here rather than in Clamp.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
		T *int64   `json:"t"`
		P *float64 `json:"p"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.X != nil {
		p.X = *raw.X
	}
	if raw.Y != nil {
		p.Y = *raw.Y
	}
	if raw.T != nil {
		p.T = *raw.T
	} else {
		p.T = nowMs()
	}
	if raw.P != nil {
		p.P = *raw.P
	} else {
		p.P = 0.5
	}
	p.Clamp()
	return nil
}

// Clamp coerces the point into the allowed coordinate and pressure ranges.
func (p *Point) Clamp() {
	p.X = clamp(p.X, -maxCoord, maxCoord)
	p.Y = clamp(p.Y, -maxCoord, maxCoord)
	p.P = clamp(p.P, 0, 1)
}

// Shape holds the bounds of a rect or circle stroke.
type Shape struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	Radius float64 `json:"radius,omitempty"`
}

// Stroke is one durable drawing action. It is immutable once committed and
// keyed by ID; log order, not insertion order, is authoritative.
type Stroke struct {
	ID     string  `json:"id"`
	UserID string  `json:"userId"`
	Tool   string  `json:"tool"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Points []Point `json:"points"`

	// Tool-specific payloads, present only for the matching tool.
	Shape     *Shape  `json:"shape,omitempty"`
	Text      string  `json:"text,omitempty"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	FontSize  float64 `json:"fontSize,omitempty"`
	ImageData string  `json:"imageData,omitempty"`
	Height    float64 `json:"height,omitempty"`

	CreatedAt int64 `json:"createdAt"`
}

// OpType tags an entry in the operation log.
type OpType string

const (
	OpCommit OpType = "STROKE_COMMIT"
	OpUndo   OpType = "UNDO"
	OpRedo   OpType = "REDO"
)

// Op is one durable log entry. Seq strictly increases within a room and
// totally orders that room's operations; it carries no meaning across rooms.
type Op struct {
	Type     OpType `json:"type"`
	Seq      uint64 `json:"seq"`
	At       int64  `json:"at"`
	StrokeID string `json:"strokeId"`
	UserID   string `json:"userId,omitempty"`
	By       string `json:"by,omitempty"`
}

// Snapshot is the currently-visible stroke set at a sequence number, used to
// bootstrap new joiners.
type Snapshot struct {
	Seq     uint64   `json:"seq"`
	Strokes []Stroke `json:"strokes"`
}

func clamp(n, lo, hi float64) float64 {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
