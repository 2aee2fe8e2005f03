package state

import (
	"encoding/json"
	"errors"
)

// ErrInvalidStroke is returned by Commit when the stroke has no usable id.
var ErrInvalidStroke = errors.New("missing stroke id")

// Log is the append-only operation history of one room: every commit, undo
// and redo in order, plus the derived stroke map and undone set. It is not
// internally locked; the owning room serializes access (one lock per room,
// never finer).
type Log struct {
	strokes  map[string]Stroke
	timeline []Op
	undone   map[string]struct{}
	seq      uint64
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{
		strokes: make(map[string]Stroke),
		undone:  make(map[string]struct{}),
	}
}

func (l *Log) nextSeq() uint64 {
	l.seq++
	return l.seq
}

// Seq returns the sequence number of the most recent operation.
func (l *Log) Seq() uint64 { return l.seq }

// Len returns the number of operations in the timeline.
func (l *Log) Len() int { return len(l.timeline) }

// Commit normalizes and stores a stroke and appends a commit operation.
// A duplicate stroke id is a silent no-op returning (nil, nil, nil): the
// idempotency guarantee that makes at-least-once redelivery safe. Only a
// stroke without an id is an error.
func (l *Log) Commit(s Stroke) (*Op, *Stroke, error) {
	if s.ID == "" {
		return nil, nil, ErrInvalidStroke
	}
	if _, ok := l.strokes[s.ID]; ok {
		return nil, nil, nil
	}

	stored := normalizeStroke(s)
	l.strokes[stored.ID] = stored
	delete(l.undone, stored.ID)

	op := Op{
		Type:     OpCommit,
		Seq:      l.nextSeq(),
		At:       nowMs(),
		StrokeID: stored.ID,
		UserID:   stored.UserID,
	}
	l.timeline = append(l.timeline, op)
	return &op, &stored, nil
}

// Undo hides the most recently committed stroke that is not already undone,
// scanning the timeline from the tail. Returns nil when nothing can be
// undone.
func (l *Log) Undo(userID string) *Op {
	for i := len(l.timeline) - 1; i >= 0; i-- {
		op := l.timeline[i]
		if op.Type != OpCommit {
			continue
		}
		sid := op.StrokeID
		if _, ok := l.strokes[sid]; !ok {
			continue
		}
		if _, ok := l.undone[sid]; ok {
			continue
		}

		l.undone[sid] = struct{}{}
		undoOp := Op{
			Type:     OpUndo,
			Seq:      l.nextSeq(),
			At:       nowMs(),
			StrokeID: sid,
			By:       orUnknown(userID),
		}
		l.timeline = append(l.timeline, undoOp)
		return &undoOp
	}
	return nil
}

// Redo restores the most recently undone stroke that is still hidden,
// scanning the timeline from the tail. Returns nil when nothing can be
// redone.
func (l *Log) Redo(userID string) *Op {
	for i := len(l.timeline) - 1; i >= 0; i-- {
		op := l.timeline[i]
		if op.Type != OpUndo {
			continue
		}
		sid := op.StrokeID
		if _, ok := l.strokes[sid]; !ok {
			continue
		}
		if _, ok := l.undone[sid]; !ok {
			continue
		}

		delete(l.undone, sid)
		redoOp := Op{
			Type:     OpRedo,
			Seq:      l.nextSeq(),
			At:       nowMs(),
			StrokeID: sid,
			By:       orUnknown(userID),
		}
		l.timeline = append(l.timeline, redoOp)
		return &redoOp
	}
	return nil
}

// Snapshot returns the current sequence number and every stroke that is
// present and not undone. A stroke is visible iff it exists in the map and
// its id is absent from the undone set.
func (l *Log) Snapshot() Snapshot {
	strokes := make([]Stroke, 0, len(l.strokes))
	for _, op := range l.timeline {
		if op.Type != OpCommit {
			continue
		}
		s, ok := l.strokes[op.StrokeID]
		if !ok {
			continue
		}
		if _, hidden := l.undone[s.ID]; hidden {
			continue
		}
		strokes = append(strokes, s)
	}
	return Snapshot{Seq: l.seq, Strokes: strokes}
}

// Apply replays an operation produced elsewhere, keeping a client-side
// mirror in step with the room. Commit ops must carry the stroke they refer
// to; undo/redo only need the op. Duplicate commits are ignored.
func (l *Log) Apply(op Op, stroke *Stroke) {
	switch op.Type {
	case OpCommit:
		if stroke == nil || stroke.ID == "" {
			return
		}
		if _, ok := l.strokes[stroke.ID]; ok {
			return
		}
		l.strokes[stroke.ID] = *stroke
		delete(l.undone, stroke.ID)
	case OpUndo:
		l.undone[op.StrokeID] = struct{}{}
	case OpRedo:
		delete(l.undone, op.StrokeID)
	default:
		return
	}
	l.timeline = append(l.timeline, op)
	if op.Seq > l.seq {
		l.seq = op.Seq
	}
}

// persisted is the snapshot handed to the storage collaborator. It is
// sufficient to fully reconstruct the log via Hydrate.
type persisted struct {
	Seq      uint64   `json:"seq"`
	Timeline []Op     `json:"timeline"`
	Strokes  []Stroke `json:"strokes"`
	Undone   []string `json:"undone"`
}

// Serialize renders the full log, stroke map and undone set as JSON.
func (l *Log) Serialize() ([]byte, error) {
	p := persisted{
		Seq:      l.seq,
		Timeline: l.timeline,
		Strokes:  make([]Stroke, 0, len(l.strokes)),
		Undone:   make([]string, 0, len(l.undone)),
	}
	if p.Timeline == nil {
		p.Timeline = []Op{}
	}
	for _, op := range l.timeline {
		if op.Type == OpCommit {
			if s, ok := l.strokes[op.StrokeID]; ok {
				p.Strokes = append(p.Strokes, s)
			}
		}
	}
	for id := range l.undone {
		p.Undone = append(p.Undone, id)
	}
	return json.Marshal(p)
}

// Hydrate loads a serialized log. Subsequent undo/redo behavior is identical
// to that of a log that never restarted.
func (l *Log) Hydrate(data []byte) error {
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	l.seq = p.Seq
	l.timeline = p.Timeline
	l.strokes = make(map[string]Stroke, len(p.Strokes))
	l.undone = make(map[string]struct{}, len(p.Undone))
	for _, s := range p.Strokes {
		if s.ID == "" {
			continue
		}
		l.strokes[s.ID] = s
	}
	for _, id := range p.Undone {
		l.undone[id] = struct{}{}
	}
	return nil
}

// normalizeStroke applies defaults and range coercion. Malformed optional
// fields degrade the stroke instead of raising errors: a bad field must not
// crash the room.
func normalizeStroke(s Stroke) Stroke {
	out := Stroke{
		ID:        s.ID,
		UserID:    orUnknown(s.UserID),
		Tool:      s.Tool,
		Color:     s.Color,
		Width:     s.Width,
		CreatedAt: nowMs(),
	}
	switch out.Tool {
	case ToolBrush, ToolEraser, ToolRect, ToolCircle, ToolText, ToolImage:
	default:
		out.Tool = ToolBrush
	}
	if out.Color == "" {
		out.Color = defaultColor
	}
	if out.Width == 0 {
		out.Width = defaultWidth
	}
	out.Width = clamp(out.Width, minWidth, maxWidth)

	out.Points = make([]Point, len(s.Points))
	for i, p := range s.Points {
		p.Clamp()
		if p.T == 0 {
			p.T = nowMs()
		}
		out.Points[i] = p
	}

	if s.Shape != nil && (out.Tool == ToolRect || out.Tool == ToolCircle) {
		sh := *s.Shape
		out.Shape = &sh
	}

	if out.Tool == ToolText && s.Text != "" {
		out.Text = s.Text
		out.X = s.X
		out.Y = s.Y
		out.FontSize = s.FontSize
		if out.FontSize == 0 {
			out.FontSize = defaultFontSize
		}
	}

	if out.Tool == ToolImage && s.ImageData != "" {
		out.ImageData = s.ImageData
		out.X = s.X
		out.Y = s.Y
		// Image bounds reuse the width field and are not pen widths, so the
		// [1,80] coercion does not apply.
		out.Width = s.Width
		if out.Width == 0 {
			out.Width = defaultImageDim
		}
		out.Height = s.Height
		if out.Height == 0 {
			out.Height = defaultImageDim
		}
	}

	return out
}

func orUnknown(id string) string {
	if id == "" {
		return "unknown"
	}
	return id
}
