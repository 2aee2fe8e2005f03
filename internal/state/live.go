package state

import (
	"time"

	"github.com/benbjohnson/clock"
)

// LiveStroke is the in-progress stroke of one author: broadcast for preview,
// never part of the durable log.
type LiveStroke struct {
	UserID   string  `json:"userId"`
	StrokeID string  `json:"strokeId"`
	Tool     string  `json:"tool"`
	Color    string  `json:"color"`
	Width    float64 `json:"width"`
	Points   []Point `json:"points"`

	touched time.Time
}

// LiveSet multiplexes the in-progress strokes of a room, at most one per
// author. Entries that stop being touched are reclaimed by Sweep; the room
// lock serializes access, same as for Log.
type LiveSet struct {
	byUser map[string]*LiveStroke
	clk    clock.Clock
}

// NewLiveSet returns an empty multiplexer using the given clock for staleness
// tracking.
func NewLiveSet(clk clock.Clock) *LiveSet {
	if clk == nil {
		clk = clock.New()
	}
	return &LiveSet{
		byUser: make(map[string]*LiveStroke),
		clk:    clk,
	}
}

// Begin starts a live stroke for an author, replacing any stroke the author
// already had in progress: a second begin implicitly cancels the first.
func (ls *LiveSet) Begin(userID, strokeID, tool, color string, width float64, first Point) {
	first.Clamp()
	ls.byUser[userID] = &LiveStroke{
		UserID:   userID,
		StrokeID: strokeID,
		Tool:     tool,
		Color:    color,
		Width:    width,
		Points:   []Point{first},
		touched:  ls.clk.Now(),
	}
}

// Append adds points to the author's current live stroke. A mismatched
// stroke id is a no-op: it means the points raced with an end or cancel and
// arrived late.
func (ls *LiveSet) Append(userID, strokeID string, pts []Point) bool {
	cur, ok := ls.byUser[userID]
	if !ok || cur.StrokeID != strokeID {
		return false
	}
	for _, p := range pts {
		p.Clamp()
		cur.Points = append(cur.Points, p)
	}
	cur.touched = ls.clk.Now()
	return true
}

// End removes the author's live stroke if it matches the given id. It does
// not commit anything; committing is a separate, explicit message.
func (ls *LiveSet) End(userID, strokeID string) bool {
	cur, ok := ls.byUser[userID]
	if !ok || cur.StrokeID != strokeID {
		return false
	}
	delete(ls.byUser, userID)
	return true
}

// Cancel drops the author's live stroke regardless of id.
func (ls *LiveSet) Cancel(userID string) {
	delete(ls.byUser, userID)
}

// AllLive returns a copy of the current live strokes in arbitrary order;
// render order does not affect correctness.
func (ls *LiveSet) AllLive() []LiveStroke {
	out := make([]LiveStroke, 0, len(ls.byUser))
	for _, s := range ls.byUser {
		cp := *s
		cp.Points = append([]Point(nil), s.Points...)
		out = append(out, cp)
	}
	return out
}

// Len returns the number of authors currently drawing.
func (ls *LiveSet) Len() int { return len(ls.byUser) }

// Sweep removes live strokes not touched within ttl and reports how many
// were dropped. Called on a fixed schedule so abandoned strokes (author gone
// mid-draw) do not accumulate.
func (ls *LiveSet) Sweep(ttl time.Duration) int {
	cutoff := ls.clk.Now().Add(-ttl)
	dropped := 0
	for userID, s := range ls.byUser {
		if s.touched.Before(cutoff) {
			delete(ls.byUser, userID)
			dropped++
		}
	}
	return dropped
}
