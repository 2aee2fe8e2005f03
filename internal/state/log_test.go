package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func brush(id, userID string, pts ...Point) Stroke {
	return Stroke{ID: id, UserID: userID, Tool: ToolBrush, Color: "#ff0000", Width: 4, Points: pts}
}

func visibleIDs(l *Log) []string {
	snap := l.Snapshot()
	ids := make([]string, 0, len(snap.Strokes))
	for _, s := range snap.Strokes {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestCommit(t *testing.T) {
	t.Run("stores stroke and appends op", func(t *testing.T) {
		l := NewLog()
		op, stored, err := l.Commit(brush("s1", "alice", Point{X: 1, Y: 2, P: 0.5}))
		require.NoError(t, err)
		require.NotNil(t, op)
		require.NotNil(t, stored)

		assert.Equal(t, OpCommit, op.Type)
		assert.Equal(t, uint64(1), op.Seq)
		assert.Equal(t, "s1", op.StrokeID)
		assert.Equal(t, "alice", op.UserID)
		assert.Equal(t, []string{"s1"}, visibleIDs(l))
	})

	t.Run("duplicate id is a silent no-op", func(t *testing.T) {
		l := NewLog()
		_, _, err := l.Commit(brush("s1", "alice"))
		require.NoError(t, err)

		op, stored, err := l.Commit(brush("s1", "bob"))
		require.NoError(t, err)
		assert.Nil(t, op)
		assert.Nil(t, stored)

		assert.Equal(t, 1, l.Len())
		assert.Equal(t, uint64(1), l.Seq(), "no-op commit must not burn a sequence number")
		assert.Equal(t, []string{"s1"}, visibleIDs(l))
	})

	t.Run("missing id is an error", func(t *testing.T) {
		l := NewLog()
		_, _, err := l.Commit(Stroke{UserID: "alice"})
		assert.ErrorIs(t, err, ErrInvalidStroke)
		assert.Equal(t, 0, l.Len())
	})
}

func TestNormalization(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		l := NewLog()
		_, stored, err := l.Commit(Stroke{ID: "s1"})
		require.NoError(t, err)
		assert.Equal(t, "unknown", stored.UserID)
		assert.Equal(t, ToolBrush, stored.Tool)
		assert.Equal(t, "#111111", stored.Color)
		assert.Equal(t, float64(4), stored.Width)
		assert.NotZero(t, stored.CreatedAt)
	})

	t.Run("unknown tool coerced to brush", func(t *testing.T) {
		l := NewLog()
		_, stored, err := l.Commit(Stroke{ID: "s1", Tool: "spraycan"})
		require.NoError(t, err)
		assert.Equal(t, ToolBrush, stored.Tool)
	})

	t.Run("width coerced into range", func(t *testing.T) {
		l := NewLog()
		_, wide, err := l.Commit(Stroke{ID: "s1", Width: 500})
		require.NoError(t, err)
		assert.Equal(t, float64(80), wide.Width)

		_, thin, err := l.Commit(Stroke{ID: "s2", Width: 0.2})
		require.NoError(t, err)
		assert.Equal(t, float64(1), thin.Width)
	})

	t.Run("points clamped", func(t *testing.T) {
		l := NewLog()
		_, stored, err := l.Commit(brush("s1", "alice",
			Point{X: 5e7, Y: -5e7, T: 10, P: 3},
			Point{X: 1, Y: 2, T: 10, P: -1},
		))
		require.NoError(t, err)
		assert.Equal(t, Point{X: 1e6, Y: -1e6, T: 10, P: 1}, stored.Points[0])
		assert.Equal(t, Point{X: 1, Y: 2, T: 10, P: 0}, stored.Points[1])
	})

	t.Run("shape kept only for shape tools", func(t *testing.T) {
		l := NewLog()
		sh := &Shape{X: 1, Y: 2, Width: 10, Height: 20}
		_, rect, err := l.Commit(Stroke{ID: "s1", Tool: ToolRect, Shape: sh})
		require.NoError(t, err)
		require.NotNil(t, rect.Shape)
		assert.Equal(t, *sh, *rect.Shape)

		_, b, err := l.Commit(Stroke{ID: "s2", Tool: ToolBrush, Shape: sh})
		require.NoError(t, err)
		assert.Nil(t, b.Shape)
	})

	t.Run("text defaults", func(t *testing.T) {
		l := NewLog()
		_, stored, err := l.Commit(Stroke{ID: "s1", Tool: ToolText, Text: "hi", X: 3, Y: 4})
		require.NoError(t, err)
		assert.Equal(t, "hi", stored.Text)
		assert.Equal(t, float64(24), stored.FontSize)
	})

	t.Run("image bounds escape the pen width clamp", func(t *testing.T) {
		l := NewLog()
		_, stored, err := l.Commit(Stroke{ID: "s1", Tool: ToolImage, ImageData: "data:image/png;base64,x", Width: 400})
		require.NoError(t, err)
		assert.Equal(t, float64(400), stored.Width)
		assert.Equal(t, float64(100), stored.Height)

		_, defaulted, err := l.Commit(Stroke{ID: "s2", Tool: ToolImage, ImageData: "data:image/png;base64,x"})
		require.NoError(t, err)
		assert.Equal(t, float64(100), defaulted.Width)
	})

	t.Run("text payload dropped without text", func(t *testing.T) {
		l := NewLog()
		_, stored, err := l.Commit(Stroke{ID: "s1", Tool: ToolText, FontSize: 30})
		require.NoError(t, err)
		assert.Empty(t, stored.Text)
		assert.Zero(t, stored.FontSize)
	})
}

func TestUndoRedo(t *testing.T) {
	t.Run("nothing to undo", func(t *testing.T) {
		l := NewLog()
		assert.Nil(t, l.Undo("alice"))
		assert.Nil(t, l.Redo("alice"))
		assert.Zero(t, l.Seq())
	})

	t.Run("undo then redo restores visibility", func(t *testing.T) {
		l := NewLog()
		l.Commit(brush("s1", "alice"))

		op := l.Undo("bob")
		require.NotNil(t, op)
		assert.Equal(t, OpUndo, op.Type)
		assert.Equal(t, "s1", op.StrokeID)
		assert.Equal(t, "bob", op.By)
		assert.Empty(t, visibleIDs(l))

		redo := l.Redo("bob")
		require.NotNil(t, redo)
		assert.Equal(t, OpRedo, redo.Type)
		assert.Equal(t, []string{"s1"}, visibleIDs(l))

		require.NotNil(t, l.Undo("bob"))
		assert.Empty(t, visibleIDs(l))
	})

	t.Run("undo is LIFO over commit order", func(t *testing.T) {
		l := NewLog()
		l.Commit(brush("a", "alice"))
		l.Commit(brush("b", "alice"))
		l.Commit(brush("c", "alice"))

		require.Equal(t, "c", l.Undo("alice").StrokeID)
		assert.Equal(t, []string{"a", "b"}, visibleIDs(l))

		require.Equal(t, "b", l.Undo("alice").StrokeID)
		assert.Equal(t, []string{"a"}, visibleIDs(l))

		require.Equal(t, "b", l.Redo("alice").StrokeID, "redo restores the most recent undo, not a or c")
		assert.Equal(t, []string{"a", "b"}, visibleIDs(l))
	})

	t.Run("redo exhausted after all undos redone", func(t *testing.T) {
		l := NewLog()
		l.Commit(brush("a", "alice"))
		require.NotNil(t, l.Undo("alice"))
		require.NotNil(t, l.Redo("alice"))
		assert.Nil(t, l.Redo("alice"))
	})
}

func TestSeqMonotonic(t *testing.T) {
	l := NewLog()
	l.Commit(brush("a", "alice"))
	l.Commit(brush("a", "alice")) // duplicate, no seq consumed
	l.Commit(brush("b", "alice"))
	l.Undo("alice")
	l.Redo("alice")

	var prev uint64
	for _, op := range l.timeline {
		assert.Equal(t, prev+1, op.Seq, "sequence numbers must increase without gaps")
		prev = op.Seq
	}
	assert.Equal(t, uint64(4), l.Seq())
}

func TestSerializeHydrate(t *testing.T) {
	t.Run("round trip preserves snapshot and undo behavior", func(t *testing.T) {
		l := NewLog()
		l.Commit(brush("a", "alice", Point{X: 1, Y: 1, T: 5, P: 0.5}))
		l.Commit(brush("b", "bob"))
		l.Commit(brush("c", "alice"))
		require.NotNil(t, l.Undo("bob"))

		data, err := l.Serialize()
		require.NoError(t, err)

		restored := NewLog()
		require.NoError(t, restored.Hydrate(data))

		assert.Equal(t, l.Seq(), restored.Seq())
		assert.Equal(t, visibleIDs(l), visibleIDs(restored))

		// The restored log must continue exactly where the original would.
		assert.Equal(t, "b", restored.Undo("x").StrokeID)
		assert.Equal(t, "b", restored.Redo("x").StrokeID)
		assert.Equal(t, "c", restored.Redo("x").StrokeID)
		assert.Nil(t, restored.Redo("x"))
		assert.Equal(t, []string{"a", "b", "c"}, visibleIDs(restored))
	})

	t.Run("empty log round trips", func(t *testing.T) {
		l := NewLog()
		data, err := l.Serialize()
		require.NoError(t, err)

		restored := NewLog()
		require.NoError(t, restored.Hydrate(data))
		assert.Zero(t, restored.Seq())
		assert.Empty(t, visibleIDs(restored))
		assert.Nil(t, restored.Undo("x"))
	})

	t.Run("garbage is an error", func(t *testing.T) {
		l := NewLog()
		assert.Error(t, l.Hydrate([]byte("{nope")))
	})
}

func TestApply(t *testing.T) {
	t.Run("mirrors remote operations", func(t *testing.T) {
		room := NewLog()
		mirror := NewLog()

		op, stored, err := room.Commit(brush("s1", "alice"))
		require.NoError(t, err)
		mirror.Apply(*op, stored)
		assert.Equal(t, visibleIDs(room), visibleIDs(mirror))
		assert.Equal(t, room.Seq(), mirror.Seq())

		undo := room.Undo("alice")
		mirror.Apply(*undo, nil)
		assert.Empty(t, visibleIDs(mirror))

		redo := room.Redo("alice")
		mirror.Apply(*redo, nil)
		assert.Equal(t, []string{"s1"}, visibleIDs(mirror))
	})

	t.Run("duplicate commit ignored", func(t *testing.T) {
		mirror := NewLog()
		s := brush("s1", "alice")
		op := Op{Type: OpCommit, Seq: 1, StrokeID: "s1", UserID: "alice"}
		mirror.Apply(op, &s)
		mirror.Apply(op, &s)
		assert.Equal(t, 1, mirror.Len())
	})
}
