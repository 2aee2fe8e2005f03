package state

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveSet(t *testing.T) {
	p := func(x, y float64) Point { return Point{X: x, Y: y, P: 0.5, T: 1} }

	t.Run("begin append end", func(t *testing.T) {
		ls := NewLiveSet(nil)
		ls.Begin("alice", "s1", ToolBrush, "#ff0000", 4, p(0, 0))
		require.Equal(t, 1, ls.Len())

		require.True(t, ls.Append("alice", "s1", []Point{p(1, 1), p(2, 2)}))
		all := ls.AllLive()
		require.Len(t, all, 1)
		assert.Equal(t, "s1", all[0].StrokeID)
		assert.Len(t, all[0].Points, 3)

		require.True(t, ls.End("alice", "s1"))
		assert.Zero(t, ls.Len())
	})

	t.Run("one live stroke per author", func(t *testing.T) {
		ls := NewLiveSet(nil)
		ls.Begin("alice", "s1", ToolBrush, "#ff0000", 4, p(0, 0))
		ls.Begin("alice", "s2", ToolBrush, "#ff0000", 4, p(5, 5))

		all := ls.AllLive()
		require.Len(t, all, 1)
		assert.Equal(t, "s2", all[0].StrokeID, "a second begin replaces the first")

		ls.Begin("bob", "s3", ToolEraser, "#ffffff", 20, p(0, 0))
		assert.Equal(t, 2, ls.Len())
	})

	t.Run("late points after end are dropped", func(t *testing.T) {
		ls := NewLiveSet(nil)
		ls.Begin("alice", "s1", ToolBrush, "#ff0000", 4, p(0, 0))
		require.True(t, ls.End("alice", "s1"))

		assert.False(t, ls.Append("alice", "s1", []Point{p(1, 1)}))
		assert.False(t, ls.End("alice", "s1"))
		assert.Zero(t, ls.Len())
	})

	t.Run("mismatched id is ignored", func(t *testing.T) {
		ls := NewLiveSet(nil)
		ls.Begin("alice", "s1", ToolBrush, "#ff0000", 4, p(0, 0))

		assert.False(t, ls.Append("alice", "other", []Point{p(1, 1)}))
		assert.False(t, ls.End("alice", "other"))
		assert.Equal(t, 1, ls.Len(), "the current stroke survives stale ids")
	})

	t.Run("cancel drops regardless of id", func(t *testing.T) {
		ls := NewLiveSet(nil)
		ls.Begin("alice", "s1", ToolBrush, "#ff0000", 4, p(0, 0))
		ls.Cancel("alice")
		assert.Zero(t, ls.Len())

		ls.Cancel("nobody") // no-op
	})

	t.Run("points clamped on the way in", func(t *testing.T) {
		ls := NewLiveSet(nil)
		ls.Begin("alice", "s1", ToolBrush, "#ff0000", 4, Point{X: 9e9, Y: -9e9, P: 7, T: 1})
		require.True(t, ls.Append("alice", "s1", []Point{{X: 2e6, Y: 0, P: -1, T: 2}}))

		all := ls.AllLive()
		require.Len(t, all, 1)
		assert.Equal(t, Point{X: 1e6, Y: -1e6, P: 1, T: 1}, all[0].Points[0])
		assert.Equal(t, Point{X: 1e6, Y: 0, P: 0, T: 2}, all[0].Points[1])
	})

	t.Run("all live returns copies", func(t *testing.T) {
		ls := NewLiveSet(nil)
		ls.Begin("alice", "s1", ToolBrush, "#ff0000", 4, p(0, 0))

		all := ls.AllLive()
		all[0].Points[0].X = 999

		again := ls.AllLive()
		assert.Equal(t, float64(0), again[0].Points[0].X)
	})
}

func TestLiveSetSweep(t *testing.T) {
	p := Point{X: 1, Y: 1, P: 0.5, T: 1}

	t.Run("reclaims abandoned strokes", func(t *testing.T) {
		mock := clock.NewMock()
		ls := NewLiveSet(mock)

		ls.Begin("alice", "s1", ToolBrush, "#ff0000", 4, p)
		mock.Add(11 * time.Second)
		ls.Begin("bob", "s2", ToolBrush, "#00ff00", 4, p)

		assert.Equal(t, 1, ls.Sweep(10*time.Second))
		assert.Equal(t, 1, ls.Len())
		assert.Equal(t, "s2", ls.AllLive()[0].StrokeID)
	})

	t.Run("appends refresh the deadline", func(t *testing.T) {
		mock := clock.NewMock()
		ls := NewLiveSet(mock)

		ls.Begin("alice", "s1", ToolBrush, "#ff0000", 4, p)
		mock.Add(8 * time.Second)
		require.True(t, ls.Append("alice", "s1", []Point{p}))
		mock.Add(8 * time.Second)

		assert.Zero(t, ls.Sweep(10*time.Second), "touched 8s ago, still inside the ttl")
		assert.Equal(t, 1, ls.Len())
	})

	t.Run("empty set sweeps clean", func(t *testing.T) {
		ls := NewLiveSet(clock.NewMock())
		assert.Zero(t, ls.Sweep(time.Second))
	})
}
