// A headless boardsync client: joins a room, mirrors the room's history
// locally and logs what the rest of the room is doing. With -draw it also
// contributes a stroke, which doubles as an end-to-end smoke test.
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"boardsync/internal/discovery"
	"boardsync/internal/state"
	"boardsync/internal/transport"
	"boardsync/internal/wire"
)

func main() {
	if err := run(); err != nil {
		zap.NewExample().Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	url := flag.String("url", "ws://localhost:3000/ws", "service websocket URL")
	useMDNS := flag.Bool("discover", false, "find the service via mdns instead of -url")
	roomID := flag.String("room", "lobby", "room to join")
	name := flag.String("name", "", "display name")
	draw := flag.Bool("draw", false, "draw a demo stroke after joining")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	target := *url
	if *useMDNS {
		addr, derr := discovery.First(3 * time.Second)
		if derr != nil {
			return derr
		}
		target = fmt.Sprintf("ws://%s/ws", addr)
		logger.Info("discovered service", zap.String("url", target))
	}

	displayName := *name
	if displayName == "" {
		displayName = fmt.Sprintf("Guest-%04x", rand.Intn(1<<16))
	}

	t := transport.New(target, transport.Config{Logger: logger})
	mirror := state.NewLog()
	var me string

	t.OnStateChange(func(sc transport.StateChange) {
		switch sc.State {
		case transport.Connected:
			logger.Info("connected")
		case transport.Reconnecting:
			logger.Warn("reconnecting",
				zap.Int("attempt", sc.Attempt),
				zap.Duration("delay", sc.Delay))
		case transport.Disconnected:
			logger.Info("disconnected")
		}
	})
	t.OnQuality(func(level transport.QualityLevel, rep transport.QualityReport) {
		logger.Warn("connection quality",
			zap.String("level", string(level)),
			zap.Float64("pongRatio", rep.PongRatio),
			zap.Duration("latency", rep.Latency))
	})

	t.On(wire.KindHello, func(m wire.Message) {
		me = m.(*wire.Hello).UserID
		logger.Info("assigned identity", zap.String("user", me))
	})
	t.On(wire.KindRoomJoined, func(m wire.Message) {
		msg := m.(*wire.RoomJoined)
		mirror = state.NewLog()
		for _, s := range msg.Snapshot.Strokes {
			mirror.Commit(s)
		}
		logger.Info("joined room",
			zap.String("room", msg.RoomID),
			zap.String("color", msg.Me.Color),
			zap.Int("users", len(msg.Users)),
			zap.Int("strokes", len(msg.Snapshot.Strokes)))
	})
	t.On(wire.KindPresenceJoin, func(m wire.Message) {
		msg := m.(*wire.PresenceJoin)
		logger.Info("user joined", zap.String("user", msg.UserID), zap.String("name", msg.Name))
	})
	t.On(wire.KindPresenceLeave, func(m wire.Message) {
		logger.Info("user left", zap.String("user", m.(*wire.PresenceLeave).UserID))
	})
	t.On(wire.KindStrokeCommit, func(m wire.Message) {
		msg := m.(*wire.StrokeCommit)
		mirror.Apply(msg.Op, &msg.Stroke)
		logger.Info("stroke committed",
			zap.String("stroke", msg.Stroke.ID),
			zap.String("by", msg.Stroke.UserID),
			zap.Uint64("seq", msg.Op.Seq),
			zap.Int("visible", len(mirror.Snapshot().Strokes)))
	})
	t.On(wire.KindHistoryUndo, func(m wire.Message) {
		if op := m.(*wire.HistoryUndo).Op; op != nil {
			mirror.Apply(*op, nil)
			logger.Info("undo", zap.String("stroke", op.StrokeID), zap.String("by", op.By))
		}
	})
	t.On(wire.KindHistoryRedo, func(m wire.Message) {
		if op := m.(*wire.HistoryRedo).Op; op != nil {
			mirror.Apply(*op, nil)
			logger.Info("redo", zap.String("stroke", op.StrokeID), zap.String("by", op.By))
		}
	})
	t.On(wire.KindError, func(m wire.Message) {
		logger.Warn("service error", zap.String("message", m.(*wire.Error).Message))
	})

	t.Connect()
	t.Send(&wire.RoomJoin{Type: wire.KindRoomJoin, RoomID: *roomID, Name: displayName})

	if *draw {
		go drawDemoStroke(t)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	t.Disconnect()
	return nil
}

// drawDemoStroke sends a sine wave as begin, three point batches and an
// end, the same shape of traffic a canvas produces.
func drawDemoStroke(t *transport.Transport) {
	time.Sleep(time.Second)
	strokeID := "demo_" + uuid.NewString()
	points := make([]state.Point, 0, 40)
	for i := 0; i < 40; i++ {
		points = append(points, state.Point{
			X: 100 + float64(i)*8,
			Y: 200 + 60*math.Sin(float64(i)/5),
			T: time.Now().UnixMilli(),
			P: 0.5,
		})
	}

	t.Send(&wire.StrokeBegin{
		Type:     wire.KindStrokeBegin,
		StrokeID: strokeID,
		Tool:     state.ToolBrush,
		Width:    4,
		Point:    points[0],
	})
	for i := 0; i < 3; i++ {
		batch := points[1+i*13 : min(1+(i+1)*13, len(points))]
		t.Send(&wire.StrokePoint{Type: wire.KindStrokePoint, StrokeID: strokeID, Points: batch})
		time.Sleep(100 * time.Millisecond)
	}
	t.Send(&wire.StrokeEnd{
		Type:     wire.KindStrokeEnd,
		StrokeID: strokeID,
		Tool:     state.ToolBrush,
		Width:    4,
		Points:   points,
	})
}
