package store

import (
	"go.uber.org/zap"
)

// Saver decouples snapshot writes from the commit path. Enqueue never
// blocks; when the queue is full the save is dropped, because a newer
// snapshot for the same room will follow anyway. Failures are logged and
// never propagated: the room keeps serving from memory.
type Saver struct {
	store  Store
	logger *zap.Logger
	ch     chan saveReq
	done   chan struct{}

	// OnDrop and OnError are optional counters, wired to metrics by the
	// server.
	OnDrop  func()
	OnError func()
}

type saveReq struct {
	roomID string
	data   []byte
}

// NewSaver starts a background writer over the given store.
func NewSaver(s Store, logger *zap.Logger) *Saver {
	if logger == nil {
		logger = zap.NewNop()
	}
	sv := &Saver{
		store:  s,
		logger: logger,
		ch:     make(chan saveReq, 256),
		done:   make(chan struct{}),
	}
	go sv.run()
	return sv
}

// Enqueue schedules a best-effort snapshot write.
func (sv *Saver) Enqueue(roomID string, data []byte) {
	select {
	case sv.ch <- saveReq{roomID: roomID, data: data}:
	default:
		if sv.OnDrop != nil {
			sv.OnDrop()
		}
		sv.logger.Warn("snapshot save dropped, queue full", zap.String("room", roomID))
	}
}

// Close drains pending writes and stops the writer.
func (sv *Saver) Close() {
	close(sv.ch)
	<-sv.done
}

func (sv *Saver) run() {
	defer close(sv.done)
	for req := range sv.ch {
		if err := sv.store.SaveRoom(req.roomID, req.data); err != nil {
			if sv.OnError != nil {
				sv.OnError()
			}
			sv.logger.Error("snapshot save failed",
				zap.String("room", req.roomID),
				zap.Error(err))
		}
	}
}
