// Package store persists room snapshots. The session core treats it as a
// collaborator: it hands over an opaque serialized snapshot after each
// durable operation and asks for one back when a room is first created.
// Persistence is a recovery aid only; the in-memory log stays the source of
// truth for the process lifetime.
package store

import (
	"errors"
	"sync"
)

// ErrRoomNotFound is returned when no snapshot exists for a room.
var ErrRoomNotFound = errors.New("room not found")

// Store is the snapshot storage contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// SaveRoom overwrites the snapshot for a room.
	SaveRoom(roomID string, data []byte) error

	// LoadRoom returns the stored snapshot for a room, or ErrRoomNotFound.
	LoadRoom(roomID string) ([]byte, error)
}

// MemoryStore keeps snapshots in a map. Used in tests and as a fallback when
// no data path is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) SaveRoom(roomID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[roomID] = cp
	return nil
}

func (m *MemoryStore) LoadRoom(roomID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}
