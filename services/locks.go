package services

import "sync"

// RoomLocks serializes conflicting commands against the same room inside
// this process. One instance is shared by RoomService and GameService so a
// join cannot interleave with an attack on the same room. Cross-process
// conflicts are handled at the store (capacity re-check transaction).
type RoomLocks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func NewRoomLocks() *RoomLocks {
	return &RoomLocks{locks: make(map[uint]*sync.Mutex)}
}

// Lock acquires the lock for roomID and returns the unlock func.
func (l *RoomLocks) Lock(roomID uint) func() {
	l.mu.Lock()
	m, ok := l.locks[roomID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[roomID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
