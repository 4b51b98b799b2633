package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"planewars/models"
	"planewars/repository"
)

// In-memory repository fakes. They copy on read and write so services see
// the same load-mutate-persist boundary the gorm implementations give them.

type fakeRoomRepo struct {
	mu        sync.Mutex
	nextID    uint
	rooms     map[uint]*models.Room
	forceFull bool // simulate a concurrent join winning the capacity race
}

func newFakeRoomRepo() *fakeRoomRepo {
	return &fakeRoomRepo{rooms: make(map[uint]*models.Room)}
}

func copyRoom(r *models.Room) *models.Room {
	out := *r
	out.Members = make([]models.RoomMember, len(r.Members))
	copy(out.Members, r.Members)
	return &out
}

func (f *fakeRoomRepo) Create(ctx context.Context, room *models.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	room.ID = f.nextID
	for i := range room.Members {
		room.Members[i].RoomID = room.ID
	}
	f.rooms[room.ID] = copyRoom(room)
	return nil
}

func (f *fakeRoomRepo) FindByID(ctx context.Context, id uint) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	room, ok := f.rooms[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyRoom(room), nil
}

func (f *fakeRoomRepo) FindWaiting(ctx context.Context, page, limit int) ([]models.Room, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var waiting []models.Room
	for _, room := range f.rooms {
		if room.Status == models.RoomWaiting {
			waiting = append(waiting, *copyRoom(room))
		}
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].ID > waiting[j].ID })

	total := int64(len(waiting))
	start := (page - 1) * limit
	if start >= len(waiting) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(waiting) {
		end = len(waiting)
	}
	return waiting[start:end], total, nil
}

func (f *fakeRoomRepo) Update(ctx context.Context, room *models.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.rooms[room.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.Status = room.Status
	stored.HostID = room.HostID
	stored.UpdatedAt = room.UpdatedAt
	return nil
}

func (f *fakeRoomRepo) AddMember(ctx context.Context, room *models.Room, member *models.RoomMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.rooms[room.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if f.forceFull || len(stored.Members) >= stored.MaxPlayers {
		return repository.ErrRoomFull
	}
	m := *member
	m.RoomID = room.ID
	stored.Members = append(stored.Members, m)
	return nil
}

func (f *fakeRoomRepo) RemoveMember(ctx context.Context, roomID, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.rooms[roomID]
	if !ok {
		return repository.ErrNotFound
	}
	for i := range stored.Members {
		if stored.Members[i].UserID == userID {
			stored.Members = append(stored.Members[:i], stored.Members[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeRoomRepo) UpdateMember(ctx context.Context, member *models.RoomMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.rooms[member.RoomID]
	if !ok {
		return repository.ErrNotFound
	}
	for i := range stored.Members {
		if stored.Members[i].UserID == member.UserID {
			stored.Members[i].Ready = member.Ready
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeRoomRepo) Delete(ctx context.Context, roomID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, roomID)
	return nil
}

type fakeGameRepo struct {
	mu     sync.Mutex
	nextID uint
	games  map[uint]*models.Game
}

func newFakeGameRepo() *fakeGameRepo {
	return &fakeGameRepo{games: make(map[uint]*models.Game)}
}

func copyGame(g *models.Game) *models.Game {
	out := *g
	out.Attacks = make([]models.AttackRecord, len(g.Attacks))
	copy(out.Attacks, g.Attacks)
	return &out
}

func (f *fakeGameRepo) Create(ctx context.Context, game *models.Game) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	game.ID = f.nextID
	f.games[game.ID] = copyGame(game)
	return nil
}

func (f *fakeGameRepo) FindByID(ctx context.Context, id uint) (*models.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	game, ok := f.games[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyGame(game), nil
}

func (f *fakeGameRepo) FindActiveByRoom(ctx context.Context, roomID uint) (*models.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, game := range f.games {
		if game.RoomID == roomID && game.Phase != models.PhaseFinished {
			return copyGame(game), nil
		}
	}
	return nil, repository.ErrNotFound
}

// Update mirrors the gorm implementation's column selection: attack rows
// are only ever written through AppendAttack.
func (f *fakeGameRepo) Update(ctx context.Context, game *models.Game) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.games[game.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.Phase = game.Phase
	stored.CurrentPlayer = game.CurrentPlayer
	stored.TurnCount = game.TurnCount
	stored.WinnerID = game.WinnerID
	stored.Player1Plane = game.Player1Plane
	stored.Player2Plane = game.Player2Plane
	stored.StartedAt = game.StartedAt
	stored.FinishedAt = game.FinishedAt
	stored.Duration = game.Duration
	return nil
}

func (f *fakeGameRepo) AppendAttack(ctx context.Context, record *models.AttackRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.games[record.GameID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.Attacks = append(stored.Attacks, *record)
	return nil
}

type fakeSessionStore struct {
	mu          sync.Mutex
	rooms       map[uint]uint
	online      map[uint]bool
	onlineMarks int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{rooms: make(map[uint]uint), online: make(map[uint]bool)}
}

func (f *fakeSessionStore) SetCurrentRoom(ctx context.Context, userID, roomID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[userID] = roomID
	return nil
}

func (f *fakeSessionStore) CurrentRoom(ctx context.Context, userID uint) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[userID], nil
}

func (f *fakeSessionStore) ClearCurrentRoom(ctx context.Context, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, userID)
	return nil
}

func (f *fakeSessionStore) MarkOnline(ctx context.Context, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = true
	f.onlineMarks++
	return nil
}

func (f *fakeSessionStore) markCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onlineMarks
}

func (f *fakeSessionStore) MarkOffline(ctx context.Context, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.online, userID)
	return nil
}

// memCache is a real (if tiny) cache, so tests can observe hits and
// invalidations.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.data[key]
	if !ok {
		return nil, nil
	}
	return data, nil
}

func (c *memCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.data, key)
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}
