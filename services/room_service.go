package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"planewars/models"
	"planewars/repository"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// RoomService runs room lifecycle commands: it loads the document, applies
// the pure aggregate operation, persists through the repository and
// invalidates derived cache keys before the gateway broadcasts anything.
type RoomService struct {
	rooms    repository.RoomRepository
	games    repository.GameRepository
	sessions repository.SessionStore
	cache    repository.Cache
	cacheTTL time.Duration
	locks    *RoomLocks
}

func NewRoomService(
	rooms repository.RoomRepository,
	games repository.GameRepository,
	sessions repository.SessionStore,
	cache repository.Cache,
	cacheTTL time.Duration,
	locks *RoomLocks,
) *RoomService {
	return &RoomService{
		rooms:    rooms,
		games:    games,
		sessions: sessions,
		cache:    cache,
		cacheTTL: cacheTTL,
		locks:    locks,
	}
}

type CreateRoomRequest struct {
	Name     string `json:"name" binding:"required,max=64"`
	Type     string `json:"type" binding:"required,oneof=public private"`
	Password string `json:"password"`
}

// LeaveResult describes what a departure changed, for fan-out.
type LeaveResult struct {
	Room        *RoomView
	Dissolved   bool
	HostChanged bool
	NewHostID   uint
	GameEnded   bool
	WinnerID    *uint
}

func (s *RoomService) CreateRoom(ctx context.Context, hostID uint, req *CreateRoomRequest) (*RoomView, error) {
	password := ""
	if req.Type == models.RoomPrivate {
		if req.Password == "" {
			return nil, models.NewValidationError("private rooms require a password")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithError(err).Error("Failed to hash room password")
			return nil, models.NewTransientError("failed to create room")
		}
		password = string(hash)
	}

	room, err := models.NewRoom(hostID, req.Name, req.Type, password)
	if err != nil {
		return nil, err
	}

	if err := s.rooms.Create(ctx, room); err != nil {
		logrus.WithError(err).WithField("host_id", hostID).Error("Failed to persist new room")
		return nil, models.NewTransientError("failed to create room")
	}

	if err := s.sessions.SetCurrentRoom(ctx, hostID, room.ID); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"user_id": hostID, "room_id": room.ID}).
			Warn("Failed to record current-room pointer")
	}

	logrus.WithFields(logrus.Fields{"room_id": room.ID, "host_id": hostID, "type": room.Type}).
		Info("Room created")
	return NewRoomView(room), nil
}

// JoinRoom seats userID in the room. The per-room lock serializes joins in
// this process; the repository re-checks capacity transactionally so two
// processes cannot both squeeze past a near-full room.
func (s *RoomService) JoinRoom(ctx context.Context, userID, roomID uint, password string) (*RoomView, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if room.Type == models.RoomPrivate {
		if bcrypt.CompareHashAndPassword([]byte(room.Password), []byte(password)) != nil {
			return nil, models.NewPermissionError("wrong room password")
		}
	}

	member, err := room.AddMember(userID)
	if err != nil {
		return nil, err
	}

	if err := s.rooms.AddMember(ctx, room, member); err != nil {
		if errors.Is(err, repository.ErrRoomFull) {
			return nil, models.NewConflictError("room %d is full", roomID)
		}
		logrus.WithError(err).WithFields(logrus.Fields{"user_id": userID, "room_id": roomID}).
			Error("Failed to persist membership")
		return nil, models.NewTransientError("failed to join room")
	}

	if err := s.sessions.SetCurrentRoom(ctx, userID, roomID); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"user_id": userID, "room_id": roomID}).
			Warn("Failed to record current-room pointer")
	}

	s.invalidateRoom(ctx, roomID)

	logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": roomID, "slot": member.Slot}).
		Info("Player joined room")
	return NewRoomView(room), nil
}

// LeaveRoom removes userID, reassigning the host or dissolving the room as
// needed. Leaving a room whose game is still running forfeits: the
// remaining player wins.
func (s *RoomService) LeaveRoom(ctx context.Context, userID, roomID uint) (*LeaveResult, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	wasPlaying := room.Status == models.RoomPlaying

	newHostID, hostChanged, err := room.RemoveMember(userID)
	if err != nil {
		return nil, err
	}

	if err := s.rooms.RemoveMember(ctx, roomID, userID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		logrus.WithError(err).WithFields(logrus.Fields{"user_id": userID, "room_id": roomID}).
			Error("Failed to persist member removal")
		return nil, models.NewTransientError("failed to leave room")
	}

	result := &LeaveResult{
		Room:        NewRoomView(room),
		Dissolved:   room.CurrentPlayers() == 0,
		HostChanged: hostChanged,
		NewHostID:   newHostID,
	}

	if wasPlaying {
		result.GameEnded, result.WinnerID = s.forfeitActiveGame(ctx, room, userID)
		if room.Status != models.RoomFinished {
			room.Finish()
		}
	}

	if err := s.rooms.Update(ctx, room); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Failed to persist room after departure")
		return nil, models.NewTransientError("failed to leave room")
	}

	if result.Dissolved {
		if err := s.rooms.Delete(ctx, roomID); err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Warn("Failed to delete emptied room")
		}
	}

	if err := s.sessions.ClearCurrentRoom(ctx, userID); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to clear current-room pointer")
	}

	s.invalidateRoom(ctx, roomID)

	logrus.WithFields(logrus.Fields{
		"user_id": userID, "room_id": roomID,
		"dissolved": result.Dissolved, "host_changed": hostChanged,
	}).Info("Player left room")
	return result, nil
}

// SetReady toggles the member's flag. The second return reports whether the
// room just reached all-ready and flipped to playing.
func (s *RoomService) SetReady(ctx context.Context, userID, roomID uint, ready bool) (*RoomView, bool, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, false, err
	}

	if err := room.SetReady(userID, ready); err != nil {
		return nil, false, err
	}
	if err := s.rooms.UpdateMember(ctx, room.Member(userID)); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"user_id": userID, "room_id": roomID}).
			Error("Failed to persist ready flag")
		return nil, false, models.NewTransientError("failed to update ready state")
	}

	started := room.StartGame()
	if started {
		if err := s.rooms.Update(ctx, room); err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Error("Failed to persist room start")
			return nil, false, models.NewTransientError("failed to start game")
		}
	}

	s.invalidateRoom(ctx, roomID)
	return NewRoomView(room), started, nil
}

// KickMember removes targetID on the host's behalf. Kicking the opponent
// out of a running game forfeits it the same way leaving does: the
// remaining player wins and the room is released.
func (s *RoomService) KickMember(ctx context.Context, callerID, roomID, targetID uint) (*LeaveResult, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	wasPlaying := room.Status == models.RoomPlaying

	if err := room.KickMember(callerID, targetID); err != nil {
		return nil, err
	}

	if err := s.rooms.RemoveMember(ctx, roomID, targetID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		logrus.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "target_id": targetID}).
			Error("Failed to persist kick")
		return nil, models.NewTransientError("failed to kick player")
	}

	result := &LeaveResult{}
	if wasPlaying {
		result.GameEnded, result.WinnerID = s.forfeitActiveGame(ctx, room, targetID)
		if room.Status != models.RoomFinished {
			room.Finish()
		}
	}
	result.Room = NewRoomView(room)

	if err := s.rooms.Update(ctx, room); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Failed to persist room after kick")
		return nil, models.NewTransientError("failed to kick player")
	}

	if err := s.sessions.ClearCurrentRoom(ctx, targetID); err != nil {
		logrus.WithError(err).WithField("user_id", targetID).Warn("Failed to clear current-room pointer")
	}

	s.invalidateRoom(ctx, roomID)

	logrus.WithFields(logrus.Fields{
		"room_id": roomID, "host_id": callerID, "target_id": targetID,
		"game_ended": result.GameEnded,
	}).Info("Player kicked")
	return result, nil
}

// DissolveRoom deletes the room by host action.
func (s *RoomService) DissolveRoom(ctx context.Context, callerID, roomID uint) (*RoomView, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if callerID != room.HostID {
		return nil, models.NewPermissionError("only the host can dissolve the room")
	}

	if room.Status == models.RoomPlaying {
		s.forfeitActiveGame(ctx, room, 0)
	}
	room.Finish()

	view := NewRoomView(room)
	if err := s.rooms.Delete(ctx, roomID); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Failed to delete room")
		return nil, models.NewTransientError("failed to dissolve room")
	}

	for i := range room.Members {
		if err := s.sessions.ClearCurrentRoom(ctx, room.Members[i].UserID); err != nil {
			logrus.WithError(err).WithField("user_id", room.Members[i].UserID).
				Warn("Failed to clear current-room pointer")
		}
	}

	s.invalidateRoom(ctx, roomID)

	logrus.WithFields(logrus.Fields{"room_id": roomID, "host_id": callerID}).Info("Room dissolved")
	return view, nil
}

// GetRoom serves the room view, read-through cached.
func (s *RoomService) GetRoom(ctx context.Context, roomID uint) (*RoomView, error) {
	key := repository.RoomViewKey(roomID)
	if data, err := s.cache.Get(ctx, key); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Warn("Cache read failed")
	} else if data != nil {
		var view RoomView
		if err := json.Unmarshal(data, &view); err == nil {
			return &view, nil
		}
		logrus.WithField("room_id", roomID).Warn("Discarding undecodable cached room view")
	}

	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	view := NewRoomView(room)

	if data, err := json.Marshal(view); err == nil {
		if err := s.cache.Put(ctx, key, data, s.cacheTTL); err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Warn("Cache write failed")
		}
	}
	return view, nil
}

// ListRooms returns joinable rooms, paginated.
func (s *RoomService) ListRooms(ctx context.Context, page, limit int) (*RoomList, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	rooms, total, err := s.rooms.FindWaiting(ctx, page, limit)
	if err != nil {
		logrus.WithError(err).Error("Failed to list rooms")
		return nil, models.NewTransientError("failed to list rooms")
	}
	return NewRoomList(rooms, total, page, limit), nil
}

// IsMember reports membership without mutating anything.
func (s *RoomService) IsMember(ctx context.Context, userID, roomID uint) (bool, error) {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	return room.Member(userID) != nil, nil
}

func (s *RoomService) loadRoom(ctx context.Context, roomID uint) (*models.Room, error) {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, models.NewNotFoundError("room %d not found", roomID)
		}
		logrus.WithError(err).WithField("room_id", roomID).Error("Failed to load room")
		return nil, models.NewTransientError("failed to load room")
	}
	return room, nil
}

// forfeitActiveGame ends the room's running game when a player departs.
// leaverID 0 means no winner (administrative dissolution).
func (s *RoomService) forfeitActiveGame(ctx context.Context, room *models.Room, leaverID uint) (bool, *uint) {
	game, err := s.games.FindActiveByRoom(ctx, room.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logrus.WithError(err).WithField("room_id", room.ID).Warn("Failed to load active game for forfeit")
		}
		return false, nil
	}

	var winnerID *uint
	if leaverID != 0 && game.PlayerNumber(leaverID) != 0 {
		w := game.OpponentID(leaverID)
		winnerID = &w
	}
	if err := game.ForceEnd(winnerID); err != nil {
		return false, nil
	}
	if err := s.games.Update(ctx, game); err != nil {
		logrus.WithError(err).WithField("game_id", game.ID).Error("Failed to persist forfeited game")
		return false, nil
	}

	if err := s.cache.Invalidate(ctx, repository.GameViewKey(game.ID)); err != nil {
		logrus.WithError(err).WithField("game_id", game.ID).Warn("Cache invalidation failed")
	}
	return true, winnerID
}

func (s *RoomService) invalidateRoom(ctx context.Context, roomID uint) {
	if err := s.cache.Invalidate(ctx, repository.RoomViewKey(roomID)); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Warn("Cache invalidation failed")
	}
}
