package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"planewars/models"
	"planewars/repository"

	"github.com/sirupsen/logrus"
)

// GameService runs match commands against the game aggregate and keeps the
// persisted document and derived views in sync. It shares the room lock
// registry with RoomService so game and membership commands on the same
// room serialize.
type GameService struct {
	rooms    repository.RoomRepository
	games    repository.GameRepository
	cache    repository.Cache
	cacheTTL time.Duration
	locks    *RoomLocks
}

func NewGameService(
	rooms repository.RoomRepository,
	games repository.GameRepository,
	cache repository.Cache,
	cacheTTL time.Duration,
	locks *RoomLocks,
) *GameService {
	return &GameService{
		rooms:    rooms,
		games:    games,
		cache:    cache,
		cacheTTL: cacheTTL,
		locks:    locks,
	}
}

// StartForRoom creates the match once the room has flipped to playing.
// Players map to seats by slot order.
func (s *GameService) StartForRoom(ctx context.Context, roomID uint) (*GameView, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, models.NewNotFoundError("room %d not found", roomID)
		}
		return nil, models.NewTransientError("failed to load room")
	}
	if room.Status != models.RoomPlaying {
		return nil, models.NewConflictError("room %d has not started", roomID)
	}

	if _, err := s.games.FindActiveByRoom(ctx, roomID); err == nil {
		return nil, models.NewConflictError("room %d already has a running game", roomID)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, models.NewTransientError("failed to check for a running game")
	}

	var player1ID, player2ID uint
	for i := range room.Members {
		userID := room.Members[i].UserID
		switch room.PlayerNumber(userID) {
		case 1:
			player1ID = userID
		case 2:
			player2ID = userID
		}
	}
	if player1ID == 0 || player2ID == 0 {
		return nil, models.NewConflictError("room %d does not have two seated players", roomID)
	}

	game := models.NewGame(roomID, player1ID, player2ID)
	if err := s.games.Create(ctx, game); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Failed to persist new game")
		return nil, models.NewTransientError("failed to start game")
	}

	s.invalidate(ctx, roomID, game.ID)

	logrus.WithFields(logrus.Fields{
		"game_id": game.ID, "room_id": roomID,
		"player1_id": player1ID, "player2_id": player2ID,
	}).Info("Game started")
	return NewGameView(game), nil
}

// PlaceAirplane applies userID's placement. The second return reports
// whether the placement completed the set and battle began.
func (s *GameService) PlaceAirplane(ctx context.Context, userID, roomID uint, plane models.Airplane) (*GameView, bool, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	game, err := s.loadActiveGame(ctx, roomID)
	if err != nil {
		return nil, false, err
	}

	if err := game.PlacePlane(userID, plane); err != nil {
		return nil, false, err
	}
	battleStarted := game.Phase == models.PhaseBattle

	if err := s.games.Update(ctx, game); err != nil {
		logrus.WithError(err).WithField("game_id", game.ID).Error("Failed to persist placement")
		return nil, false, models.NewTransientError("failed to place airplane")
	}

	s.invalidate(ctx, roomID, game.ID)

	logrus.WithFields(logrus.Fields{
		"game_id": game.ID, "user_id": userID, "battle_started": battleStarted,
	}).Info("Airplane placed")
	return NewGameView(game), battleStarted, nil
}

// Attack resolves one shot. On hit_head the game finishes and the room is
// released back to finished state.
func (s *GameService) Attack(ctx context.Context, userID, roomID uint, cell models.Cell) (*models.AttackResult, *GameView, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	game, err := s.loadActiveGame(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}

	result, err := game.Attack(userID, cell)
	if err != nil {
		return nil, nil, err
	}

	// The attack validated; its write runs to completion even if the
	// connection drops mid-flight.
	record := &game.Attacks[len(game.Attacks)-1]
	if err := s.games.AppendAttack(ctx, record); err != nil {
		logrus.WithError(err).WithField("game_id", game.ID).Error("Failed to persist attack record")
		return nil, nil, models.NewTransientError("failed to attack")
	}
	if err := s.games.Update(ctx, game); err != nil {
		logrus.WithError(err).WithField("game_id", game.ID).Error("Failed to persist attack")
		return nil, nil, models.NewTransientError("failed to attack")
	}

	if result.GameEnded {
		s.finishRoom(ctx, roomID)
	}

	s.invalidate(ctx, roomID, game.ID)

	logrus.WithFields(logrus.Fields{
		"game_id": game.ID, "user_id": userID,
		"cell": cell.String(), "outcome": result.Outcome, "game_ended": result.GameEnded,
	}).Info("Attack resolved")
	return result, NewGameView(game), nil
}

// Surrender ends the game voluntarily; the opponent wins.
func (s *GameService) Surrender(ctx context.Context, userID, roomID uint) (*GameView, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	game, err := s.loadActiveGame(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if err := game.Surrender(userID); err != nil {
		return nil, err
	}
	if err := s.games.Update(ctx, game); err != nil {
		logrus.WithError(err).WithField("game_id", game.ID).Error("Failed to persist surrender")
		return nil, models.NewTransientError("failed to surrender")
	}

	s.finishRoom(ctx, roomID)
	s.invalidate(ctx, roomID, game.ID)

	logrus.WithFields(logrus.Fields{"game_id": game.ID, "user_id": userID}).Info("Player surrendered")
	return NewGameView(game), nil
}

// ActiveGameForRoom serves the running game's view, read-through cached.
// The caller redacts per viewer before sending.
func (s *GameService) ActiveGameForRoom(ctx context.Context, roomID uint) (*GameView, error) {
	game, err := s.loadActiveGame(ctx, roomID)
	if err != nil {
		return nil, err
	}

	key := repository.GameViewKey(game.ID)
	if data, err := s.cache.Get(ctx, key); err != nil {
		logrus.WithError(err).WithField("game_id", game.ID).Warn("Cache read failed")
	} else if data != nil {
		var view GameView
		if err := json.Unmarshal(data, &view); err == nil {
			return &view, nil
		}
		logrus.WithField("game_id", game.ID).Warn("Discarding undecodable cached game view")
	}

	view := NewGameView(game)
	if data, err := json.Marshal(view); err == nil {
		if err := s.cache.Put(ctx, key, data, s.cacheTTL); err != nil {
			logrus.WithError(err).WithField("game_id", game.ID).Warn("Cache write failed")
		}
	}
	return view, nil
}

func (s *GameService) loadActiveGame(ctx context.Context, roomID uint) (*models.Game, error) {
	game, err := s.games.FindActiveByRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, models.NewNotFoundError("room %d has no running game", roomID)
		}
		logrus.WithError(err).WithField("room_id", roomID).Error("Failed to load game")
		return nil, models.NewTransientError("failed to load game")
	}
	return game, nil
}

func (s *GameService) finishRoom(ctx context.Context, roomID uint) {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Warn("Failed to load room after game end")
		return
	}
	room.Finish()
	if err := s.rooms.Update(ctx, room); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Warn("Failed to persist room after game end")
	}
}

func (s *GameService) invalidate(ctx context.Context, roomID, gameID uint) {
	if err := s.cache.Invalidate(ctx, repository.RoomViewKey(roomID), repository.GameViewKey(gameID)); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "game_id": gameID}).
			Warn("Cache invalidation failed")
	}
}
