package services

import (
	"context"

	"planewars/models"

	"github.com/sirupsen/logrus"
)

// RehydrationPayload is what a reconnecting client receives: the same view
// a fresh join would produce, without re-running join validation.
type RehydrationPayload struct {
	Room *RoomView `json:"room"`
	Game *GameView `json:"game,omitempty"`
}

// ReconnectionResolver rehydrates an identity's last-known room and game
// after (re)authentication. Stale pointers (room gone, membership lost)
// are cleared and resolve to nothing.
type ReconnectionResolver struct {
	sessions sessionReader
	rooms    *RoomService
	games    *GameService
}

// sessionReader is the slice of the session store the resolver needs.
type sessionReader interface {
	CurrentRoom(ctx context.Context, userID uint) (uint, error)
	ClearCurrentRoom(ctx context.Context, userID uint) error
}

func NewReconnectionResolver(sessions sessionReader, rooms *RoomService, games *GameService) *ReconnectionResolver {
	return &ReconnectionResolver{sessions: sessions, rooms: rooms, games: games}
}

// Resolve returns nil when the identity has no live room to return to.
func (r *ReconnectionResolver) Resolve(ctx context.Context, userID uint) (*RehydrationPayload, error) {
	roomID, err := r.sessions.CurrentRoom(ctx, userID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to read current-room pointer")
		return nil, models.NewTransientError("failed to resolve session")
	}
	if roomID == 0 {
		return nil, nil
	}

	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": roomID})

	view, err := r.rooms.GetRoom(ctx, roomID)
	if err != nil {
		if models.AsGameError(err).Code == models.ErrCodeNotFound {
			logCtx.Info("Clearing stale current-room pointer (room gone)")
			r.clear(ctx, userID)
			return nil, nil
		}
		return nil, err
	}

	member := false
	for i := range view.Members {
		if view.Members[i].UserID == userID {
			member = true
			break
		}
	}
	if !member {
		logCtx.Info("Clearing stale current-room pointer (no longer a member)")
		r.clear(ctx, userID)
		return nil, nil
	}

	payload := &RehydrationPayload{Room: view}
	if view.Status == models.RoomPlaying {
		game, err := r.games.ActiveGameForRoom(ctx, roomID)
		if err != nil {
			if models.AsGameError(err).Code != models.ErrCodeNotFound {
				return nil, err
			}
		} else {
			payload.Game = game.RedactFor(userID)
		}
	}

	logCtx.Info("Session rehydrated")
	return payload, nil
}

func (r *ReconnectionResolver) clear(ctx context.Context, userID uint) {
	if err := r.sessions.ClearCurrentRoom(ctx, userID); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to clear current-room pointer")
	}
}
