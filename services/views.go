package services

import (
	"math"
	"time"

	"planewars/models"
)

// RoomView is the denormalized room projection sent to clients and stored
// in the cache. Fully recomputable from the room document.
type RoomView struct {
	ID             uint             `json:"id"`
	Name           string           `json:"name"`
	Type           string           `json:"type"`
	MaxPlayers     int              `json:"max_players"`
	CurrentPlayers int              `json:"current_players"`
	Status         string           `json:"status"`
	HostID         uint             `json:"host_id"`
	Members        []RoomMemberView `json:"members"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type RoomMemberView struct {
	UserID   uint      `json:"user_id"`
	Slot     int       `json:"slot"`
	Ready    bool      `json:"ready"`
	JoinedAt time.Time `json:"joined_at"`
}

func NewRoomView(room *models.Room) *RoomView {
	view := &RoomView{
		ID:             room.ID,
		Name:           room.Name,
		Type:           room.Type,
		MaxPlayers:     room.MaxPlayers,
		CurrentPlayers: room.CurrentPlayers(),
		Status:         room.Status,
		HostID:         room.HostID,
		Members:        make([]RoomMemberView, 0, len(room.Members)),
		CreatedAt:      room.CreatedAt,
		UpdatedAt:      room.UpdatedAt,
	}
	for i := range room.Members {
		m := &room.Members[i]
		view.Members = append(view.Members, RoomMemberView{
			UserID:   m.UserID,
			Slot:     m.Slot,
			Ready:    m.Ready,
			JoinedAt: m.JoinedAt,
		})
	}
	return view
}

// GameView carries the full game projection. RedactFor strips the opponent's
// plane before it leaves the server.
type GameView struct {
	ID            uint                  `json:"id"`
	RoomID        uint                  `json:"room_id"`
	Player1ID     uint                  `json:"player1_id"`
	Player2ID     uint                  `json:"player2_id"`
	Phase         string                `json:"phase"`
	CurrentPlayer int                   `json:"current_player,omitempty"`
	TurnCount     int                   `json:"turn_count"`
	WinnerID      *uint                 `json:"winner_id,omitempty"`
	Player1Plane  *models.Airplane      `json:"player1_airplane,omitempty"`
	Player2Plane  *models.Airplane      `json:"player2_airplane,omitempty"`
	AttackHistory []models.AttackRecord `json:"attack_history"`
	StartedAt     *time.Time            `json:"started_at,omitempty"`
	FinishedAt    *time.Time            `json:"finished_at,omitempty"`
	Duration      int                   `json:"duration,omitempty"`
}

func NewGameView(game *models.Game) *GameView {
	return &GameView{
		ID:            game.ID,
		RoomID:        game.RoomID,
		Player1ID:     game.Player1ID,
		Player2ID:     game.Player2ID,
		Phase:         game.Phase,
		CurrentPlayer: game.CurrentPlayer,
		TurnCount:     game.TurnCount,
		WinnerID:      game.WinnerID,
		Player1Plane:  game.Player1Plane,
		Player2Plane:  game.Player2Plane,
		AttackHistory: game.Attacks,
		StartedAt:     game.StartedAt,
		FinishedAt:    game.FinishedAt,
		Duration:      game.Duration,
	}
}

// RedactFor hides the opponent's plane from viewerID. Finished games are
// served in full.
func (v *GameView) RedactFor(viewerID uint) *GameView {
	if v.Phase == models.PhaseFinished {
		return v
	}
	redacted := *v
	if viewerID != v.Player1ID {
		redacted.Player1Plane = nil
	}
	if viewerID != v.Player2ID {
		redacted.Player2Plane = nil
	}
	return &redacted
}

// RoomList is the paginated room-list payload.
type RoomList struct {
	Items      []RoomView `json:"items"`
	Total      int64      `json:"total"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	TotalPages int        `json:"total_pages"`
}

func NewRoomList(rooms []models.Room, total int64, page, limit int) *RoomList {
	items := make([]RoomView, 0, len(rooms))
	for i := range rooms {
		items = append(items, *NewRoomView(&rooms[i]))
	}
	return &RoomList{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
	}
}
