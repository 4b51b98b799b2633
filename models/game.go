package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const BoardSize = 10

// Game phases. Monotonic: a game never regresses to an earlier phase.
const (
	PhaseWaiting   = "waiting"
	PhasePlacement = "placement"
	PhaseBattle    = "battle"
	PhaseFinished  = "finished"
)

// Attack outcomes.
const (
	OutcomeMiss    = "miss"
	OutcomeHitBody = "hit_body"
	OutcomeHitHead = "hit_head"
)

// Airplane orientations.
const (
	OrientationUp    = "up"
	OrientationDown  = "down"
	OrientationLeft  = "left"
	OrientationRight = "right"
)

type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Cell) InBounds() bool {
	return c.X >= 0 && c.X < BoardSize && c.Y >= 0 && c.Y < BoardSize
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Airplane is one player's placed plane. Stored as a jsonb column on the
// game document.
type Airplane struct {
	Head        Cell   `json:"head"`
	Body        []Cell `json:"body"`
	Wings       []Cell `json:"wings"`
	Tail        []Cell `json:"tail"`
	Orientation string `json:"orientation"`
	Placed      bool   `json:"placed"`
}

func (a Airplane) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *Airplane) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for airplane column", value)
	}
	return json.Unmarshal(data, a)
}

// cells returns every cell the plane occupies, head first.
func (a *Airplane) cells() []Cell {
	out := make([]Cell, 0, 1+len(a.Body)+len(a.Wings)+len(a.Tail))
	out = append(out, a.Head)
	out = append(out, a.Body...)
	out = append(out, a.Wings...)
	out = append(out, a.Tail...)
	return out
}

// covers reports whether cell belongs to the plane's body, wings or tail.
func (a *Airplane) covers(cell Cell) bool {
	for _, c := range a.Body {
		if c == cell {
			return true
		}
	}
	for _, c := range a.Wings {
		if c == cell {
			return true
		}
	}
	for _, c := range a.Tail {
		if c == cell {
			return true
		}
	}
	return false
}

type Game struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	RoomID        uint           `json:"room_id" gorm:"not null;index"`
	Player1ID     uint           `json:"player1_id" gorm:"not null"`
	Player2ID     uint           `json:"player2_id" gorm:"not null"`
	Phase         string         `json:"phase" gorm:"not null;default:'placement'"`
	CurrentPlayer int            `json:"current_player"` // 1 or 2, meaningful only in battle
	TurnCount     int            `json:"turn_count" gorm:"not null;default:0"`
	WinnerID      *uint          `json:"winner_id,omitempty"`
	Player1Plane  *Airplane      `json:"player1_airplane,omitempty" gorm:"type:jsonb"`
	Player2Plane  *Airplane      `json:"player2_airplane,omitempty" gorm:"type:jsonb"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	Duration      int            `json:"duration,omitempty"` // seconds, battle start to finish
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Attacks []AttackRecord `json:"attack_history,omitempty" gorm:"foreignKey:GameID"`
}

type AttackRecord struct {
	ID         uint           `json:"-" gorm:"primaryKey"`
	GameID     uint           `json:"-" gorm:"not null;index"`
	AttackerID uint           `json:"attacker_id" gorm:"not null"`
	X          int            `json:"x" gorm:"not null"`
	Y          int            `json:"y" gorm:"not null"`
	Outcome    string         `json:"outcome" gorm:"not null"`
	CreatedAt  time.Time      `json:"timestamp"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`
}

// AttackResult is what an accepted attack reports back for fan-out.
type AttackResult struct {
	Cell      Cell   `json:"cell"`
	Outcome   string `json:"outcome"`
	NextTurn  int    `json:"next_turn"`
	GameEnded bool   `json:"game_ended"`
	WinnerID  *uint  `json:"winner_id,omitempty"`
}

// NewGame starts a match between the two seated players, entering the
// placement phase immediately. No I/O happens here; the service persists.
func NewGame(roomID, player1ID, player2ID uint) *Game {
	return &Game{
		RoomID:    roomID,
		Player1ID: player1ID,
		Player2ID: player2ID,
		Phase:     PhasePlacement,
		TurnCount: 0,
	}
}

// PlayerNumber returns 1 or 2 for a participant, 0 otherwise.
func (g *Game) PlayerNumber(userID uint) int {
	switch userID {
	case g.Player1ID:
		return 1
	case g.Player2ID:
		return 2
	}
	return 0
}

func (g *Game) OpponentID(userID uint) uint {
	if userID == g.Player1ID {
		return g.Player2ID
	}
	return g.Player1ID
}

func (g *Game) planeFor(player int) *Airplane {
	if player == 1 {
		return g.Player1Plane
	}
	return g.Player2Plane
}

// PlacePlane records userID's airplane. Accepted only in the placement
// phase, only for a participant that has not placed yet, and only when
// every cell lies on the board with no overlap inside the plane itself.
// When the second plane lands the game auto-transitions to battle with
// player 1 holding the turn.
func (g *Game) PlacePlane(userID uint, plane Airplane) error {
	if g.Phase != PhasePlacement {
		return NewConflictError("game %d is not in the placement phase", g.ID)
	}
	player := g.PlayerNumber(userID)
	if player == 0 {
		return NewPermissionError("user %d is not a player in game %d", userID, g.ID)
	}
	if existing := g.planeFor(player); existing != nil && existing.Placed {
		return NewConflictError("player %d already placed their airplane", player)
	}

	seen := make(map[Cell]bool)
	for _, cell := range plane.cells() {
		if !cell.InBounds() {
			return NewValidationError("cell %s is outside the %dx%d board", cell, BoardSize, BoardSize)
		}
		if seen[cell] {
			return NewValidationError("cell %s appears twice in the placement", cell)
		}
		seen[cell] = true
	}

	plane.Placed = true
	if player == 1 {
		g.Player1Plane = &plane
	} else {
		g.Player2Plane = &plane
	}

	if g.Player1Plane != nil && g.Player1Plane.Placed &&
		g.Player2Plane != nil && g.Player2Plane.Placed {
		now := time.Now()
		g.Phase = PhaseBattle
		g.CurrentPlayer = 1
		g.StartedAt = &now
	}
	return nil
}

// Attack resolves one shot at cell by userID. Coordinates are validated
// before any outcome is computed, each cell can be attacked at most once,
// and exactly one outcome is recorded per accepted attack. hit_head ends
// the game with the attacker as winner and does not advance the turn;
// every other outcome alternates the turn and bumps the turn count.
func (g *Game) Attack(userID uint, cell Cell) (*AttackResult, error) {
	if g.Phase != PhaseBattle {
		return nil, NewConflictError("game %d is not in the battle phase", g.ID)
	}
	player := g.PlayerNumber(userID)
	if player == 0 {
		return nil, NewPermissionError("user %d is not a player in game %d", userID, g.ID)
	}
	if player != g.CurrentPlayer {
		return nil, NewConflictError("it is not player %d's turn", player)
	}
	if !cell.InBounds() {
		return nil, NewValidationError("cell %s is outside the %dx%d board", cell, BoardSize, BoardSize)
	}
	if g.alreadyAttacked(cell) {
		return nil, NewConflictError("cell %s was already attacked", cell)
	}

	opponent := 3 - player
	target := g.planeFor(opponent)

	outcome := OutcomeMiss
	if cell == target.Head {
		outcome = OutcomeHitHead
	} else if target.covers(cell) {
		outcome = OutcomeHitBody
	}

	g.Attacks = append(g.Attacks, AttackRecord{
		GameID:     g.ID,
		AttackerID: userID,
		X:          cell.X,
		Y:          cell.Y,
		Outcome:    outcome,
		CreatedAt:  time.Now(),
	})

	result := &AttackResult{Cell: cell, Outcome: outcome}

	if outcome == OutcomeHitHead {
		g.finish(&userID)
		result.GameEnded = true
		result.WinnerID = g.WinnerID
		result.NextTurn = 0
		return result, nil
	}

	g.TurnCount++
	g.CurrentPlayer = opponent
	result.NextTurn = g.CurrentPlayer
	return result, nil
}

// Surrender ends the game voluntarily; the opponent wins.
func (g *Game) Surrender(userID uint) error {
	if g.Phase == PhaseFinished {
		return NewConflictError("game %d is already finished", g.ID)
	}
	if g.PlayerNumber(userID) == 0 {
		return NewPermissionError("user %d is not a player in game %d", userID, g.ID)
	}
	winner := g.OpponentID(userID)
	g.finish(&winner)
	return nil
}

// ForceEnd terminates the game administratively. winnerID may be nil when
// no winner applies (e.g. room dissolved during placement).
func (g *Game) ForceEnd(winnerID *uint) error {
	if g.Phase == PhaseFinished {
		return NewConflictError("game %d is already finished", g.ID)
	}
	g.finish(winnerID)
	return nil
}

func (g *Game) alreadyAttacked(cell Cell) bool {
	for i := range g.Attacks {
		if g.Attacks[i].X == cell.X && g.Attacks[i].Y == cell.Y {
			return true
		}
	}
	return false
}

func (g *Game) finish(winnerID *uint) {
	now := time.Now()
	g.Phase = PhaseFinished
	g.WinnerID = winnerID
	g.FinishedAt = &now
	if g.StartedAt != nil {
		g.Duration = int(now.Sub(*g.StartedAt).Seconds())
	}
}
