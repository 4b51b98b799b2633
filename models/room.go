package models

import (
	"time"

	"gorm.io/gorm"
)

const RoomCapacity = 2

// Room visibility.
const (
	RoomPublic  = "public"
	RoomPrivate = "private"
)

// Room status.
const (
	RoomWaiting  = "waiting"
	RoomPlaying  = "playing"
	RoomFinished = "finished"
)

type Room struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	Name       string         `json:"name" gorm:"not null"`
	Type       string         `json:"type" gorm:"not null;default:'public'"` // public, private
	Password   string         `json:"-"`                                     // bcrypt hash, private rooms only
	MaxPlayers int            `json:"max_players" gorm:"not null;default:2"`
	Status     string         `json:"status" gorm:"not null;default:'waiting'"` // waiting, playing, finished
	HostID     uint           `json:"host_id" gorm:"not null"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Members []RoomMember `json:"members,omitempty" gorm:"foreignKey:RoomID"`
}

type RoomMember struct {
	ID        uint           `json:"-" gorm:"primaryKey"`
	RoomID    uint           `json:"-" gorm:"not null;index"`
	UserID    uint           `json:"user_id" gorm:"not null"`
	Slot      int            `json:"slot" gorm:"not null"`
	Ready     bool           `json:"ready" gorm:"not null;default:false"`
	JoinedAt  time.Time      `json:"joined_at"`
	CreatedAt time.Time      `json:"-"`
	UpdatedAt time.Time      `json:"-"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// NewRoom builds a room with the host already seated at slot 1. The
// password is expected to be hashed by the caller; the aggregate only
// enforces that private rooms carry one. No I/O happens here.
func NewRoom(hostID uint, name, roomType, password string) (*Room, error) {
	if name == "" {
		return nil, NewValidationError("room name is required")
	}
	if roomType != RoomPublic && roomType != RoomPrivate {
		return nil, NewValidationError("room type must be public or private")
	}
	if roomType == RoomPrivate && password == "" {
		return nil, NewValidationError("private rooms require a password")
	}

	now := time.Now()
	return &Room{
		Name:       name,
		Type:       roomType,
		Password:   password,
		MaxPlayers: RoomCapacity,
		Status:     RoomWaiting,
		HostID:     hostID,
		Members: []RoomMember{
			{UserID: hostID, Slot: 1, Ready: false, JoinedAt: now},
		},
		UpdatedAt: now,
	}, nil
}

func (r *Room) CurrentPlayers() int {
	return len(r.Members)
}

func (r *Room) IsFull() bool {
	return len(r.Members) >= r.MaxPlayers
}

// Member returns the membership record for userID, or nil.
func (r *Room) Member(userID uint) *RoomMember {
	for i := range r.Members {
		if r.Members[i].UserID == userID {
			return &r.Members[i]
		}
	}
	return nil
}

// AddMember seats userID at the next free slot with ready unset.
func (r *Room) AddMember(userID uint) (*RoomMember, error) {
	if r.Status != RoomWaiting {
		return nil, NewConflictError("room %d is not accepting players", r.ID)
	}
	if r.Member(userID) != nil {
		return nil, NewConflictError("user %d is already a member of room %d", userID, r.ID)
	}
	if r.IsFull() {
		return nil, NewConflictError("room %d is full", r.ID)
	}

	r.Members = append(r.Members, RoomMember{
		RoomID:   r.ID,
		UserID:   userID,
		Slot:     r.nextFreeSlot(),
		Ready:    false,
		JoinedAt: time.Now(),
	})
	r.touch()
	return &r.Members[len(r.Members)-1], nil
}

// RemoveMember drops userID from the room. If the host left and members
// remain, the earliest joiner becomes the new host; the second return
// reports whether that happened. An emptied room is marked finished.
func (r *Room) RemoveMember(userID uint) (newHostID uint, hostChanged bool, err error) {
	idx := -1
	for i := range r.Members {
		if r.Members[i].UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, false, NewConflictError("user %d is not a member of room %d", userID, r.ID)
	}

	r.Members = append(r.Members[:idx], r.Members[idx+1:]...)

	if len(r.Members) == 0 {
		r.Status = RoomFinished
		r.touch()
		return 0, false, nil
	}

	if r.HostID == userID {
		earliest := 0
		for i := range r.Members {
			if r.Members[i].JoinedAt.Before(r.Members[earliest].JoinedAt) {
				earliest = i
			}
		}
		r.HostID = r.Members[earliest].UserID
		r.touch()
		return r.HostID, true, nil
	}

	r.touch()
	return r.HostID, false, nil
}

// SetReady toggles the member's ready flag.
func (r *Room) SetReady(userID uint, ready bool) error {
	m := r.Member(userID)
	if m == nil {
		return NewConflictError("user %d is not a member of room %d", userID, r.ID)
	}
	m.Ready = ready
	r.touch()
	return nil
}

// KickMember removes targetID on behalf of callerID, who must be the host.
func (r *Room) KickMember(callerID, targetID uint) error {
	if callerID != r.HostID {
		return NewPermissionError("only the host can kick players")
	}
	if callerID == targetID {
		return NewValidationError("host cannot kick themselves")
	}
	_, _, err := r.RemoveMember(targetID)
	return err
}

// AllReady reports whether the room is at capacity with every member ready.
func (r *Room) AllReady() bool {
	if len(r.Members) != r.MaxPlayers {
		return false
	}
	for i := range r.Members {
		if !r.Members[i].Ready {
			return false
		}
	}
	return true
}

// StartGame flips the room to playing. No-op unless AllReady.
func (r *Room) StartGame() bool {
	if !r.AllReady() || r.Status != RoomWaiting {
		return false
	}
	r.Status = RoomPlaying
	r.touch()
	return true
}

// Finish marks the room finished after a game concludes or it dissolves.
func (r *Room) Finish() {
	r.Status = RoomFinished
	r.touch()
}

// PlayerNumber maps a member to player 1 or 2 by slot order; 0 if absent.
func (r *Room) PlayerNumber(userID uint) int {
	m := r.Member(userID)
	if m == nil {
		return 0
	}
	return m.Slot
}

func (r *Room) nextFreeSlot() int {
	taken := make(map[int]bool, len(r.Members))
	for i := range r.Members {
		taken[r.Members[i].Slot] = true
	}
	for slot := 1; slot <= r.MaxPlayers; slot++ {
		if !taken[slot] {
			return slot
		}
	}
	return len(r.Members) + 1
}

func (r *Room) touch() {
	r.UpdatedAt = time.Now()
}
